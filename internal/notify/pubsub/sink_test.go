package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/notify"
)

func notification() grades.Notification {
	return grades.Notification{
		Instance:     "alice",
		Target:       "https://discord.example/secret",
		ResourceCode: "R101",
		Resource:     grades.Resource{Title: "Algo"},
		Evaluation:   grades.Evaluation{ID: 9, Grade: grades.Grade{Mean: "12"}},
		Affectation:  "UE1",
	}
}

func TestSinkPublishesEvent(t *testing.T) {
	t.Parallel()

	var got *pubsub.Message
	sink := &Sink{publish: func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "server-id-1", nil
	}}
	require.NoError(t, sink.Notify(context.Background(), notification()))

	require.NotNil(t, got)
	assert.Equal(t, "alice", got.OrderingKey)
	assert.Equal(t, "9", got.Attributes["evaluation_id"])
	assert.Equal(t, "R101", got.Attributes["resource_code"])

	var ev notify.Event
	require.NoError(t, json.Unmarshal(got.Data, &ev))
	assert.Equal(t, "Algo", ev.ResourceTitle)
	assert.Equal(t, "12", ev.Mean)
	assert.NotContains(t, string(got.Data), "secret")
}

func TestSinkPublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("unavailable")
	sink := &Sink{publish: func(context.Context, *pubsub.Message) (string, error) {
		return "", boom
	}}
	require.ErrorIs(t, sink.Notify(context.Background(), notification()), boom)
}

func TestNewWithoutPublisher(t *testing.T) {
	t.Parallel()

	require.Error(t, New(nil).Notify(context.Background(), notification()))
}
