package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

func TestSinkRecordsCopies(t *testing.T) {
	t.Parallel()

	sink := New()
	require.NoError(t, sink.Notify(context.Background(), grades.Notification{Instance: "a", ResourceCode: "R1"}))
	require.NoError(t, sink.Notify(context.Background(), grades.Notification{Instance: "a", ResourceCode: "R2"}))

	got := sink.Notifications()
	require.Len(t, got, 2)
	require.Equal(t, "R2", got[1].ResourceCode)

	got[0].ResourceCode = "modified"
	require.Equal(t, "R1", sink.Notifications()[0].ResourceCode)
}

func TestSinkFailWith(t *testing.T) {
	t.Parallel()

	sink := New()
	boom := errors.New("webhook down")
	sink.FailWith(boom)
	require.ErrorIs(t, sink.Notify(context.Background(), grades.Notification{}), boom)
	require.Equal(t, 1, sink.Len())
}
