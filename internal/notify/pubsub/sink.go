// Package pubsub publishes grade events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/notify"
)

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Sink wraps a Pub/Sub topic publisher.
type Sink struct {
	publish publishFunc
}

var _ grades.NotificationSink = (*Sink)(nil)

// New creates a Sink for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Sink {
	return &Sink{publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
		if publisher == nil {
			return "", fmt.Errorf("pubsub publisher is not configured")
		}
		return publisher.Publish(ctx, msg).Get(ctx)
	}}
}

// Notify marshals the event to JSON and waits for the server ID. Messages for
// one instance share an ordering key.
func (s *Sink) Notify(ctx context.Context, n grades.Notification) error {
	msg, err := buildMessage(n)
	if err != nil {
		return err
	}
	if _, err := s.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish grade event: %w", err)
	}
	return nil
}

func buildMessage(n grades.Notification) (*pubsub.Message, error) {
	data, err := json.Marshal(notify.NewEvent(n))
	if err != nil {
		return nil, fmt.Errorf("marshal grade event: %w", err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"instance":      n.Instance,
			"resource_code": n.ResourceCode,
			"evaluation_id": strconv.FormatInt(n.Evaluation.ID, 10),
		},
		OrderingKey: n.Instance,
	}, nil
}
