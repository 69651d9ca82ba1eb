package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

// LogSink writes notifications to the service log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Notify implements grades.NotificationSink.
func (s *LogSink) Notify(_ context.Context, n grades.Notification) error {
	s.logger.Info("new grade",
		zap.String("instance", n.Instance),
		zap.String("resource", n.ResourceCode),
		zap.Int64("evaluation_id", n.Evaluation.ID),
		zap.String("description", n.Evaluation.Description),
		zap.String("mean", n.Evaluation.Grade.Mean),
		zap.String("affectation", n.Affectation))
	return nil
}
