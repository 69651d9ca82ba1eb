// Package memory records notifications instead of delivering them. It backs
// the dry-run mode and the orchestrator tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

// Sink stores notifications for inspection.
type Sink struct {
	mu   sync.RWMutex
	sent []grades.Notification
	err  error
}

var _ grades.NotificationSink = (*Sink)(nil)

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes subsequent Notify calls record the notification and return err.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Notify implements grades.NotificationSink.
func (s *Sink) Notify(_ context.Context, n grades.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

// Notifications returns a copy of what was recorded.
func (s *Sink) Notifications() []grades.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]grades.Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// Len reports how many notifications were recorded.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sent)
}
