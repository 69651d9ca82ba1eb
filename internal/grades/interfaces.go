package grades

import (
	"context"
	"time"
)

// Authenticator turns credentials into a portal session. A non-empty
// ticket-granting cookie from a previous session may let it skip the form.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials, ticketGrantingCookie string) (*Session, error)
}

// SnapshotFetcher retrieves the current grades for a session.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, session *Session, terms []int) (Snapshot, error)
}

// SnapshotStore persists the last known snapshot per instance.
type SnapshotStore interface {
	IsFirstRun(ctx context.Context, instance string) (bool, error)
	Load(ctx context.Context, instance string) (Snapshot, error)
	Save(ctx context.Context, instance string, snap Snapshot) error
	IsUnchanged(ctx context.Context, instance string, candidate Snapshot) (bool, error)
}

// NotificationSink delivers one message per new evaluation.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}
