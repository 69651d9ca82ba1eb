package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/grades"
)

// InstanceConfig describes one monitored account.
type InstanceConfig struct {
	Name        string
	Credentials grades.Credentials
	// Target is where notifications for this account go (a webhook URL).
	Target     string
	PingPrefix string
	// Terms restricts multi-term accounts; empty means all terms.
	Terms []int
}

// Instance is the runtime state of one account. The session and health
// fields are only touched by the unit of work currently running for it, but
// status readers may look at any time, hence the mutex.
type Instance struct {
	cfg    InstanceConfig
	logger *zap.Logger
	busy   atomic.Bool

	mu            sync.Mutex
	state         HealthState
	session       *grades.Session
	lastRun       time.Time
	lastSuccess   time.Time
	lastError     string
	lastErrorKind grades.Kind
	notified      int
}

// Status is a read-only view of an instance for the status API.
type Status struct {
	Name          string      `json:"name"`
	State         HealthState `json:"state"`
	HasSession    bool        `json:"has_session"`
	Busy          bool        `json:"busy"`
	LastRun       *time.Time  `json:"last_run,omitempty"`
	LastSuccess   *time.Time  `json:"last_success,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	LastErrorKind grades.Kind `json:"last_error_kind,omitempty"`
	Notifications int         `json:"notifications"`
	Terms         []int       `json:"terms,omitempty"`
}

// Name returns the configured instance name.
func (i *Instance) Name() string {
	return i.cfg.Name
}

// State returns the current health state.
func (i *Instance) State() HealthState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) currentSession() *grades.Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.session
}

func (i *Instance) setSession(s *grades.Session) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.session = s
}

// transition moves the instance to next and reports the previous state.
// DEAD is terminal: once there, transition is a no-op.
func (i *Instance) transition(next HealthState) (HealthState, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	prev := i.state
	if prev == StateDead || prev == next {
		return prev, false
	}
	i.state = next
	if next == StateDead {
		i.session = nil
	}
	return prev, true
}

func (i *Instance) recordSuccess(at time.Time, notified int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastRun = at
	i.lastSuccess = at
	i.lastError = ""
	i.lastErrorKind = ""
	i.notified += notified
}

func (i *Instance) recordFailure(at time.Time, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastRun = at
	i.lastError = err.Error()
	i.lastErrorKind = grades.KindOf(err)
}

func (i *Instance) status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	st := Status{
		Name:          i.cfg.Name,
		State:         i.state,
		HasSession:    i.session.Valid(),
		Busy:          i.busy.Load(),
		LastError:     i.lastError,
		LastErrorKind: i.lastErrorKind,
		Notifications: i.notified,
		Terms:         append([]int(nil), i.cfg.Terms...),
	}
	if !i.lastRun.IsZero() {
		t := i.lastRun
		st.LastRun = &t
	}
	if !i.lastSuccess.IsZero() {
		t := i.lastSuccess
		st.LastSuccess = &t
	}
	return st
}
