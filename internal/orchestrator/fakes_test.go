package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/dispatcher"
	"github.com/JakeFAU/gradewatch/internal/grades"
	notifymemory "github.com/JakeFAU/gradewatch/internal/notify/memory"
	"github.com/JakeFAU/gradewatch/internal/snapshot"
	"github.com/JakeFAU/gradewatch/internal/storage/memory"
)

type fakeAuth struct {
	mu       sync.Mutex
	calls    map[string]int
	tgcs     []string
	rejected map[string]bool
	failing  map[string]error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{calls: map[string]int{}, rejected: map[string]bool{}, failing: map[string]error{}}
}

func (a *fakeAuth) Authenticate(_ context.Context, creds grades.Credentials, tgc string) (*grades.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[creds.Username]++
	a.tgcs = append(a.tgcs, tgc)
	if a.rejected[creds.Username] {
		return nil, grades.NewError(grades.KindAuthRejected, "invalid credentials", nil)
	}
	if err := a.failing[creds.Username]; err != nil {
		return nil, err
	}
	n := a.calls[creds.Username]
	return &grades.Session{
		SessionID:            fmt.Sprintf("%s#%d", creds.Username, n),
		ServiceRootURL:       "https://notes.example.edu",
		TicketGrantingCookie: "TGC=" + creds.Username,
	}, nil
}

func (a *fakeAuth) count(user string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[user]
}

type fetchFunc func(ctx context.Context, user string, sess *grades.Session) (grades.Snapshot, error)

type fakeFetcher struct {
	fn      fetchFunc
	calls   atomic.Int32
	current atomic.Int32
	peak    atomic.Int32
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, sess *grades.Session, _ []int) (grades.Snapshot, error) {
	f.calls.Add(1)
	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if !sess.Valid() {
		return nil, grades.NewError(grades.KindSessionExpired, "no session", nil)
	}
	user, _, _ := strings.Cut(sess.SessionID, "#")
	return f.fn(ctx, user, sess)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("cycle-%d", s.n.Add(1)), nil
}

type fakeChecker struct{ alive bool }

func (c fakeChecker) CheckSession(context.Context, *grades.Session) (bool, error) {
	return c.alive, nil
}

func evaluation(id int64) grades.Evaluation {
	return grades.Evaluation{
		ID:        id,
		Coef:      "1",
		Date:      "2024-10-01",
		StartTime: "08:00",
		EndTime:   "10:00",
		Grade:     grades.Grade{Max: "18", Min: "3", Mean: "11", Value: "12"},
		Weights:   map[string]float64{"UE1": 1, "UE2": 0.5},
		URL:       fmt.Sprintf("/ev/%d", id),
	}
}

// snap builds a snapshot from resource code to evaluation ids.
func snap(resources map[string][]int64) grades.Snapshot {
	out := grades.Snapshot{}
	i := int64(0)
	for code, ids := range resources {
		i++
		evals := make([]grades.Evaluation, 0, len(ids))
		for _, id := range ids {
			evals = append(evals, evaluation(id))
		}
		out[code] = grades.Resource{ID: i, Title: "Title " + code, URL: "/" + code, Evaluations: evals}
	}
	return out
}

type harness struct {
	orch    *Orchestrator
	auth    *fakeAuth
	fetcher *fakeFetcher
	store   *snapshot.Store
	sink    *notifymemory.Sink
	gate    *dispatcher.Gate
}

type harnessOpt func(*Deps, *Options)

func withChecker(c SessionChecker) harnessOpt {
	return func(d *Deps, _ *Options) { d.Checker = c }
}

func withoutOverlapGuard() harnessOpt {
	return func(_ *Deps, o *Options) { o.SkipOverlapping = false }
}

func newHarness(t *testing.T, capacity int, fn fetchFunc, names []string, opts ...harnessOpt) *harness {
	t.Helper()
	gate, err := dispatcher.New(capacity)
	require.NoError(t, err)
	h := &harness{
		auth:    newFakeAuth(),
		fetcher: &fakeFetcher{fn: fn},
		store:   snapshot.New(memory.NewBlobStore(), nil, nil),
		sink:    notifymemory.New(),
		gate:    gate,
	}
	deps := Deps{
		Auth:    h.auth,
		Fetcher: h.fetcher,
		Store:   h.store,
		Sink:    h.sink,
		Gate:    gate,
		Clock:   fixedClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		IDs:     &seqIDs{},
		Logger:  zap.NewNop(),
	}
	options := Options{SkipOverlapping: true}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	configs := make([]InstanceConfig, 0, len(names))
	for _, name := range names {
		configs = append(configs, InstanceConfig{
			Name:        name,
			Credentials: grades.Credentials{Username: name, Password: "pw"},
			Target:      "https://discord.example/" + name,
			PingPrefix:  "@" + name,
		})
	}
	h.orch, err = New(deps, options, configs)
	require.NoError(t, err)
	return h
}

func (h *harness) state(t *testing.T, name string) HealthState {
	t.Helper()
	st, ok := h.orch.Status(name)
	require.True(t, ok)
	return st.State
}
