// Package orchestrator owns the monitored instances, their health state and
// the scrape and recovery cycles that drive them.
//
// Every per-instance failure stops at the orchestration boundary and becomes
// a state transition: a rejected credential makes the instance DEAD, any
// other failure makes it ERROR. Nothing is persisted on a failure path.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/dispatcher"
	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/logging"
	"github.com/JakeFAU/gradewatch/internal/metrics"
	"github.com/JakeFAU/gradewatch/internal/snapshot"
)

// Cycle names used in logs and metrics.
const (
	CycleScrape   = "scrape"
	CycleRecovery = "recovery"
	CyclePrime    = "prime"
)

// SessionChecker confirms whether a session is really gone before the
// orchestrator re-authenticates.
type SessionChecker interface {
	CheckSession(ctx context.Context, sess *grades.Session) (bool, error)
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Auth    grades.Authenticator
	Fetcher grades.SnapshotFetcher
	Store   grades.SnapshotStore
	Sink    grades.NotificationSink
	Gate    *dispatcher.Gate
	Clock   grades.Clock
	IDs     grades.IDGenerator
	Logger  *zap.Logger
	// Checker is optional; without it every expiry triggers re-authentication.
	Checker SessionChecker
}

// Options tune cycle behavior.
type Options struct {
	// SkipOverlapping skips an instance whose previous unit of work is still
	// running when a new cycle selects it.
	SkipOverlapping bool
}

// Orchestrator runs the cycles. It holds no global state, so tests can build
// as many as they like.
type Orchestrator struct {
	deps      Deps
	opts      Options
	logger    *zap.Logger
	instances []*Instance
	byName    map[string]*Instance
}

// New validates the collaborators and builds one Instance per config.
func New(deps Deps, opts Options, configs []InstanceConfig) (*Orchestrator, error) {
	switch {
	case deps.Auth == nil:
		return nil, fmt.Errorf("authenticator is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("snapshot fetcher is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("snapshot store is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("notification sink is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("dispatch gate is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("orchestrator")

	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger,
		byName: make(map[string]*Instance, len(configs)),
	}
	for _, cfg := range configs {
		if err := snapshot.ValidateInstanceName(cfg.Name); err != nil {
			return nil, err
		}
		if _, dup := o.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate instance %q", cfg.Name)
		}
		inst := &Instance{cfg: cfg, logger: logging.ForInstance(logger, cfg.Name), state: StateRunning}
		o.instances = append(o.instances, inst)
		o.byName[cfg.Name] = inst
		metrics.SetInstanceState(cfg.Name, StateRunning.String(), AllStates)
	}
	return o, nil
}

// Instances returns the managed instances in configuration order.
func (o *Orchestrator) Instances() []*Instance {
	return append([]*Instance(nil), o.instances...)
}

// Statuses snapshots every instance.
func (o *Orchestrator) Statuses() []Status {
	out := make([]Status, 0, len(o.instances))
	for _, inst := range o.instances {
		out = append(out, inst.status())
	}
	return out
}

// Status returns the named instance's status.
func (o *Orchestrator) Status(name string) (Status, bool) {
	inst, ok := o.byName[name]
	if !ok {
		return Status{}, false
	}
	return inst.status(), true
}

// Live reports whether any instance can still be scheduled.
func (o *Orchestrator) Live() bool {
	for _, inst := range o.instances {
		if inst.State() != StateDead {
			return true
		}
	}
	return false
}

// Prime authenticates every instance that has no session yet. Rejected
// credentials go straight to DEAD, other failures to ERROR.
func (o *Orchestrator) Prime(ctx context.Context) error {
	cycleID := o.newCycleID()
	metrics.ObserveCycle(CyclePrime)
	var units []dispatcher.Unit
	for _, inst := range o.instances {
		if inst.State() == StateDead || inst.currentSession().Valid() {
			continue
		}
		units = append(units, func(ctx context.Context) {
			log := inst.logger.With(zap.String("cycle_id", cycleID))
			if err := o.authenticate(ctx, inst); err != nil {
				o.fail(inst, log, err)
			}
		})
	}
	err := o.deps.Gate.Dispatch(ctx, units...)

	running := 0
	for _, inst := range o.instances {
		if inst.State() == StateRunning {
			running++
		}
	}
	o.logger.Info(fmt.Sprintf("init done with %d/%d instances running", running, len(o.instances)),
		zap.String("cycle_id", cycleID))
	return err
}

// ScrapeCycle runs one scrape for every RUNNING instance.
func (o *Orchestrator) ScrapeCycle(ctx context.Context) error {
	return o.cycle(ctx, CycleScrape, StateRunning)
}

// RecoveryCycle re-runs the scrape for every ERROR instance; success brings
// it back to RUNNING.
func (o *Orchestrator) RecoveryCycle(ctx context.Context) error {
	return o.cycle(ctx, CycleRecovery, StateError)
}

func (o *Orchestrator) cycle(ctx context.Context, name string, eligible HealthState) error {
	cycleID := o.newCycleID()
	metrics.ObserveCycle(name)
	log := o.logger.With(zap.String("cycle", name), zap.String("cycle_id", cycleID))

	var units []dispatcher.Unit
	for _, inst := range o.instances {
		if inst.State() != eligible {
			continue
		}
		units = append(units, func(ctx context.Context) {
			o.runUnit(ctx, inst, name, eligible, cycleID)
		})
	}
	log.Debug("cycle dispatching", zap.Int("instances", len(units)))
	start := time.Now()
	err := o.deps.Gate.Dispatch(ctx, units...)
	log.Debug("cycle finished", zap.Duration("duration", time.Since(start)), zap.Error(err))
	return err
}

func (o *Orchestrator) runUnit(ctx context.Context, inst *Instance, cycle string, eligible HealthState, cycleID string) {
	log := inst.logger.With(zap.String("cycle", cycle), zap.String("cycle_id", cycleID))
	if o.opts.SkipOverlapping {
		if !inst.busy.CompareAndSwap(false, true) {
			log.Info("previous run still in flight, skipping")
			metrics.ObserveInstanceRun(inst.Name(), "skipped")
			return
		}
		defer inst.busy.Store(false)
	}
	// The state may have moved while the unit waited for a slot.
	if inst.State() != eligible {
		return
	}

	notified, err := o.scrape(ctx, inst, cycleID, log)
	if err != nil {
		o.fail(inst, log, err)
		metrics.ObserveInstanceRun(inst.Name(), "failure")
		return
	}
	inst.recordSuccess(o.deps.Clock.Now(), notified)
	metrics.ObserveInstanceRun(inst.Name(), "success")
	if cycle == CycleRecovery {
		o.transition(inst, log, StateRunning)
	}
}

// scrape is the sequential per-instance work: session, fetch, compare,
// notify, persist. It returns how many notifications were attempted.
func (o *Orchestrator) scrape(ctx context.Context, inst *Instance, cycleID string, log *zap.Logger) (int, error) {
	if !inst.currentSession().Valid() {
		if err := o.authenticate(ctx, inst); err != nil {
			return 0, err
		}
	}

	snap, err := o.fetch(ctx, inst, log)
	if err != nil {
		return 0, err
	}

	first, err := o.deps.Store.IsFirstRun(ctx, inst.Name())
	if err != nil {
		return 0, err
	}
	if first {
		if err := o.deps.Store.Save(ctx, inst.Name(), snap); err != nil {
			return 0, err
		}
		log.Info("first run, snapshot saved", zap.Int("resources", len(snap)))
		return 0, nil
	}

	unchanged, err := o.deps.Store.IsUnchanged(ctx, inst.Name(), snap)
	if err != nil {
		return 0, err
	}
	if unchanged {
		log.Debug("snapshot unchanged")
		return 0, nil
	}

	previous, err := o.deps.Store.Load(ctx, inst.Name())
	if err != nil {
		return 0, err
	}
	changes := grades.Diff(previous, snap)
	now := o.deps.Clock.Now()
	for _, change := range changes {
		n := grades.BuildNotification(inst.Name(), inst.cfg.Target, inst.cfg.PingPrefix, change)
		n.CycleID = cycleID
		n.DetectedAt = now
		if err := o.deps.Sink.Notify(ctx, n); err != nil {
			log.Error("notification failed",
				zap.String("resource", change.ResourceCode),
				zap.Int64("evaluation_id", change.Evaluation.ID),
				zap.Error(err))
			metrics.ObserveNotification("failure")
			continue
		}
		metrics.ObserveNotification("success")
	}

	if err := o.deps.Store.Save(ctx, inst.Name(), snap); err != nil {
		return len(changes), err
	}
	log.Info("snapshot updated", zap.Int("new_evaluations", len(changes)))
	return len(changes), nil
}

// fetch retrieves the snapshot, re-authenticating and retrying exactly once
// if the portal reports the session expired.
func (o *Orchestrator) fetch(ctx context.Context, inst *Instance, log *zap.Logger) (grades.Snapshot, error) {
	snap, err := o.deps.Fetcher.FetchSnapshot(ctx, inst.currentSession(), inst.cfg.Terms)
	if !grades.IsKind(err, grades.KindSessionExpired) {
		return snap, err
	}

	if o.deps.Checker != nil {
		alive, cerr := o.deps.Checker.CheckSession(ctx, inst.currentSession())
		if cerr == nil && alive {
			// The portal redirected a session it still accepts; re-auth would not help.
			return nil, err
		}
	}
	log.Info("session expired, re-authenticating")
	if err := o.authenticate(ctx, inst); err != nil {
		return nil, err
	}
	snap, err = o.deps.Fetcher.FetchSnapshot(ctx, inst.currentSession(), inst.cfg.Terms)
	if err != nil {
		return nil, fmt.Errorf("fetch after re-authentication: %w", err)
	}
	return snap, nil
}

func (o *Orchestrator) authenticate(ctx context.Context, inst *Instance) error {
	var tgc string
	if prev := inst.currentSession(); prev != nil {
		tgc = prev.TicketGrantingCookie
	}
	sess, err := o.deps.Auth.Authenticate(ctx, inst.cfg.Credentials, tgc)
	if err != nil {
		inst.setSession(nil)
		return err
	}
	inst.setSession(sess)
	return nil
}

func (o *Orchestrator) fail(inst *Instance, log *zap.Logger, err error) {
	inst.recordFailure(o.deps.Clock.Now(), err)
	fields := []zap.Field{zap.Error(err), zap.String("kind", string(grades.KindOf(err)))}
	if detail := grades.DetailOf(err); detail != "" {
		fields = append(fields, zap.String("detail", detail))
	}

	if !grades.IsRetryable(err) {
		log.Error("non-retryable failure", fields...)
		o.transition(inst, log, StateDead)
		return
	}
	log.Error("instance run failed", fields...)
	o.transition(inst, log, StateError)
}

func (o *Orchestrator) transition(inst *Instance, log *zap.Logger, next HealthState) {
	prev, changed := inst.transition(next)
	if !changed {
		return
	}
	metrics.SetInstanceState(inst.Name(), next.String(), AllStates)
	log.Info("state transition", zap.Stringer("from", prev), zap.Stringer("to", next))
}

func (o *Orchestrator) newCycleID() string {
	id, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Warn("cycle id generation failed", zap.Error(err))
		return ""
	}
	return id
}
