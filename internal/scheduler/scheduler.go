// Package scheduler fires the recurring scrape and recovery cycles.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a recurring unit of work. ctx is canceled on Stop.
type Job func(ctx context.Context)

// ValidateSpec checks a five-field cron expression.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Scheduler binds named jobs to cron expressions evaluated in one timezone.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
	startup []namedJob
	running sync.WaitGroup
}

type namedJob struct {
	name string
	job  Job
}

// New creates a Scheduler. A nil location means the process local zone.
func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	logger = logger.Named("scheduler")
	cronLog := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Bind registers job under name. With runNow the job also fires once when
// the scheduler starts.
func (s *Scheduler) Bind(name, spec string, job Job, runNow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %q already bound", name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.running.Add(1)
		defer s.running.Done()
		s.fire(name, job)
	})
	if err != nil {
		return fmt.Errorf("bind job %q: %w", name, err)
	}
	s.entries[name] = id
	if runNow {
		s.startup = append(s.startup, namedJob{name: name, job: job})
	}
	s.logger.Info("job bound", zap.String("job", name), zap.String("schedule", spec), zap.Bool("run_now", runNow))
	return nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	startup := s.startup
	s.startup = nil
	s.mu.Unlock()

	s.cron.Start()
	for _, nj := range startup {
		s.running.Add(1)
		go func(nj namedJob) {
			defer s.running.Done()
			s.fire(nj.name, nj.job)
		}(nj)
	}
}

// Next returns the next activation of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Stop prevents new activations, cancels running jobs and waits for them
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func (s *Scheduler) fire(name string, job Job) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Debug("job started", zap.String("job", name))
	job(s.ctx)
	s.logger.Debug("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
