// Package server provides the application composition root: it builds every
// collaborator from config, runs the scheduler and status server, and shuts
// them down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gradewatch/internal/api"
	"github.com/JakeFAU/gradewatch/internal/auth"
	"github.com/JakeFAU/gradewatch/internal/clock/system"
	"github.com/JakeFAU/gradewatch/internal/config"
	"github.com/JakeFAU/gradewatch/internal/dispatcher"
	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/hash/sha256"
	"github.com/JakeFAU/gradewatch/internal/id/uuid"
	"github.com/JakeFAU/gradewatch/internal/logging"
	"github.com/JakeFAU/gradewatch/internal/metrics"
	"github.com/JakeFAU/gradewatch/internal/notify"
	notifymemory "github.com/JakeFAU/gradewatch/internal/notify/memory"
	pgnotify "github.com/JakeFAU/gradewatch/internal/notify/postgres"
	pubsubnotify "github.com/JakeFAU/gradewatch/internal/notify/pubsub"
	"github.com/JakeFAU/gradewatch/internal/orchestrator"
	"github.com/JakeFAU/gradewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/gradewatch/internal/portal"
	"github.com/JakeFAU/gradewatch/internal/scheduler"
	"github.com/JakeFAU/gradewatch/internal/snapshot"
	"github.com/JakeFAU/gradewatch/internal/snapshot/redisindex"
	"github.com/JakeFAU/gradewatch/internal/storage"
	gcsstorage "github.com/JakeFAU/gradewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gradewatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/gradewatch/internal/storage/memory"
	"github.com/JakeFAU/gradewatch/internal/transport"
)

// Job names registered with the scheduler.
const (
	jobScrape   = "scrape"
	jobRecovery = "recovery"
)

const webhookTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	orch      *orchestrator.Orchestrator
	sched     *scheduler.Scheduler
	apiServer *api.Server

	dryRun          *notifymemory.Sink
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *gstorage.Client
	redisIndex      *redisindex.Index
	historySink     *pgnotify.Sink
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()
	metrics.Init()

	logger.Info("building application dependencies",
		zap.Int("instances", len(cfg.Instances)),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("hash_index", cfg.HashIndex.Backend),
		zap.Bool("dry_run", cfg.Notify.DryRun),
	)

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	index := setupIndex(app)
	store := snapshot.New(blobs, index, sha256.New(),
		snapshot.WithPrefix(cfg.Storage.Prefix),
		snapshot.WithLogger(logger.Named("snapshot")),
	)

	sink, err := setupSinks(ctx, app)
	if err != nil {
		return nil, err
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}
	httpClient := transport.New(transport.Config{Timeout: cfg.HTTPTimeout(), Limiter: limiter})

	gateway := auth.NewGateway(auth.Config{
		LoginURL:      cfg.Portal.LoginURL,
		ServiceURL:    cfg.Portal.ServiceURL,
		SessionCookie: cfg.Portal.SessionCookie,
		UserAgent:     cfg.Portal.UserAgent,
	}, httpClient, auth.NewTokenExtractor(), logger)
	portalClient := portal.New(portal.Config{
		ServiceURL:    cfg.Portal.ServiceURL,
		SessionCookie: cfg.Portal.SessionCookie,
		UserAgent:     cfg.Portal.UserAgent,
	}, httpClient, logger)

	gate, err := dispatcher.New(cfg.Scheduler.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("dispatch gate init failed: %w", err)
	}

	app.orch, err = orchestrator.New(orchestrator.Deps{
		Auth:    gateway,
		Fetcher: portalClient,
		Store:   store,
		Sink:    sink,
		Gate:    gate,
		Clock:   system.New(cfg.Location()),
		IDs:     uuid.New(),
		Logger:  logger,
		Checker: portalClient,
	}, orchestrator.Options{SkipOverlapping: cfg.Scheduler.SkipOverlapping}, instanceConfigs(cfg))
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	app.sched = scheduler.New(cfg.Location(), logger)
	if err := app.bindJobs(); err != nil {
		return nil, err
	}

	apiOpts := []api.Option{api.WithAPIKey(cfg.Server.APIKey), api.WithGate(gate)}
	if app.redisIndex != nil {
		apiOpts = append(apiOpts, api.WithReadinessCheck("redis", app.redisIndex.Ping))
	}
	app.apiServer = api.NewServer(app.orch, logger, apiOpts...)

	return app, nil
}

func instanceConfigs(cfg *config.Config) []orchestrator.InstanceConfig {
	out := make([]orchestrator.InstanceConfig, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		out = append(out, orchestrator.InstanceConfig{
			Name:        inst.Name,
			Credentials: grades.Credentials{Username: inst.Username, Password: inst.Password},
			Target:      inst.Webhook,
			PingPrefix:  inst.PingPrefix,
			Terms:       inst.Terms,
		})
	}
	return out
}

func (a *App) bindJobs() error {
	scrape := func(ctx context.Context) {
		if err := a.orch.ScrapeCycle(ctx); err != nil {
			a.logger.Warn("scrape cycle interrupted", zap.Error(err))
		}
	}
	recovery := func(ctx context.Context) {
		if err := a.orch.RecoveryCycle(ctx); err != nil {
			a.logger.Warn("recovery cycle interrupted", zap.Error(err))
		}
	}
	if err := a.sched.Bind(jobScrape, a.cfg.Scheduler.ScrapeCron, scrape, a.cfg.Scheduler.RunOnStart); err != nil {
		return fmt.Errorf("bind scrape job: %w", err)
	}
	if err := a.sched.Bind(jobRecovery, a.cfg.Scheduler.RecoveryCron, recovery, false); err != nil {
		return fmt.Errorf("bind recovery job: %w", err)
	}
	return nil
}

// Orchestrator exposes the orchestrator, mainly for the once command.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Run primes every instance, starts the cycles and the status server, and
// blocks until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	if err := a.orch.Prime(ctx); err != nil {
		a.logger.Warn("startup priming interrupted", zap.Error(err))
	}
	if !a.orch.Live() {
		a.logger.Error("every instance is dead, nothing to schedule")
	}
	a.sched.Start()
	for _, name := range []string{jobScrape, jobRecovery} {
		if next, ok := a.sched.Next(name); ok {
			a.logger.Info("job scheduled", zap.String("job", name), zap.Time("next", next))
		}
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop timed out", zap.Error(err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return a.Close(shutdownCtx)
}

// RunOnce primes every instance and runs a single scrape cycle.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.orch.Prime(ctx); err != nil {
		return fmt.Errorf("prime instances: %w", err)
	}
	if err := a.orch.ScrapeCycle(ctx); err != nil {
		return fmt.Errorf("scrape cycle: %w", err)
	}
	for _, st := range a.orch.Statuses() {
		a.logger.Info("instance status",
			zap.String("instance", st.Name),
			zap.Stringer("state", st.State),
			zap.Int("notifications", st.Notifications),
			zap.String("last_error", st.LastError),
		)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.redisIndex != nil {
		if err := a.redisIndex.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
		a.redisIndex = nil
	}
	if a.historySink != nil {
		a.historySink.Close()
		a.historySink = nil
	}
}

func setupStorage(ctx context.Context, app *App) (storage.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Warn("using in-memory storage backend, snapshots will not survive a restart")
		return memorystorage.NewBlobStore(), nil
	}
}

// setupIndex returns nil for the blob backend, which makes the snapshot store
// keep its index file next to the snapshots.
func setupIndex(app *App) snapshot.HashIndex {
	if app.cfg.HashIndex.Backend != "redis" {
		return nil
	}
	rc := app.cfg.HashIndex.Redis
	app.redisIndex = redisindex.New(rc.Addr, rc.Password, rc.DB, redisindex.WithKey(rc.Key))
	app.logger.Info("using redis hash index", zap.String("addr", rc.Addr), zap.String("key", rc.Key))
	return app.redisIndex
}

func setupSinks(ctx context.Context, app *App) (grades.NotificationSink, error) {
	cfg := app.cfg.Notify
	sinks := notify.Multi{notify.NewLogSink(app.logger)}

	if cfg.DryRun {
		app.dryRun = notifymemory.New()
		app.logger.Warn("dry run: notifications are recorded and logged only")
		return append(sinks, app.dryRun), nil
	}

	if cfg.Discord.Enabled {
		sinks = append(sinks, notify.NewDiscord(transport.New(transport.Config{Timeout: webhookTimeout})))
		app.logger.Info("discord webhook sink enabled")
	}

	if cfg.PubSub.TopicName != "" && cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = client.Publisher(cfg.PubSub.TopicName)
		app.pubsubPublisher.EnableMessageOrdering = true
		sinks = append(sinks, pubsubnotify.New(app.pubsubPublisher))
		app.logger.Info("Pub/Sub sink enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	if cfg.Database.DSN != "" {
		history, err := pgnotify.New(ctx, pgnotify.Config{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("grade history sink init failed: %w", err)
		}
		app.historySink = history
		sinks = append(sinks, history)
		app.logger.Info("grade history sink enabled", zap.String("table", cfg.Database.Table))
	}

	return sinks, nil
}
