package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bnema/waybar-pulse/internal/api"
	"github.com/bnema/waybar-pulse/internal/auth"
	"github.com/bnema/waybar-pulse/internal/config"
	"github.com/bnema/waybar-pulse/internal/credentials"
	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/metrics"
	"github.com/bnema/waybar-pulse/internal/notifier"
	"github.com/bnema/waybar-pulse/internal/refresh"
	"github.com/bnema/waybar-pulse/internal/security"
	"github.com/bnema/waybar-pulse/internal/snapshot"
	"github.com/bnema/waybar-pulse/internal/waybar"
)

// Version is reported in the User-Agent and set from main
var Version = "dev"

// Options configures New
type Options struct {
	Config   *config.Config
	CacheDir string
	Verbose  bool

	// Synchronous runs orchestrator background work inline, for one-shot
	// CLI commands that exit right after
	Synchronous bool

	// Overrides for tests
	Credentials auth.CredentialStore
	API         auth.API
	Signaler    refresh.Signaler
	Now         func() time.Time
}

// Application wires the GitHub client, stores, orchestrator and scheduler
type Application struct {
	cfg         *config.Config
	cacheDir    string
	synchronous bool

	secLogger *security.SecureLogger
	metrics   *metrics.Metrics

	client       *github.Client
	credentials  auth.CredentialStore
	snapshot     *snapshot.Store
	orchestrator *auth.Orchestrator
	scheduler    *refresh.Scheduler
	signaler     refresh.Signaler
	notifier     *notifier.Notifier

	handled chan bool
}

// New creates an Application. Call Close when done.
func New(opts Options) (*Application, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.CacheDir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(opts.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cfg := opts.Config
	app := &Application{
		cfg:         cfg,
		cacheDir:    opts.CacheDir,
		synchronous: opts.Synchronous,
		secLogger: security.NewSecureLoggerWithOptions(security.LoggerOptions{
			Enabled: opts.Verbose,
			Level:   logger.ParseLevel(cfg.Log.Level),
		}),
		metrics: metrics.New(),
		handled: make(chan bool, 1),
	}

	if err := app.initStores(opts); err != nil {
		return nil, err
	}

	apiClient := opts.API
	if apiClient == nil {
		app.client = github.NewClient(github.Options{
			HTTPClient: security.NewHTTPClient(security.HTTPClientOptions{
				Timeout:   cfg.GitHub.RequestTimeout,
				UserAgent: "waybar-pulse/" + Version,
			}),
			DeviceCodeURL:     cfg.GitHub.DeviceCodeURL,
			TokenURL:          cfg.GitHub.TokenURL,
			APIURL:            cfg.GitHub.APIURL,
			Scopes:            cfg.GitHub.Scopes,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			Logger:            app.secLogger,
		})
		apiClient = app.client
	}

	app.signaler = opts.Signaler
	if app.signaler == nil {
		app.signaler = notifier.NewWaybarSignaler(cfg.Waybar.Signal)
	}
	app.notifier = notifier.New(cfg.Daemon.Notifications)

	orchOpts := auth.Options{
		ClientID:       cfg.GitHub.ClientID,
		FirstPollDelay: cfg.Auth.FirstPollDelay,
		Metrics:        app.metrics,
		Logger:         app.secLogger,
		Now:            opts.Now,
	}
	if opts.Synchronous {
		orchOpts.Spawn = func(f func()) { f() }
	}
	app.orchestrator = auth.New(apiClient, app.credentials, orchOpts)

	app.scheduler = refresh.New(app.orchestrator, app.snapshot, app.signaler, refresh.Options{
		Interval:     cfg.Refresh.Interval,
		StartupDelay: cfg.Refresh.StartupDelay,
		MaxAge:       cfg.Refresh.MaxAge,
		Metrics:      app.metrics,
		Now:          opts.Now,
	})

	return app, nil
}

func (app *Application) initStores(opts Options) error {
	app.credentials = opts.Credentials
	if app.credentials == nil {
		store, err := credentials.Open(app.cfg.Credentials.Backend, app.cacheDir, app.secLogger)
		if err != nil {
			return fmt.Errorf("failed to open credential store: %w", err)
		}
		app.credentials = store
	}

	var snapOpts []snapshot.Option
	if opts.Now != nil {
		snapOpts = append(snapOpts, snapshot.WithClock(opts.Now))
	}
	store, err := snapshot.Open(snapshot.DefaultPath(app.cacheDir), snapOpts...)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	app.snapshot = store
	return nil
}

// Load derives the sign-in state from the credential store without telling
// the scheduler about it
func (app *Application) Load() {
	app.orchestrator.Init()
}

// WatchAuthentication forwards sign-in and sign-out transitions to the
// scheduler, on a goroutine unless the app is synchronous
func (app *Application) WatchAuthentication(ctx context.Context) {
	handle := func(authenticated bool) {
		app.scheduler.OnAuthenticationChanged(ctx, authenticated)
		select {
		case app.handled <- authenticated:
		default:
		}
	}

	app.orchestrator.SetAuthenticationListener(func(authenticated bool) {
		if app.synchronous {
			handle(authenticated)
			return
		}
		go handle(authenticated)
	})
}

// AuthenticationHandled receives after the scheduler has reacted to a sign-in
// (first refresh done) or a sign-out (snapshot cleared)
func (app *Application) AuthenticationHandled() <-chan bool {
	return app.handled
}

// RunDaemon runs the refresh scheduler and the control API until ctx is done
func (app *Application) RunDaemon(ctx context.Context) error {
	if err := app.cfg.RequireClientID(); err != nil {
		logger.Warn("Sign-in through the control API is unavailable", "error", err)
	}

	logger.Info("Starting daemon", "version", Version, "config", app.cfg.Sanitize())

	// Watch after Load so a stored sign-in goes through the scheduler's
	// freshness check instead of forcing a fetch on every start
	app.Load()
	app.WatchAuthentication(ctx)

	if _, ok := app.credentials.Token(); !ok && app.snapshot.IsAuthenticated() {
		logger.Info("No stored token, clearing leftover snapshot")
		app.scheduler.OnAuthenticationChanged(ctx, false)
	}

	status := app.orchestrator.Status()
	unsubscribe := app.orchestrator.Subscribe(app.notifier.HandleStatus(&status))
	defer unsubscribe()

	if err := app.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start refresh scheduler: %w", err)
	}
	defer app.scheduler.Stop()

	if addr := app.cfg.Daemon.ListenAddr; addr != "" {
		server := api.New(app.orchestrator, app.scheduler, app.snapshot, api.Options{
			Addr:    addr,
			Metrics: app.metrics,
			Now:     time.Now,
		})
		if err := server.Serve(ctx); err != nil {
			return err
		}
		logger.Info("Daemon stopped")
		return nil
	}

	<-ctx.Done()
	logger.Info("Daemon stopped")
	return nil
}

// Close stops the orchestrator and releases the stores
func (app *Application) Close() error {
	app.orchestrator.Close()
	if app.client != nil {
		app.client.Close()
	}
	return app.snapshot.Close()
}

// Provider builds the widget entry provider from the waybar config
func (app *Application) Provider() *waybar.Provider {
	return waybar.NewProvider(app.snapshot, app.cfg.Waybar.StaleAfter)
}

func (app *Application) Config() *config.Config           { return app.cfg }
func (app *Application) Orchestrator() *auth.Orchestrator { return app.orchestrator }
func (app *Application) Scheduler() *refresh.Scheduler    { return app.scheduler }
func (app *Application) Snapshot() *snapshot.Store        { return app.snapshot }
func (app *Application) Metrics() *metrics.Metrics        { return app.metrics }
