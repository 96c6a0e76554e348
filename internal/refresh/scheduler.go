package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/metrics"
)

const (
	DefaultInterval     = 2 * time.Hour
	DefaultStartupDelay = 5 * time.Second
	DefaultMaxAge       = 4 * time.Hour
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler
	ErrAlreadyRunning = errors.New("refresh scheduler already running")

	// ErrSuperseded is returned by Refresh when the user signed out or in
	// again while the fetch was running. The result is dropped.
	ErrSuperseded = errors.New("refresh superseded by an authentication change")
)

// Fetcher knows whether a user is signed in and fetches their calendar
type Fetcher interface {
	IsAuthenticated() bool
	FetchContributions(ctx context.Context) (*github.Contributions, error)
}

// SnapshotStore is where fetched calendars are published
type SnapshotStore interface {
	Save(c *github.Contributions) error
	IsFresh(maxAge time.Duration) bool
	ClearAll() error
}

// Signaler tells the display surface to re-read the snapshot
type Signaler interface {
	Reload(ctx context.Context) error
}

// Options configures a Scheduler. Zero durations use the defaults.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	MaxAge       time.Duration
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Scheduler refreshes the contribution snapshot once shortly after start
// and then on a fixed period, skipping refreshes while the data is fresh.
type Scheduler struct {
	fetcher  Fetcher
	store    SnapshotStore
	signaler Signaler

	interval     time.Duration
	startupDelay time.Duration
	maxAge       time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time

	group singleflight.Group

	// authMu orders snapshot writes against authentication changes. epoch
	// counts those changes.
	authMu sync.Mutex
	epoch  uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler
func New(fetcher Fetcher, store SnapshotStore, signaler Signaler, opts Options) *Scheduler {
	s := &Scheduler{
		fetcher:      fetcher,
		store:        store,
		signaler:     signaler,
		interval:     opts.Interval,
		startupDelay: opts.StartupDelay,
		maxAge:       opts.MaxAge,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}

	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.startupDelay <= 0 {
		s.startupDelay = DefaultStartupDelay
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Start runs the startup timer and the periodic ticker until ctx is done
// or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	return nil
}

// Stop ends the loop and waits for an in-progress tick to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	startup := time.NewTimer(s.startupDelay)
	defer startup.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Debug("Refresh scheduler started",
		"interval", s.interval.String(),
		"startup_delay", s.startupDelay.String(),
		"max_age", s.maxAge.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-startup.C:
			s.RefreshIfNeeded(ctx)
		case <-ticker.C:
			s.RefreshIfNeeded(ctx)
		}
	}
}

// RefreshIfNeeded refreshes when a user is signed in and the snapshot is
// older than the max age. Failures are logged and dropped.
func (s *Scheduler) RefreshIfNeeded(ctx context.Context) {
	if !s.fetcher.IsAuthenticated() {
		return
	}
	if s.store.IsFresh(s.maxAge) {
		s.metrics.RecordRefresh("fresh")
		logger.Debug("Snapshot still fresh, skipping refresh")
		return
	}
	_ = s.Refresh(ctx)
}

// Refresh fetches and publishes the calendar now. It is a no-op when no
// user is signed in. Concurrent calls share one fetch.
func (s *Scheduler) Refresh(ctx context.Context) error {
	if !s.fetcher.IsAuthenticated() {
		logger.Debug("Refresh skipped, not authenticated")
		return nil
	}

	epoch := s.currentEpoch()
	_, err, shared := s.group.Do(flightKey(epoch), func() (any, error) {
		return nil, s.refresh(ctx, epoch)
	})
	if shared {
		logger.Debug("Joined in-flight refresh")
	}
	return err
}

func (s *Scheduler) currentEpoch() uint64 {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.epoch
}

// flightKey keeps callers of different epochs from sharing one fetch
func flightKey(epoch uint64) string {
	return "refresh-" + strconv.FormatUint(epoch, 10)
}

func (s *Scheduler) refresh(ctx context.Context, epoch uint64) error {
	start := s.now()

	contributions, err := s.fetcher.FetchContributions(ctx)
	if err != nil {
		s.metrics.RecordRefresh("failure")
		logger.Warn("Contribution fetch failed", "error", err)
		return fmt.Errorf("failed to fetch contributions: %w", err)
	}

	if err := s.publish(epoch, contributions); err != nil {
		if errors.Is(err, ErrSuperseded) {
			s.metrics.RecordRefresh("superseded")
			logger.Info("Dropping contributions fetched before an authentication change")
			return err
		}
		s.metrics.RecordRefresh("failure")
		logger.Error("Failed to save snapshot", "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.metrics.RecordRefresh("success")
	s.metrics.SetSnapshotUpdated(s.now())
	logger.Info("Contributions refreshed",
		"weeks", len(contributions.Weeks),
		"total", contributions.Total(),
		"duration", s.now().Sub(start).String())

	s.reload(ctx)
	return nil
}

// publish saves contributions unless the authentication epoch moved on or
// the user is no longer signed in
func (s *Scheduler) publish(epoch uint64, c *github.Contributions) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	if epoch != s.epoch || !s.fetcher.IsAuthenticated() {
		return ErrSuperseded
	}
	return s.store.Save(c)
}

// OnAuthenticationChanged refreshes right away after sign-in and wipes the
// snapshot after sign-out. Fetches started before the change are dropped.
func (s *Scheduler) OnAuthenticationChanged(ctx context.Context, authenticated bool) {
	s.authMu.Lock()
	s.group.Forget(flightKey(s.epoch))
	s.epoch++
	var clearErr error
	if !authenticated {
		clearErr = s.store.ClearAll()
	}
	s.authMu.Unlock()

	if authenticated {
		if err := s.Refresh(ctx); err != nil {
			logger.Warn("Refresh after sign-in failed", "error", err)
		}
		return
	}

	if clearErr != nil {
		logger.Error("Failed to clear snapshot", "error", clearErr)
	}
	s.reload(ctx)
}

func (s *Scheduler) reload(ctx context.Context) {
	if s.signaler == nil {
		return
	}
	if err := s.signaler.Reload(ctx); err != nil {
		logger.Warn("Failed to signal display reload", "error", err)
	}
}
