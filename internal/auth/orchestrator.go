package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/metrics"
	"github.com/bnema/waybar-pulse/internal/security"
)

// DefaultFirstPollDelay is the wait between showing the code and the first poll
const DefaultFirstPollDelay = time.Second

// ErrNotAuthenticated is returned by calls that need a stored token
var ErrNotAuthenticated = errors.New("not authenticated")

// API is the part of the GitHub client the orchestrator drives
type API interface {
	StartDeviceFlow(ctx context.Context, clientID string) (*github.DeviceAuthorization, error)
	PollForToken(ctx context.Context, clientID, deviceCode string) (*github.Credential, error)
	FetchUserProfile(ctx context.Context, token string) (*github.UserProfile, error)
	FetchContributions(ctx context.Context, token string) (*github.Contributions, error)
}

// CredentialStore persists the token and the cached profile
type CredentialStore interface {
	SaveToken(token string) error
	Token() (string, bool)
	DeleteToken() error
	SaveProfile(profile *github.UserProfile) error
	Profile() (*github.UserProfile, bool)
	DeleteProfile() error
}

// Timer is a pending scheduled call
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through a wrapper.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures an Orchestrator
type Options struct {
	ClientID       string
	FirstPollDelay time.Duration

	// OnAuthenticationChanged is told about every transition into or out of
	// the signed-in state. It runs outside the orchestrator lock.
	OnAuthenticationChanged func(authenticated bool)

	Metrics *metrics.Metrics
	Logger  *security.SecureLogger

	// Test seams
	AfterFunc AfterFunc
	Spawn     func(func())
	Now       func() time.Time
}

// Orchestrator owns the device flow state machine. Network calls run on
// spawned goroutines; their results are applied only if no transition
// happened in between, which a generation counter tracks.
type Orchestrator struct {
	api      API
	store    CredentialStore
	clientID string

	firstPollDelay time.Duration
	onAuthChanged  func(bool)
	metrics        *metrics.Metrics
	logger         *security.SecureLogger
	afterFunc      AfterFunc
	spawn          func(func())
	now            func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// storeMu orders credential writes against Logout. It is never acquired
	// while mu is held, so a slow keyring does not block Status.
	storeMu sync.Mutex

	mu          sync.Mutex
	status      Status
	device      *github.DeviceAuthorization
	interval    time.Duration
	timer       Timer
	generation  uint64
	inFlight    bool
	subscribers map[uint64]func(Status)
	nextSubID   uint64
}

// New creates an orchestrator in StateNotAuthenticated. Call Init to load
// the stored credential.
func New(api API, store CredentialStore, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		api:            api,
		store:          store,
		clientID:       opts.ClientID,
		firstPollDelay: opts.FirstPollDelay,
		onAuthChanged:  opts.OnAuthenticationChanged,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		afterFunc:      opts.AfterFunc,
		spawn:          opts.Spawn,
		now:            opts.Now,
		ctx:            ctx,
		cancel:         cancel,
		status:         Status{State: StateNotAuthenticated},
		subscribers:    make(map[uint64]func(Status)),
	}

	if o.firstPollDelay <= 0 {
		o.firstPollDelay = DefaultFirstPollDelay
	}
	if o.logger == nil {
		o.logger = security.NewSecureLogger(false)
	}
	if o.afterFunc == nil {
		o.afterFunc = realAfterFunc
	}
	if o.spawn == nil {
		o.spawn = func(f func()) { go f() }
	}
	if o.now == nil {
		o.now = time.Now
	}

	o.metrics.SetAuthState(o.status.State.String(), stateNames())
	return o
}

// SetAuthenticationListener replaces the downstream listener. Used by the
// composition root when the listener is built after the orchestrator.
func (o *Orchestrator) SetAuthenticationListener(fn func(authenticated bool)) {
	o.mu.Lock()
	o.onAuthChanged = fn
	o.mu.Unlock()
}

// Init derives the initial state from the credential store. A token with a
// cached profile is Authenticated; a token without one triggers a background
// profile fetch.
func (o *Orchestrator) Init() {
	token, ok := o.store.Token()
	if !ok {
		o.logger.LogAuthEvent("init", true, map[string]any{"has_token": false})
		return
	}

	if profile, ok := o.store.Profile(); ok {
		o.mu.Lock()
		o.generation++
		notify := o.setStatusLocked(Status{State: StateAuthenticated, Profile: profile})
		listener := o.onAuthChanged
		o.mu.Unlock()

		o.logger.LogAuthEvent("init", true, map[string]any{"has_token": true, "login": profile.Login})
		notify()
		if listener != nil {
			listener(true)
		}
		return
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	flowID := uuid.NewString()
	o.status.FlowID = flowID
	o.mu.Unlock()

	o.logger.LogAuthEvent("init", true, map[string]any{"has_token": true, "profile_cached": false, "flow_id": flowID})
	o.spawn(func() { o.fetchProfile(gen, flowID, token) })
}

// Close stops the pending timer and abandons in-flight requests
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.generation++
	o.stopTimerLocked()
	o.mu.Unlock()
	o.cancel()
}

// Status returns the current state snapshot
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// IsAuthenticated reports whether the user is signed in
func (o *Orchestrator) IsAuthenticated() bool {
	return o.Status().IsAuthenticated()
}

// Interval returns the current poll interval of the running flow
func (o *Orchestrator) Interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interval
}

// Subscribe registers fn for every status change and returns a function that
// removes it. fn runs outside the orchestrator lock.
func (o *Orchestrator) Subscribe(fn func(Status)) func() {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
	}
}

// StartDeviceFlow begins a sign-in. It returns immediately; progress is
// published to subscribers. Calls while a flow is running or while signed
// in are ignored.
func (o *Orchestrator) StartDeviceFlow() {
	o.mu.Lock()
	if s := o.status.State; s != StateNotAuthenticated && s != StateError {
		o.mu.Unlock()
		o.logger.Debug("Ignoring sign-in request", "state", s.String())
		return
	}

	o.generation++
	gen := o.generation
	o.stopTimerLocked()
	o.device = nil
	o.interval = 0
	o.inFlight = true

	flowID := uuid.NewString()
	notify := o.setStatusLocked(Status{State: StateAwaitingUser, FlowID: flowID})
	o.mu.Unlock()
	notify()

	o.logger.LogAuthEvent("device_flow_start", true, map[string]any{"flow_id": flowID})
	o.spawn(func() { o.requestDeviceCode(gen, flowID) })
}

func (o *Orchestrator) requestDeviceCode(gen uint64, flowID string) {
	device, err := o.api.StartDeviceFlow(o.ctx, o.clientID)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.inFlight = false

	if err != nil {
		notify := o.failLocked(err)
		o.mu.Unlock()
		o.logger.LogAuthEvent("device_code_request", false, map[string]any{"flow_id": flowID, "error": err})
		notify()
		return
	}

	o.device = device
	o.interval = device.Interval
	notify := o.setStatusLocked(Status{
		State:           StateAwaitingUser,
		UserCode:        device.UserCode,
		VerificationURI: device.VerificationURI,
		FlowID:          flowID,
	})
	o.scheduleLocked(o.firstPollDelay, gen)
	o.mu.Unlock()

	o.logger.LogAuthEvent("device_code_request", true, map[string]any{
		"flow_id":    flowID,
		"interval":   device.Interval.String(),
		"expires_at": device.ExpiresAt.Format(time.RFC3339),
	})
	notify()
}

// ConfirmAuthorization polls right away instead of waiting for the timer.
// It does nothing unless a code is waiting to be confirmed and no poll is
// in flight.
func (o *Orchestrator) ConfirmAuthorization() {
	o.mu.Lock()
	gen := o.generation
	o.mu.Unlock()
	o.poll(gen)
}

func (o *Orchestrator) poll(gen uint64) {
	o.mu.Lock()
	s := o.status.State
	if gen != o.generation || o.inFlight || o.device == nil ||
		(s != StateAwaitingUser && s != StatePolling) {
		o.mu.Unlock()
		return
	}

	o.stopTimerLocked()

	if o.device.Expired(o.now()) {
		o.metrics.RecordPollAttempt("expired")
		notify := o.failLocked(github.ErrAuthorizationExpired)
		o.mu.Unlock()
		notify()
		return
	}

	o.inFlight = true
	device := o.device
	status := o.status
	status.State = StatePolling
	notify := o.setStatusLocked(status)
	o.mu.Unlock()
	notify()

	o.spawn(func() {
		cred, err := o.api.PollForToken(o.ctx, o.clientID, device.DeviceCode)
		o.handlePollResult(gen, status.FlowID, cred, err)
	})
}

func (o *Orchestrator) handlePollResult(gen uint64, flowID string, cred *github.Credential, err error) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.inFlight = false

	switch {
	case errors.Is(err, github.ErrAuthorizationPending):
		o.metrics.RecordPollAttempt("pending")
		o.scheduleLocked(o.interval, gen)
		o.mu.Unlock()
		return

	case errors.Is(err, github.ErrSlowDown):
		o.metrics.RecordPollAttempt("slow_down")
		o.interval += time.Second
		o.device.Interval = o.interval
		o.scheduleLocked(o.interval, gen)
		interval := o.interval
		o.mu.Unlock()
		o.logger.Debug("GitHub asked to slow down", "flow_id", flowID, "interval", interval.String())
		return

	case err != nil:
		o.metrics.RecordPollAttempt("failure")
		notify := o.failLocked(err)
		o.mu.Unlock()
		o.logger.LogAuthEvent("token_poll", false, map[string]any{"flow_id": flowID, "error": err})
		notify()
		return
	}

	o.metrics.RecordPollAttempt("success")
	o.device = nil
	o.inFlight = true
	o.mu.Unlock()

	saved, saveErr := o.storeIfCurrent(gen, func() error {
		return o.store.SaveToken(cred.AccessToken)
	})
	if !saved {
		return
	}

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	if saveErr != nil {
		notify := o.failLocked(saveErr)
		o.mu.Unlock()
		o.logger.LogAuthEvent("token_save", false, map[string]any{"flow_id": flowID, "error": saveErr})
		notify()
		return
	}
	o.mu.Unlock()

	o.logger.LogAuthEvent("token_poll", true, map[string]any{"flow_id": flowID, "scope": cred.Scope})
	o.spawn(func() { o.fetchProfile(gen, flowID, cred.AccessToken) })
}

// fetchProfile completes sign-in. On failure the token stays stored so the
// next start can retry the profile fetch.
func (o *Orchestrator) fetchProfile(gen uint64, flowID, token string) {
	profile, err := o.api.FetchUserProfile(o.ctx, token)

	if err == nil {
		saved, saveErr := o.storeIfCurrent(gen, func() error {
			return o.store.SaveProfile(profile)
		})
		if !saved {
			return
		}
		if saveErr != nil {
			o.logger.Warn("Failed to cache profile", "flow_id", flowID, "error", saveErr)
		}
	}

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.inFlight = false

	if err != nil {
		notify := o.failLocked(err)
		o.mu.Unlock()
		o.logger.LogAuthEvent("profile_fetch", false, map[string]any{"flow_id": flowID, "error": err})
		notify()
		return
	}

	notify := o.setStatusLocked(Status{State: StateAuthenticated, Profile: profile, FlowID: flowID})
	listener := o.onAuthChanged
	o.mu.Unlock()

	o.logger.LogAuthEvent("sign_in", true, map[string]any{"flow_id": flowID, "login": profile.Login})
	notify()
	if listener != nil {
		listener(true)
	}
}

// Logout forgets the credential and the profile. It always ends in
// StateNotAuthenticated; store failures are logged only.
func (o *Orchestrator) Logout() {
	o.mu.Lock()
	o.generation++
	o.stopTimerLocked()
	o.device = nil
	o.interval = 0
	o.inFlight = false
	notify := o.setStatusLocked(Status{State: StateNotAuthenticated})
	listener := o.onAuthChanged
	o.mu.Unlock()

	// Waits for a write that passed its generation check before the bump
	o.storeMu.Lock()
	if err := o.store.DeleteToken(); err != nil {
		o.logger.Warn("Failed to delete token", "error", err)
	}
	if err := o.store.DeleteProfile(); err != nil {
		o.logger.Warn("Failed to delete profile", "error", err)
	}
	o.storeMu.Unlock()

	o.logger.LogAuthEvent("logout", true, nil)
	notify()
	if listener != nil {
		listener(false)
	}
}

// FetchContributions loads the stored token and fetches the calendar
func (o *Orchestrator) FetchContributions(ctx context.Context) (*github.Contributions, error) {
	token, ok := o.store.Token()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return o.api.FetchContributions(ctx, token)
}

// storeIfCurrent runs write under storeMu if generation gen is still
// current. saved is false when the flow was superseded first.
func (o *Orchestrator) storeIfCurrent(gen uint64, write func() error) (saved bool, err error) {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()

	o.mu.Lock()
	current := gen == o.generation
	o.mu.Unlock()
	if !current {
		return false, nil
	}
	return true, write()
}

// failLocked moves to StateError and invalidates any pending work
func (o *Orchestrator) failLocked(err error) func() {
	o.generation++
	o.stopTimerLocked()
	o.device = nil
	o.inFlight = false
	return o.setStatusLocked(Status{
		State:   StateError,
		Message: userMessage(err),
		FlowID:  o.status.FlowID,
	})
}

func (o *Orchestrator) scheduleLocked(d time.Duration, gen uint64) {
	o.stopTimerLocked()
	o.timer = o.afterFunc(d, func() { o.poll(gen) })
}

func (o *Orchestrator) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// setStatusLocked stores s and returns a function that publishes it. The
// returned function must be called after the lock is released.
func (o *Orchestrator) setStatusLocked(s Status) func() {
	if s == o.status {
		return func() {}
	}
	o.status = s
	o.metrics.SetAuthState(s.State.String(), stateNames())

	subs := make([]func(Status), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(s)
		}
	}
}
