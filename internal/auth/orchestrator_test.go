package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waybar-pulse/internal/github"
)

var octocat = &github.UserProfile{ID: 1, Login: "octocat", DisplayName: "The Octocat"}

type pollResult struct {
	cred *github.Credential
	err  error
}

type fakeAPI struct {
	mu          sync.Mutex
	device      *github.DeviceAuthorization
	deviceErr   error
	polls       []pollResult
	pollCalls   int
	profile     *github.UserProfile
	profileErr  error
	profileCall int
	contribs    *github.Contributions
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		device: &github.DeviceAuthorization{
			DeviceCode:      "dc",
			UserCode:        "ABCD-1234",
			VerificationURI: "https://github.com/login/device",
			Interval:        5 * time.Second,
			ExpiresAt:       time.Now().Add(15 * time.Minute),
		},
		profile: octocat,
	}
}

func (f *fakeAPI) StartDeviceFlow(ctx context.Context, clientID string) (*github.DeviceAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deviceErr != nil {
		return nil, f.deviceErr
	}
	d := *f.device
	return &d, nil
}

func (f *fakeAPI) PollForToken(ctx context.Context, clientID, deviceCode string) (*github.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.polls) == 0 {
		return nil, github.ErrAuthorizationPending
	}
	r := f.polls[0]
	f.polls = f.polls[1:]
	return r.cred, r.err
}

func (f *fakeAPI) FetchUserProfile(ctx context.Context, token string) (*github.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCall++
	return f.profile, f.profileErr
}

func (f *fakeAPI) FetchContributions(ctx context.Context, token string) (*github.Contributions, error) {
	return f.contribs, nil
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

type fakeStore struct {
	mu        sync.Mutex
	token     string
	profile   *github.UserProfile
	saveErr   error
	deleteErr error

	// saving, when set, receives once SaveToken starts and SaveToken then
	// waits for release
	saving  chan struct{}
	release chan struct{}
}

func (s *fakeStore) SaveToken(token string) error {
	if s.saving != nil {
		s.saving <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.token = token
	return nil
}

func (s *fakeStore) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *fakeStore) DeleteToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return s.deleteErr
}

func (s *fakeStore) SaveProfile(p *github.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	return nil
}

func (s *fakeStore) Profile() (*github.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.profile != nil
}

func (s *fakeStore) DeleteProfile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = nil
	return s.deleteErr
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single pending timer and returns its delay
func (s *fakeScheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	p := s.pending()
	require.Len(t, p, 1, "exactly one poll must be scheduled")
	p[0].fired = true
	p[0].f()
	return p[0].d
}

type queueSpawner struct {
	mu   sync.Mutex
	jobs []func()
}

func (q *queueSpawner) Spawn(f func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, f)
}

func (q *queueSpawner) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *queueSpawner) runAll() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		job()
	}
}

type harness struct {
	o         *Orchestrator
	api       API
	store     *fakeStore
	sched     *fakeScheduler
	statuses  []Status
	authCalls []bool
	mu        sync.Mutex
}

func newHarness(t *testing.T, api API, spawn func(func())) *harness {
	t.Helper()
	h := &harness{api: api, store: &fakeStore{}, sched: &fakeScheduler{}}
	if spawn == nil {
		spawn = func(f func()) { f() }
	}
	h.o = New(api, h.store, Options{
		ClientID:  "client-1",
		AfterFunc: h.sched.AfterFunc,
		Spawn:     spawn,
		OnAuthenticationChanged: func(authenticated bool) {
			h.mu.Lock()
			h.authCalls = append(h.authCalls, authenticated)
			h.mu.Unlock()
		},
	})
	h.o.Subscribe(func(s Status) {
		h.mu.Lock()
		h.statuses = append(h.statuses, s)
		h.mu.Unlock()
	})
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, len(h.statuses))
	for i, s := range h.statuses {
		out[i] = s.State
	}
	return out
}

func TestStartDeviceFlowSchedulesFirstPoll(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()

	st := h.o.Status()
	assert.Equal(t, StateAwaitingUser, st.State)
	assert.Equal(t, "ABCD-1234", st.UserCode)
	assert.Equal(t, "https://github.com/login/device", st.VerificationURI)
	assert.NotEmpty(t, st.FlowID)

	pending := h.sched.pending()
	require.Len(t, pending, 1)
	assert.Equal(t, DefaultFirstPollDelay, pending[0].d)
	assert.Zero(t, api.calls(), "no poll before the timer fires")
}

func TestPendingPollsKeepPollingWithOneTimer(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)
	h.o.StartDeviceFlow()

	assert.Equal(t, DefaultFirstPollDelay, h.sched.fire(t))
	for i := 0; i < 5; i++ {
		assert.Equal(t, StatePolling, h.o.Status().State)
		require.Len(t, h.sched.pending(), 1)
		assert.Equal(t, 5*time.Second, h.sched.fire(t))
	}

	assert.Equal(t, 6, api.calls())
	assert.Equal(t, StatePolling, h.o.Status().State)
	assert.NotContains(t, h.states(), StateError)
}

func TestPendingOn400WithRealClient(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/device":
			_, _ = io.WriteString(w, `{"device_code":"dc","user_code":"CODE-0001","verification_uri":"https://github.com/login/device","expires_in":900,"interval":5}`)
		case "/token":
			polls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"authorization_pending"}`)
		}
	}))
	defer srv.Close()

	client := github.NewClient(github.Options{
		HTTPClient:    srv.Client(),
		DeviceCodeURL: srv.URL + "/device",
		TokenURL:      srv.URL + "/token",
		APIURL:        srv.URL,
	})
	h := newHarness(t, client, nil)

	h.o.StartDeviceFlow()
	h.sched.fire(t)

	assert.Equal(t, int32(1), polls.Load())
	assert.Equal(t, StatePolling, h.o.Status().State)
	pending := h.sched.pending()
	require.Len(t, pending, 1, "exactly one new timer")
	assert.Equal(t, 5*time.Second, pending[0].d)
}

func TestSlowDownAddsOneSecond(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{err: github.ErrSlowDown}, {err: github.ErrSlowDown}}
	h := newHarness(t, api, nil)
	h.o.StartDeviceFlow()

	h.sched.fire(t)
	assert.Equal(t, 6*time.Second, h.o.Interval())
	assert.Equal(t, StatePolling, h.o.Status().State)

	assert.Equal(t, 6*time.Second, h.sched.fire(t))
	assert.Equal(t, 7*time.Second, h.o.Interval())
	assert.Equal(t, 7*time.Second, h.sched.pending()[0].d)
}

func TestSuccessfulSignIn(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{err: github.ErrAuthorizationPending}, {cred: &github.Credential{AccessToken: "gho_ok"}}}
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	h.sched.fire(t)
	h.sched.fire(t)

	st := h.o.Status()
	assert.Equal(t, StateAuthenticated, st.State)
	assert.Equal(t, octocat, st.Profile)
	assert.True(t, h.o.IsAuthenticated())

	token, ok := h.store.Token()
	assert.True(t, ok)
	assert.Equal(t, "gho_ok", token)
	profile, ok := h.store.Profile()
	assert.True(t, ok)
	assert.Equal(t, "octocat", profile.Login)

	assert.Equal(t, []bool{true}, h.authCalls)
	assert.Empty(t, h.sched.pending())
	assert.Equal(t, []State{StateAwaitingUser, StateAwaitingUser, StatePolling, StateAuthenticated}, h.states())
}

func TestProfileFailureKeepsToken(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{cred: &github.Credential{AccessToken: "gho_ok"}}}
	api.profileErr = github.ErrInvalidResponse
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	h.sched.fire(t)

	st := h.o.Status()
	assert.Equal(t, StateError, st.State)
	assert.NotEmpty(t, st.Message)

	_, ok := h.store.Token()
	assert.True(t, ok, "token persists for a retry on next start")
	_, ok = h.store.Profile()
	assert.False(t, ok)
	assert.Empty(t, h.authCalls)
}

func TestTokenSaveFailure(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{cred: &github.Credential{AccessToken: "gho_ok"}}}
	h := newHarness(t, api, nil)
	h.store.saveErr = errors.New("keyring locked")

	h.o.StartDeviceFlow()
	h.sched.fire(t)

	assert.Equal(t, StateError, h.o.Status().State)
	assert.Zero(t, api.profileCall)
}

func TestSlowTokenSaveDoesNotBlockStatus(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{cred: &github.Credential{AccessToken: "gho_ok"}}}
	h := newHarness(t, api, nil)
	h.store.saving = make(chan struct{}, 1)
	h.store.release = make(chan struct{})

	h.o.StartDeviceFlow()
	timer := h.sched.pending()[0]
	timer.fired = true
	go timer.f()
	<-h.store.saving

	statusDone := make(chan Status, 1)
	go func() { statusDone <- h.o.Status() }()
	select {
	case st := <-statusDone:
		assert.Equal(t, StatePolling, st.State)
	case <-time.After(time.Second):
		t.Fatal("Status blocked on a credential write")
	}

	close(h.store.release)
	require.Eventually(t, func() bool {
		return h.o.Status().State == StateAuthenticated
	}, time.Second, 5*time.Millisecond)
}

func TestLogoutDuringTokenSaveLeavesNoToken(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{cred: &github.Credential{AccessToken: "gho_ok"}}}
	h := newHarness(t, api, nil)
	h.store.saving = make(chan struct{}, 1)
	h.store.release = make(chan struct{})

	h.o.StartDeviceFlow()
	timer := h.sched.pending()[0]
	timer.fired = true
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		timer.f()
	}()
	<-h.store.saving

	logoutDone := make(chan struct{})
	go func() {
		defer close(logoutDone)
		h.o.Logout()
	}()
	require.Eventually(t, func() bool {
		return h.o.Status().State == StateNotAuthenticated
	}, time.Second, 5*time.Millisecond)

	close(h.store.release)
	<-pollDone
	<-logoutDone

	_, ok := h.store.Token()
	assert.False(t, ok)
	assert.Equal(t, StateNotAuthenticated, h.o.Status().State)
	assert.Zero(t, api.profileCall)
}

func TestTerminalPollFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"expired", github.ErrAuthorizationExpired},
		{"denied", github.ErrAccessDenied},
		{"unknown", &github.UnknownError{Detail: "incorrect_client_credentials"}},
		{"network", github.NewNetworkError(502, "bad gateway")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.polls = []pollResult{{err: tt.err}}
			h := newHarness(t, api, nil)

			h.o.StartDeviceFlow()
			h.sched.fire(t)

			st := h.o.Status()
			assert.Equal(t, StateError, st.State)
			assert.NotEmpty(t, st.Message)
			assert.Empty(t, h.sched.pending(), "no poll after a terminal failure")
		})
	}
}

func TestExpiredDeviceCodeFailsWithoutRequest(t *testing.T) {
	api := newFakeAPI()
	api.device.ExpiresAt = time.Now().Add(-time.Second)
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	h.sched.fire(t)

	assert.Equal(t, StateError, h.o.Status().State)
	assert.Zero(t, api.calls())
}

func TestStartDeviceFlowFailure(t *testing.T) {
	api := newFakeAPI()
	api.deviceErr = github.ErrInvalidResponse
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()

	assert.Equal(t, StateError, h.o.Status().State)
	assert.Empty(t, h.sched.pending())
}

func TestRetryFromError(t *testing.T) {
	api := newFakeAPI()
	api.deviceErr = github.ErrInvalidResponse
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	require.Equal(t, StateError, h.o.Status().State)

	api.mu.Lock()
	api.deviceErr = nil
	api.mu.Unlock()

	h.o.StartDeviceFlow()
	assert.Equal(t, StateAwaitingUser, h.o.Status().State)
	assert.Len(t, h.sched.pending(), 1)
}

func TestStartIgnoredWhileRunningOrSignedIn(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	flowID := h.o.Status().FlowID
	h.o.StartDeviceFlow()
	assert.Equal(t, flowID, h.o.Status().FlowID, "running flow is not restarted")
	assert.Len(t, h.sched.pending(), 1)

	api.polls = []pollResult{{cred: &github.Credential{AccessToken: "gho_ok"}}}
	h.sched.fire(t)
	require.Equal(t, StateAuthenticated, h.o.Status().State)

	h.o.StartDeviceFlow()
	assert.Equal(t, StateAuthenticated, h.o.Status().State)
}

func TestConfirmPollsImmediately(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	first := h.sched.pending()[0]

	h.o.ConfirmAuthorization()

	assert.Equal(t, 1, api.calls())
	assert.True(t, first.stopped, "scheduled first poll is cancelled")
	assert.Equal(t, StatePolling, h.o.Status().State)
	require.Len(t, h.sched.pending(), 1)
}

func TestConfirmIgnoredWhilePollInFlight(t *testing.T) {
	api := newFakeAPI()
	q := &queueSpawner{}
	h := newHarness(t, api, q.Spawn)

	h.o.StartDeviceFlow()
	q.runAll()
	h.sched.fire(t)
	require.Equal(t, 1, q.len(), "one poll queued")

	h.o.ConfirmAuthorization()
	h.o.ConfirmAuthorization()
	assert.Equal(t, 1, q.len(), "no second poll while one is in flight")

	q.runAll()
	assert.Equal(t, 1, api.calls())
	assert.Len(t, h.sched.pending(), 1)
}

func TestConfirmIgnoredWithoutCode(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)

	h.o.ConfirmAuthorization()

	assert.Zero(t, api.calls())
	assert.Equal(t, StateNotAuthenticated, h.o.Status().State)
}

func TestSupersededResultIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.polls = []pollResult{{cred: &github.Credential{AccessToken: "gho_late"}}}
	q := &queueSpawner{}
	h := newHarness(t, api, q.Spawn)

	h.o.StartDeviceFlow()
	q.runAll()
	h.sched.fire(t)

	h.o.Logout()
	q.runAll()

	assert.Equal(t, StateNotAuthenticated, h.o.Status().State)
	_, ok := h.store.Token()
	assert.False(t, ok, "late credential is not saved")
	assert.Zero(t, api.profileCall)
}

func TestLogoutFromAuthenticated(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)
	h.store.token = "gho_ok"
	h.store.profile = octocat
	h.o.Init()
	require.Equal(t, StateAuthenticated, h.o.Status().State)

	h.store.deleteErr = errors.New("item not found")
	h.o.Logout()

	assert.Equal(t, StateNotAuthenticated, h.o.Status().State)
	_, ok := h.store.Token()
	assert.False(t, ok)
	_, ok = h.store.Profile()
	assert.False(t, ok)
	assert.Equal(t, []bool{true, false}, h.authCalls)

	h.o.Logout()
	assert.Equal(t, StateNotAuthenticated, h.o.Status().State, "logout is idempotent")
}

func TestLogoutCancelsPendingPoll(t *testing.T) {
	api := newFakeAPI()
	h := newHarness(t, api, nil)

	h.o.StartDeviceFlow()
	timer := h.sched.pending()[0]

	h.o.Logout()
	assert.True(t, timer.stopped)

	// A timer that already started running must not poll
	timer.f()
	assert.Zero(t, api.calls())
}

func TestInit(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		h := newHarness(t, newFakeAPI(), nil)
		h.o.Init()
		assert.Equal(t, StateNotAuthenticated, h.o.Status().State)
		assert.Empty(t, h.authCalls)
	})

	t.Run("token and profile", func(t *testing.T) {
		api := newFakeAPI()
		h := newHarness(t, api, nil)
		h.store.token = "gho_ok"
		h.store.profile = octocat
		h.o.Init()
		assert.Equal(t, StateAuthenticated, h.o.Status().State)
		assert.Zero(t, api.profileCall)
		assert.Equal(t, []bool{true}, h.authCalls)
	})

	t.Run("token without profile", func(t *testing.T) {
		api := newFakeAPI()
		h := newHarness(t, api, nil)
		h.store.token = "gho_ok"
		h.o.Init()
		assert.Equal(t, 1, api.profileCall)
		assert.Equal(t, StateAuthenticated, h.o.Status().State)
		_, ok := h.store.Profile()
		assert.True(t, ok)
	})
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, newFakeAPI(), nil)
	var count int
	unsubscribe := h.o.Subscribe(func(Status) { count++ })

	h.o.StartDeviceFlow()
	seen := count
	require.Positive(t, seen)

	unsubscribe()
	h.o.Logout()
	assert.Equal(t, seen, count)
}

func TestFetchContributionsRequiresToken(t *testing.T) {
	api := newFakeAPI()
	api.contribs = &github.Contributions{}
	h := newHarness(t, api, nil)

	_, err := h.o.FetchContributions(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	h.store.token = "gho_ok"
	got, err := h.o.FetchContributions(context.Background())
	require.NoError(t, err)
	assert.Same(t, api.contribs, got)
}
