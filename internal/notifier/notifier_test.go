package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waybar-pulse/internal/auth"
	"github.com/bnema/waybar-pulse/internal/github"
)

type call struct {
	name string
	args []string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
	if r.err != nil {
		return []byte("boom"), r.err
	}
	return nil, nil
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var titles []string
	for _, c := range r.calls {
		titles = append(titles, c.args[len(c.args)-2])
	}
	return titles
}

type exitError int

func (e exitError) Error() string { return "exit status" }
func (e exitError) ExitCode() int { return int(e) }

func TestDisabledNotifierSendsNothing(t *testing.T) {
	r := &recorder{}
	n := NewWithRunner(false, r.run)

	require.NoError(t, n.SendSignInSuccess(&github.UserProfile{Login: "octocat"}))
	require.NoError(t, n.SendSignInFailure("nope"))
	assert.Error(t, n.TestNotification())
	assert.Empty(t, r.calls)
}

func TestSignInNotifications(t *testing.T) {
	r := &recorder{}
	n := NewWithRunner(true, r.run)

	require.NoError(t, n.SendSignInSuccess(&github.UserProfile{Login: "octocat", DisplayName: "The Octocat"}))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "notify-send", r.calls[0].name)
	assert.Contains(t, r.calls[0].args, "--urgency=normal")
	assert.Contains(t, r.calls[0].args[len(r.calls[0].args)-1], "The Octocat (octocat)")

	require.NoError(t, n.SendSignInFailure("Authorization was denied on GitHub."))
	assert.Contains(t, r.calls[1].args, "--urgency=critical")
	assert.Equal(t, "Authorization was denied on GitHub.", r.calls[1].args[len(r.calls[1].args)-1])
}

func TestNotifySendFailure(t *testing.T) {
	r := &recorder{err: errors.New("not found")}
	n := NewWithRunner(true, r.run)

	err := n.SendSignInFailure("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestHandleStatusTransitions(t *testing.T) {
	r := &recorder{}
	n := NewWithRunner(true, r.run)
	handle := n.HandleStatus(&auth.Status{State: auth.StateNotAuthenticated})

	handle(auth.Status{State: auth.StateAwaitingUser, FlowID: "a", UserCode: "ABCD-1234", VerificationURI: "https://github.com/login/device"})
	handle(auth.Status{State: auth.StatePolling, FlowID: "a"})
	handle(auth.Status{State: auth.StatePolling, FlowID: "a"})
	handle(auth.Status{State: auth.StateAuthenticated, FlowID: "a", Profile: &github.UserProfile{Login: "octocat"}})
	handle(auth.Status{State: auth.StateAuthenticated, FlowID: "b"})
	handle(auth.Status{State: auth.StateNotAuthenticated})
	handle(auth.Status{State: auth.StateError, FlowID: "c", Message: "expired"})

	titles := r.titles()
	require.Len(t, titles, 3)
	assert.Contains(t, titles[0], "ABCD-1234")
	assert.Contains(t, titles[1], "Signed in")
	assert.Contains(t, titles[2], "sign-in failed")
}

func TestOpenURL(t *testing.T) {
	r := &recorder{}

	require.NoError(t, openURL(context.Background(), r.run, "https://github.com/login/device"))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "xdg-open", r.calls[0].name)

	assert.Error(t, openURL(context.Background(), r.run, "file:///etc/passwd"))
	assert.Len(t, r.calls, 1)
}

func TestWaybarSignalerReload(t *testing.T) {
	r := &recorder{}
	s := NewWaybarSignalerWithRunner(0, r.run)

	require.NoError(t, s.Reload(context.Background()))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "pkill", r.calls[0].name)
	assert.Equal(t, []string{"-RTMIN+8", "waybar"}, r.calls[0].args)
}

func TestWaybarSignalerNoProcess(t *testing.T) {
	r := &recorder{err: exitError(1)}
	s := NewWaybarSignalerWithRunner(11, r.run)

	assert.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, "-RTMIN+11", r.calls[0].args[0])
}

func TestWaybarSignalerFailure(t *testing.T) {
	r := &recorder{err: exitError(2)}
	s := NewWaybarSignalerWithRunner(8, r.run)

	assert.Error(t, s.Reload(context.Background()))
}
