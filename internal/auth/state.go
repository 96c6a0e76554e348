package auth

import (
	"errors"
	"fmt"

	"github.com/bnema/waybar-pulse/internal/github"
)

// State is the device flow state
type State int

const (
	StateNotAuthenticated State = iota
	StateAwaitingUser
	StatePolling
	StateAuthenticated
	StateError
)

// States lists every state, in declaration order
var States = []State{
	StateNotAuthenticated,
	StateAwaitingUser,
	StatePolling,
	StateAuthenticated,
	StateError,
}

func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "not_authenticated"
	case StateAwaitingUser:
		return "awaiting_user"
	case StatePolling:
		return "polling"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Status is an immutable snapshot of the orchestrator published to subscribers
type Status struct {
	State State
	// Message is set in StateError
	Message string
	// UserCode and VerificationURI are set while the user has a code to enter
	UserCode        string
	VerificationURI string
	Profile         *github.UserProfile
	FlowID          string
}

func (s Status) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}

// userMessage turns a flow failure into the text shown in the Error state
func userMessage(err error) string {
	var netErr *github.NetworkError
	var unknown *github.UnknownError

	switch {
	case errors.Is(err, github.ErrAuthorizationExpired):
		return "The device code expired. Start the sign-in again."
	case errors.Is(err, github.ErrAccessDenied):
		return "Authorization was denied on GitHub."
	case errors.Is(err, github.ErrInvalidResponse):
		return "GitHub returned an unexpected response."
	case errors.As(err, &netErr):
		return fmt.Sprintf("Could not reach GitHub: %s", netErr.Error())
	case errors.As(err, &unknown):
		return fmt.Sprintf("GitHub reported an error: %s", unknown.Detail)
	default:
		return err.Error()
	}
}
