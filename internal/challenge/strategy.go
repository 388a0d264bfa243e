package challenge

import (
	"context"
	"errors"

	"github.com/five82/biokey/internal/state"
)

// Server representations of the built-in strategies, as listed in a typing
// profile's challengeStrategies.
const (
	NameTOTP = "GoogleAuth"
	NameSMS  = "TextMessage"
)

// ErrNotInitialized is returned when a strategy is used before Init succeeded.
var ErrNotInitialized = errors.New("challenge strategy not initialized")

// Strategy is one way for the user to prove who they are once typing analysis
// has flagged the session.
type Strategy interface {
	// Init prepares the strategy for the current user. It is safe to call
	// repeatedly.
	Init(ctx context.Context) error
	IsInitialized() bool
	// IssueChallenge sends or displays whatever the user needs to answer.
	IssueChallenge(ctx context.Context) error
	// CheckChallenge reports whether attempt answers the issued challenge.
	CheckChallenge(attempt string) bool
	// ValidateChallenge reports whether attempt is well formed. Malformed
	// attempts do not count against the user.
	ValidateChallenge(attempt string) bool
	ServerRepresentation() string
	CustomInformationText() string
}

// StatusSource returns the client's current status, or nil.
type StatusSource func() *state.ClientStatus

// CurrentStatus reads the store's current status under its status lock.
func CurrentStatus(store *state.Store) StatusSource {
	return func() *state.ClientStatus {
		a := store.NewAccess()
		a.Obtain(state.ResourceStatus)
		defer a.Release(state.ResourceStatus)
		cur, err := store.CurrentStatus(a)
		if err != nil {
			return nil
		}
		return cur
	}
}

func isCode(attempt string, digits int) bool {
	if len(attempt) != digits {
		return false
	}
	for _, r := range attempt {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
