package state

import (
	"maps"
	"slices"
)

// AuthStatus is the top-level authentication state of the client.
type AuthStatus string

const (
	Unauthenticated AuthStatus = "UNAUTHENTICATED"
	Authenticated   AuthStatus = "AUTHENTICATED"
)

// SecurityStatus is the lock state of the machine.
type SecurityStatus string

const (
	Unlocked  SecurityStatus = "UNLOCKED"
	Challenge SecurityStatus = "CHALLENGE"
	Locked    SecurityStatus = "LOCKED"
)

// SyncStatus tracks whether a unit of state has reached the server.
type SyncStatus string

const (
	Unsynced SyncStatus = "UNSYNCED"
	Syncing  SyncStatus = "SYNCING"
	InSync   SyncStatus = "INSYNC"
)

// GaussianFeature describes the log-duration distribution of one key sequence.
type GaussianFeature struct {
	Mean  float64
	Stdev float64
	Index int
}

// EngineModel is the analysis model attached to a typing profile. Model and
// Weights are opaque to the client and handed to the scorer as-is.
type EngineModel struct {
	Model    string
	Weights  string
	Gaussian map[string]GaussianFeature
}

// TypingProfile identifies the enrolled user on this machine.
type TypingProfile struct {
	ID                  string
	MachineID           string
	UserID              string
	Model               EngineModel
	ChallengeStrategies []string
	Endpoint            string
}

// HasModel reports whether the profile carries anything the analysis engine can use.
func (p *TypingProfile) HasModel() bool {
	return p != nil && (p.Model.Model != "" || len(p.Model.Gaussian) > 0)
}

// AcceptsStrategy reports whether the profile lists the given challenge strategy.
func (p *TypingProfile) AcceptsStrategy(name string) bool {
	return p != nil && slices.Contains(p.ChallengeStrategies, name)
}

func (p *TypingProfile) clone() *TypingProfile {
	if p == nil {
		return nil
	}
	dup := *p
	dup.ChallengeStrategies = slices.Clone(p.ChallengeStrategies)
	dup.Model.Gaussian = maps.Clone(p.Model.Gaussian)
	return &dup
}

// ClientStatus is an immutable record of the client's status. Never modify a
// ClientStatus that has been enqueued; derive a new one with With.
type ClientStatus struct {
	Profile        *TypingProfile
	AuthStatus     AuthStatus
	SecurityStatus SecurityStatus
	AccessToken    string
	PhoneNumber    string
	GoogleAuthKey  string
	Timestamp      int64 // unix milliseconds
	SyncStatus     SyncStatus
}

// With returns a copy of s with mutate applied. The copy is marked unsynced and
// stamped with ts, or with s.Timestamp when ts is older, so timestamps never go
// backwards. Unchanged fields, including the profile, are shared with s.
func (s *ClientStatus) With(ts int64, mutate func(*ClientStatus)) *ClientStatus {
	if s == nil {
		return nil
	}
	next := *s
	if ts < s.Timestamp {
		ts = s.Timestamp
	}
	next.Timestamp = ts
	next.SyncStatus = Unsynced
	if mutate != nil {
		mutate(&next)
	}
	return &next
}

// ProfileID returns the id of the attached profile, or "" when there is none.
func (s *ClientStatus) ProfileID() string {
	if s == nil || s.Profile == nil {
		return ""
	}
	return s.Profile.ID
}

func (s *ClientStatus) clone() *ClientStatus {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Profile = s.Profile.clone()
	return &dup
}

// KeyStroke is a single key event. Timestamp is in milliseconds.
type KeyStroke struct {
	Char      rune
	KeyDown   bool
	Timestamp int64
}

// Equal compares keystrokes by timestamp.
func (k KeyStroke) Equal(o KeyStroke) bool { return k.Timestamp == o.Timestamp }

// Before orders keystrokes by timestamp.
func (k KeyStroke) Before(o KeyStroke) bool { return k.Timestamp < o.Timestamp }

// KeyStrokeBatch is the unit of keystroke transfer to the server.
type KeyStrokeBatch struct {
	KeyStrokes []KeyStroke
	SyncStatus SyncStatus
}

// Len returns the number of keystrokes in the batch.
func (b KeyStrokeBatch) Len() int { return len(b.KeyStrokes) }

func (b KeyStrokeBatch) clone() KeyStrokeBatch {
	return KeyStrokeBatch{KeyStrokes: slices.Clone(b.KeyStrokes), SyncStatus: b.SyncStatus}
}

// AnalysisResult is the probability, in [0,1], that recent typing matches the
// enrolled profile.
type AnalysisResult struct {
	Timestamp   int64
	Probability float64
}
