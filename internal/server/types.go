package server

import (
	"slices"
	"strings"

	"github.com/five82/biokey/internal/state"
)

// KeyStrokeJSON is one element of the keystroke upload body.
type KeyStrokeJSON struct {
	Character     string `json:"character"`
	KeyDown       bool   `json:"keyDown"`
	Timestamp     int64  `json:"timestamp"`
	TypingProfile string `json:"typingProfile"`
}

// KeyStrokesRequest is the body of POST /api/keystrokes.
type KeyStrokesRequest struct {
	KeyStrokes []KeyStrokeJSON `json:"keystrokes"`
}

// NewKeyStrokesRequest tags every keystroke in batch with profileID.
func NewKeyStrokesRequest(batch state.KeyStrokeBatch, profileID string) KeyStrokesRequest {
	req := KeyStrokesRequest{KeyStrokes: make([]KeyStrokeJSON, 0, batch.Len())}
	for _, k := range batch.KeyStrokes {
		req.KeyStrokes = append(req.KeyStrokes, KeyStrokeJSON{
			Character:     string(k.Char),
			KeyDown:       k.KeyDown,
			Timestamp:     k.Timestamp,
			TypingProfile: profileID,
		})
	}
	return req
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token string        `json:"token"`
	User  *UserResponse `json:"user,omitempty"`
}

// AnalysisResultRequest is the body of POST /api/analysisResults.
type AnalysisResultRequest struct {
	TimeStamp     int64   `json:"timeStamp"`
	Probability   float64 `json:"probability"`
	TypingProfile string  `json:"typingProfile"`
}

// GaussianFeatureJSON mirrors state.GaussianFeature on the wire.
type GaussianFeatureJSON struct {
	Mean  float64 `json:"mean"`
	Stdev float64 `json:"stdev"`
	Index int     `json:"i"`
}

// EngineModelJSON mirrors state.EngineModel on the wire.
type EngineModelJSON struct {
	Model           string                         `json:"model,omitempty"`
	Weights         string                         `json:"weights,omitempty"`
	GaussianProfile map[string]GaussianFeatureJSON `json:"gaussianProfile"`
}

// TypingProfileResponse is the server's view of a typing profile.
type TypingProfileResponse struct {
	ID                  string          `json:"_id"`
	User                string          `json:"user"`
	Machine             string          `json:"machine"`
	IsLocked            bool            `json:"isLocked"`
	TensorFlowModel     EngineModelJSON `json:"tensorFlowModel"`
	Endpoint            string          `json:"endpoint"`
	ChallengeStrategies []string        `json:"challengeStrategies"`
}

// TypingProfileContainerResponse carries a profile plus the user's contact
// details. It is returned by the machine profile endpoint, pushed on profile
// changes, and sent back as the body of PUT /api/typingProfiles/{id}.
type TypingProfileContainerResponse struct {
	TypingProfile TypingProfileResponse `json:"typingProfile"`
	PhoneNumber   string                `json:"phoneNumber"`
	GoogleAuthKey string                `json:"googleAuthKey"`
	TimeStamp     int64                 `json:"timeStamp"`
}

// UserContainerResponse is pushed when the user record changes.
type UserContainerResponse struct {
	ChangeType    string `json:"changeType"`
	PhoneNumber   string `json:"phoneNumber"`
	GoogleAuthKey string `json:"googleAuthKey"`
}

// UserChangeLogout is the user change type that ends the session.
const UserChangeLogout = "LOGOUT"

// IsLogout reports whether the change ends the session.
func (u UserContainerResponse) IsLogout() bool {
	return strings.EqualFold(strings.TrimSpace(u.ChangeType), UserChangeLogout)
}

// UserResponse is returned by GET /api/users/me.
type UserResponse struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Profile converts the wire profile into the store's representation.
func (r TypingProfileResponse) Profile() *state.TypingProfile {
	gaussian := make(map[string]state.GaussianFeature, len(r.TensorFlowModel.GaussianProfile))
	for seq, f := range r.TensorFlowModel.GaussianProfile {
		gaussian[seq] = state.GaussianFeature{Mean: f.Mean, Stdev: f.Stdev, Index: f.Index}
	}
	return &state.TypingProfile{
		ID:                  r.ID,
		MachineID:           r.Machine,
		UserID:              r.User,
		Model:               state.EngineModel{Model: r.TensorFlowModel.Model, Weights: r.TensorFlowModel.Weights, Gaussian: gaussian},
		ChallengeStrategies: slices.Clone(r.ChallengeStrategies),
		Endpoint:            r.Endpoint,
	}
}

// SecurityStatus maps the server's lock flag onto a security status.
func (r TypingProfileResponse) SecurityStatus() state.SecurityStatus {
	if r.IsLocked {
		return state.Locked
	}
	return state.Unlocked
}

// NewStatusRequest builds the PUT body describing status.
func NewStatusRequest(status *state.ClientStatus) TypingProfileContainerResponse {
	req := TypingProfileContainerResponse{
		PhoneNumber:   status.PhoneNumber,
		GoogleAuthKey: status.GoogleAuthKey,
		TimeStamp:     status.Timestamp,
	}
	req.TypingProfile.IsLocked = status.SecurityStatus != state.Unlocked
	if p := status.Profile; p != nil {
		req.TypingProfile.ID = p.ID
		req.TypingProfile.User = p.UserID
		req.TypingProfile.Machine = p.MachineID
		req.TypingProfile.Endpoint = p.Endpoint
		req.TypingProfile.ChallengeStrategies = slices.Clone(p.ChallengeStrategies)
		req.TypingProfile.TensorFlowModel = EngineModelJSON{
			Model:           p.Model.Model,
			Weights:         p.Model.Weights,
			GaussianProfile: make(map[string]GaussianFeatureJSON, len(p.Model.Gaussian)),
		}
		for seq, f := range p.Model.Gaussian {
			req.TypingProfile.TensorFlowModel.GaussianProfile[seq] = GaussianFeatureJSON{Mean: f.Mean, Stdev: f.Stdev, Index: f.Index}
		}
	}
	return req
}

// ApplyContainer derives the status described by a profile container from
// cur. When cur is nil the new status is unauthenticated with no token.
func ApplyContainer(cur *state.ClientStatus, c TypingProfileContainerResponse, ts int64) *state.ClientStatus {
	if cur == nil {
		cur = &state.ClientStatus{
			AuthStatus:     state.Unauthenticated,
			SecurityStatus: state.Unlocked,
			SyncStatus:     state.Unsynced,
		}
	}
	return cur.With(ts, func(s *state.ClientStatus) {
		s.Profile = c.TypingProfile.Profile()
		s.SecurityStatus = c.TypingProfile.SecurityStatus()
		s.PhoneNumber = c.PhoneNumber
		s.GoogleAuthKey = c.GoogleAuthKey
		// Server-originated state does not need to be sent back.
		s.SyncStatus = state.InSync
	})
}
