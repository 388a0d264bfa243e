package persist

import (
	"github.com/five82/biokey/internal/state"
)

// Records use integer keys so the encoding stays compact and field renames in
// internal/state never change the file format.

type profileRecord struct {
	ID         string                    `cbor:"1,keyasint"`
	MachineID  string                    `cbor:"2,keyasint"`
	UserID     string                    `cbor:"3,keyasint"`
	Model      string                    `cbor:"4,keyasint,omitempty"`
	Weights    string                    `cbor:"5,keyasint,omitempty"`
	Gaussian   map[string]gaussianRecord `cbor:"6,keyasint,omitempty"`
	Strategies []string                  `cbor:"7,keyasint,omitempty"`
	Endpoint   string                    `cbor:"8,keyasint,omitempty"`
}

type gaussianRecord struct {
	Mean  float64 `cbor:"1,keyasint"`
	Stdev float64 `cbor:"2,keyasint"`
	Index int     `cbor:"3,keyasint"`
}

type statusRecord struct {
	Profile       *profileRecord `cbor:"1,keyasint,omitempty"`
	Auth          string         `cbor:"2,keyasint"`
	Security      string         `cbor:"3,keyasint"`
	AccessToken   string         `cbor:"4,keyasint,omitempty"`
	PhoneNumber   string         `cbor:"5,keyasint,omitempty"`
	GoogleAuthKey string         `cbor:"6,keyasint,omitempty"`
	Timestamp     int64          `cbor:"7,keyasint"`
	Sync          string         `cbor:"8,keyasint"`
}

type keyRecord struct {
	Char      rune  `cbor:"1,keyasint"`
	KeyDown   bool  `cbor:"2,keyasint"`
	Timestamp int64 `cbor:"3,keyasint"`
}

type batchRecord struct {
	Keys []keyRecord `cbor:"1,keyasint"`
	Sync string      `cbor:"2,keyasint"`
}

type resultRecord struct {
	Timestamp   int64   `cbor:"1,keyasint"`
	Probability float64 `cbor:"2,keyasint"`
}

type snapshotRecord struct {
	Version  int            `cbor:"0,keyasint"`
	Current  *statusRecord  `cbor:"1,keyasint,omitempty"`
	Statuses []statusRecord `cbor:"2,keyasint,omitempty"`
	Results  []resultRecord `cbor:"3,keyasint,omitempty"`
	Batches  []batchRecord  `cbor:"4,keyasint,omitempty"`
	History  []keyRecord    `cbor:"5,keyasint,omitempty"`
}

const recordVersion = 1

func fromSnapshot(snap *state.Snapshot) snapshotRecord {
	rec := snapshotRecord{Version: recordVersion, Current: fromStatus(snap.Current)}
	for _, st := range snap.Statuses {
		if r := fromStatus(st); r != nil {
			rec.Statuses = append(rec.Statuses, *r)
		}
	}
	for _, res := range snap.AnalysisResults {
		rec.Results = append(rec.Results, resultRecord{Timestamp: res.Timestamp, Probability: res.Probability})
	}
	for _, b := range snap.Batches {
		rec.Batches = append(rec.Batches, batchRecord{Keys: fromKeys(b.KeyStrokes), Sync: string(b.SyncStatus)})
	}
	rec.History = fromKeys(snap.History)
	return rec
}

func (rec snapshotRecord) snapshot() *state.Snapshot {
	snap := &state.Snapshot{Current: rec.Current.status()}
	for _, st := range rec.Statuses {
		snap.Statuses = append(snap.Statuses, st.status())
	}
	for _, r := range rec.Results {
		snap.AnalysisResults = append(snap.AnalysisResults, state.AnalysisResult{Timestamp: r.Timestamp, Probability: r.Probability})
	}
	for _, b := range rec.Batches {
		snap.Batches = append(snap.Batches, state.KeyStrokeBatch{KeyStrokes: toKeys(b.Keys), SyncStatus: state.SyncStatus(b.Sync)})
	}
	snap.History = toKeys(rec.History)
	return snap
}

func fromStatus(s *state.ClientStatus) *statusRecord {
	if s == nil {
		return nil
	}
	return &statusRecord{
		Profile:       fromProfile(s.Profile),
		Auth:          string(s.AuthStatus),
		Security:      string(s.SecurityStatus),
		AccessToken:   s.AccessToken,
		PhoneNumber:   s.PhoneNumber,
		GoogleAuthKey: s.GoogleAuthKey,
		Timestamp:     s.Timestamp,
		Sync:          string(s.SyncStatus),
	}
}

func (r *statusRecord) status() *state.ClientStatus {
	if r == nil {
		return nil
	}
	return &state.ClientStatus{
		Profile:        r.Profile.profile(),
		AuthStatus:     state.AuthStatus(r.Auth),
		SecurityStatus: state.SecurityStatus(r.Security),
		AccessToken:    r.AccessToken,
		PhoneNumber:    r.PhoneNumber,
		GoogleAuthKey:  r.GoogleAuthKey,
		Timestamp:      r.Timestamp,
		SyncStatus:     state.SyncStatus(r.Sync),
	}
}

func fromProfile(p *state.TypingProfile) *profileRecord {
	if p == nil {
		return nil
	}
	rec := &profileRecord{
		ID:         p.ID,
		MachineID:  p.MachineID,
		UserID:     p.UserID,
		Model:      p.Model.Model,
		Weights:    p.Model.Weights,
		Strategies: p.ChallengeStrategies,
		Endpoint:   p.Endpoint,
	}
	if len(p.Model.Gaussian) > 0 {
		rec.Gaussian = make(map[string]gaussianRecord, len(p.Model.Gaussian))
		for seq, f := range p.Model.Gaussian {
			rec.Gaussian[seq] = gaussianRecord{Mean: f.Mean, Stdev: f.Stdev, Index: f.Index}
		}
	}
	return rec
}

func (r *profileRecord) profile() *state.TypingProfile {
	if r == nil {
		return nil
	}
	p := &state.TypingProfile{
		ID:                  r.ID,
		MachineID:           r.MachineID,
		UserID:              r.UserID,
		Model:               state.EngineModel{Model: r.Model, Weights: r.Weights},
		ChallengeStrategies: r.Strategies,
		Endpoint:            r.Endpoint,
	}
	if len(r.Gaussian) > 0 {
		p.Model.Gaussian = make(map[string]state.GaussianFeature, len(r.Gaussian))
		for seq, f := range r.Gaussian {
			p.Model.Gaussian[seq] = state.GaussianFeature{Mean: f.Mean, Stdev: f.Stdev, Index: f.Index}
		}
	}
	return p
}

func fromKeys(keys []state.KeyStroke) []keyRecord {
	if len(keys) == 0 {
		return nil
	}
	out := make([]keyRecord, len(keys))
	for i, k := range keys {
		out[i] = keyRecord{Char: k.Char, KeyDown: k.KeyDown, Timestamp: k.Timestamp}
	}
	return out
}

func toKeys(recs []keyRecord) []state.KeyStroke {
	if len(recs) == 0 {
		return nil
	}
	out := make([]state.KeyStroke, len(recs))
	for i, r := range recs {
		out[i] = state.KeyStroke{Char: r.Char, KeyDown: r.KeyDown, Timestamp: r.Timestamp}
	}
	return out
}
