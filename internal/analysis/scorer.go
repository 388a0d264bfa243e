package analysis

import (
	"context"
	"errors"

	"github.com/five82/biokey/internal/state"
)

// ErrNoFeatures means the frames carry nothing to score yet.
var ErrNoFeatures = errors.New("no features to score")

// Scorer turns feature frames into the probability that the typist is the
// enrolled user. Implementations need not clamp; the engine does.
type Scorer interface {
	Predict(ctx context.Context, frames Frames) (float64, error)
	Close() error
}

// ScorerFactory prepares a scorer for a profile's model.
type ScorerFactory func(ctx context.Context, model state.EngineModel) (Scorer, error)

// MeanScorer averages the gaussian scores of recently completed sequences.
// It needs nothing beyond the gaussian profile.
type MeanScorer struct{}

// NewMeanScorer is a ScorerFactory for MeanScorer.
func NewMeanScorer(context.Context, state.EngineModel) (Scorer, error) {
	return MeanScorer{}, nil
}

func (MeanScorer) Predict(_ context.Context, frames Frames) (float64, error) {
	if len(frames.Recent) == 0 {
		return 0, ErrNoFeatures
	}
	var sum float64
	for _, s := range frames.Recent {
		sum += s
	}
	return sum / float64(len(frames.Recent)), nil
}

func (MeanScorer) Close() error { return nil }
