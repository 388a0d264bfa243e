package analysis

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/five82/biokey/internal/mailbox"
	"github.com/five82/biokey/internal/state"
)

// ResultSink receives analysis results. *controller.Controller implements it.
type ResultSink interface {
	EnqueueAnalysisResult(res state.AnalysisResult) error
}

// Options configures an Engine.
type Options struct {
	Store *state.Store
	Sink  ResultSink

	// Scorer is used for profiles that carry a model. When it is nil, or
	// fails to start, the engine falls back to MeanScorer.
	Scorer ScorerFactory

	// Every emits one result per this many completed sequences. Zero means 1.
	Every int

	// PredictTimeout bounds a single prediction. Zero means 5s.
	PredictTimeout time.Duration

	Logger *slog.Logger
}

// Engine scores typing against the current profile. It runs while the client
// is authenticated and the profile carries a model, and is idle otherwise.
type Engine struct {
	opts   Options
	logger *slog.Logger
	events *mailbox.Mailbox[engineEvent]

	// Owned by the Run goroutine.
	model   *state.TypingProfile
	tracker *tracker
	scorer  Scorer
	pending int

	mu      sync.Mutex
	running bool
	emitted int
}

type engineEvent struct {
	key    *state.KeyStroke
	status *state.ClientStatus
}

// NewEngine builds an Engine. Call Attach and then Run.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Every <= 0 {
		opts.Every = 1
	}
	if opts.PredictTimeout <= 0 {
		opts.PredictTimeout = 5 * time.Second
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "analysis")),
		events: mailbox.New[engineEvent](),
	}
}

// Attach registers the store listeners. The returned func removes them.
func (e *Engine) Attach() (detach func()) {
	removeStatus := e.opts.Store.OnStatusChange(func(_, next *state.ClientStatus) {
		e.events.Put(engineEvent{status: next})
	})
	removeKeys := e.opts.Store.OnKeyStroke(func(k state.KeyStroke) {
		e.events.Put(engineEvent{key: &k})
	})
	return func() {
		removeStatus()
		removeKeys()
	}
}

// Running reports whether the engine is scoring keystrokes.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Emitted returns the number of results handed to the sink.
func (e *Engine) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted
}

// Run handles queued events until ctx is done, then stops the scorer.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.events.Ready():
		}
		for _, ev := range e.events.Drain() {
			if ev.key != nil {
				e.handleKey(ctx, *ev.key)
			} else {
				e.handleStatus(ctx, ev.status)
			}
		}
	}
}

func (e *Engine) handleStatus(ctx context.Context, next *state.ClientStatus) {
	if next == nil || next.AuthStatus != state.Authenticated || !next.Profile.HasModel() {
		if e.tracker != nil {
			e.logger.Info("analysis stopped")
		}
		e.stop()
		return
	}
	if e.tracker != nil && sameModel(e.model, next.Profile) {
		return
	}
	e.stop()
	e.start(ctx, next.Profile)
}

func (e *Engine) start(ctx context.Context, profile *state.TypingProfile) {
	var scorer Scorer
	if profile.Model.Model != "" && e.opts.Scorer != nil {
		s, err := e.opts.Scorer(ctx, profile.Model)
		if err != nil {
			e.logger.Warn("model scorer unavailable, using gaussian mean", slog.Any("error", err))
		} else {
			scorer = s
		}
	}
	if scorer == nil {
		scorer = MeanScorer{}
	}
	e.model = profile
	e.tracker = newTracker(maps.Clone(profile.Model.Gaussian))
	e.scorer = scorer
	e.pending = 0
	e.setRunning(true)
	e.logger.Info("analysis started",
		slog.String("profile", profile.ID),
		slog.Int("sequences", len(profile.Model.Gaussian)))
}

func (e *Engine) stop() {
	if e.scorer != nil {
		if err := e.scorer.Close(); err != nil {
			e.logger.Warn("close scorer", slog.Any("error", err))
		}
	}
	e.model, e.tracker, e.scorer = nil, nil, nil
	e.setRunning(false)
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

func (e *Engine) handleKey(ctx context.Context, k state.KeyStroke) {
	if e.tracker == nil || !e.tracker.observe(k) {
		return
	}
	e.pending++
	if e.pending < e.opts.Every {
		return
	}
	e.pending = 0

	predictCtx, cancel := context.WithTimeout(ctx, e.opts.PredictTimeout)
	p, err := e.scorer.Predict(predictCtx, e.tracker.frames())
	cancel()
	if errors.Is(err, ErrNoFeatures) {
		return
	}
	if err != nil {
		e.logger.Warn("prediction failed, using gaussian mean", slog.Any("error", err))
		_ = e.scorer.Close()
		e.scorer = MeanScorer{}
		if p, err = e.scorer.Predict(ctx, e.tracker.frames()); err != nil {
			return
		}
	}

	res := state.AnalysisResult{Timestamp: k.Timestamp, Probability: clamp(p)}
	if err := e.opts.Sink.EnqueueAnalysisResult(res); err != nil {
		e.logger.Error("enqueue analysis result", slog.Any("error", err))
		return
	}
	e.mu.Lock()
	e.emitted++
	e.mu.Unlock()
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

func sameModel(a, b *state.TypingProfile) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.ID == b.ID &&
		a.Model.Model == b.Model.Model &&
		a.Model.Weights == b.Model.Weights &&
		maps.Equal(a.Model.Gaussian, b.Model.Gaussian)
}
