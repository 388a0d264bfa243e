package persist

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/five82/biokey/internal/state"
)

// Saver persists snapshots. *DB implements it.
type Saver interface {
	Save(ctx context.Context, snap *state.Snapshot) error
}

// DefaultSaveEvery is the number of keystrokes between autosaves.
const DefaultSaveEvery = 200

// Autosaver writes the store to a Saver whenever the status changes, an
// analysis result arrives, or every N keystrokes. Listeners only signal; the
// snapshot is taken on the goroutine running Run, outside any listener.
type Autosaver struct {
	store  *state.Store
	saver  Saver
	every  int64
	logger *slog.Logger

	keys  atomic.Int64
	kick  chan struct{}
	saves atomic.Int64
}

// NewAutosaver builds an Autosaver. every <= 0 uses DefaultSaveEvery.
func NewAutosaver(store *state.Store, saver Saver, every int, logger *slog.Logger) *Autosaver {
	if every <= 0 {
		every = DefaultSaveEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{
		store:  store,
		saver:  saver,
		every:  int64(every),
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Attach registers the store listeners. The returned func removes them.
func (a *Autosaver) Attach() (detach func()) {
	removeStatus := a.store.OnStatusChange(func(_, next *state.ClientStatus) {
		if next != nil {
			a.request()
		}
	})
	removeKeys := a.store.OnKeyStroke(func(state.KeyStroke) {
		if a.keys.Add(1) >= a.every {
			a.keys.Store(0)
			a.request()
		}
	})
	removeResults := a.store.OnAnalysisResult(func(state.AnalysisResult) {
		a.request()
	})
	return func() {
		removeStatus()
		removeKeys()
		removeResults()
	}
}

func (a *Autosaver) request() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Saves returns the number of successful saves.
func (a *Autosaver) Saves() int64 { return a.saves.Load() }

// Run saves on every request until ctx is done, then saves once more.
func (a *Autosaver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final save must still be written.
			if err := a.SaveNow(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("final save failed", slog.Any("error", err))
			}
			return nil
		case <-a.kick:
			if err := a.SaveNow(ctx); err != nil {
				a.logger.Warn("autosave failed", slog.Any("error", err))
			}
		}
	}
}

// SaveNow snapshots the store and saves it. A store without a current status
// has nothing worth keeping and is skipped.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	acc := a.store.NewAccess()
	if err := acc.ObtainContext(ctx, state.ResourceAll); err != nil {
		return err
	}
	snap, err := a.store.Snapshot(acc)
	acc.ReleaseAll()
	if err != nil {
		return err
	}
	if snap.Current == nil {
		return nil
	}
	if err := a.saver.Save(ctx, snap); err != nil {
		return err
	}
	a.saves.Add(1)
	a.logger.Debug("state saved",
		slog.Int("pending_batches", len(snap.Batches)),
		slog.Int("history", len(snap.History)))
	return nil
}
