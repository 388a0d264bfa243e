package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/five82/biokey/internal/analysis"
	"github.com/five82/biokey/internal/challenge"
	"github.com/five82/biokey/internal/config"
	"github.com/five82/biokey/internal/controller"
	"github.com/five82/biokey/internal/persist"
	"github.com/five82/biokey/internal/push"
	"github.com/five82/biokey/internal/server"
	"github.com/five82/biokey/internal/state"
)

// Agent is the running client: the store, the controller and every worker
// bound to them.
type Agent struct {
	Config     config.Config
	Logger     *slog.Logger
	MachineID  string
	Store      *state.Store
	Executor   *server.Executor
	Controller *controller.Controller
	DB         *persist.DB
	Autosaver  *persist.Autosaver
	Engine     *analysis.Engine
	Guard      *challenge.Guard
	Push       *push.Listener
	TOTP       *challenge.TOTP

	detach []func()
}

// NewAgent wires the client from cfg. Listeners are attached immediately so
// nothing enqueued before Run is missed.
func NewAgent(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	machineID, err := cfg.EnsureMachineID()
	if err != nil {
		return nil, err
	}
	endpoints, err := server.NewEndpoints(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	compression, err := persist.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	db, err := persist.Open(filepath.Join(cfg.DataDir, persist.FileName), compression)
	if err != nil {
		return nil, err
	}

	store := &state.Store{Logger: logger}
	exec := server.NewExecutor(nil, logger)
	ctrl := controller.New(controller.Options{
		Store:     store,
		Submitter: exec,
		Endpoints: endpoints,
		MachineID: machineID,
		Logger:    logger,
		IdleSplit: cfg.IdleSplit,
	})

	status := challenge.CurrentStatus(store)
	totp := challenge.NewTOTP(status, ctrl)
	strategies := []challenge.Strategy{totp}
	if cfg.SMSWebhook != "" {
		sender := challenge.WebhookSender{URL: cfg.SMSWebhook, Client: &http.Client{Timeout: 10 * time.Second}}
		strategies = append(strategies, challenge.NewSMS(status, sender))
	}

	var scorer analysis.ScorerFactory
	if len(cfg.ModelCommand) > 0 {
		scorer = analysis.NewProcessScorer(cfg.ModelCommand, 0, logger)
	}

	a := &Agent{
		Config:     cfg,
		Logger:     logger,
		MachineID:  machineID,
		Store:      store,
		Executor:   exec,
		Controller: ctrl,
		DB:         db,
		Autosaver:  persist.NewAutosaver(store, db, cfg.AutosaveEveryKeys, logger),
		Engine: analysis.NewEngine(analysis.Options{
			Store:  store,
			Sink:   ctrl,
			Scorer: scorer,
			Every:  cfg.PredictEvery,
			Logger: logger,
		}),
		Guard: challenge.NewGuard(store, ctrl, logger, strategies...),
		Push: push.New(push.Options{
			Store:     store,
			Updater:   ctrl,
			Endpoints: endpoints,
			Wait:      cfg.PushWait,
			Logger:    logger,
		}),
		TOTP: totp,
	}
	a.detach = []func(){a.Autosaver.Attach(), a.Engine.Attach(), a.Guard.Attach(), a.Push.Attach()}
	return a, nil
}

// Run starts every worker and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Autosaver.Run(gctx) })
	g.Go(func() error { return a.Engine.Run(gctx) })
	g.Go(func() error { return a.Guard.Run(gctx) })
	g.Go(func() error { return a.Push.Run(gctx) })
	g.Go(func() error { return RunSync(gctx, a.Controller, a.Config.SyncInterval, a.Logger) })
	g.Go(func() error { return RunHeartbeat(gctx, a.Controller, a.Store, a.Config.HeartbeatInterval) })

	// Workers attached after the last status change re-derive their state.
	acc := a.Store.NewAccess()
	acc.ObtainAll()
	err := a.Store.NotifyModelChange(acc)
	acc.ReleaseAll()
	if err != nil {
		a.Logger.Warn("notify model change", slog.Any("error", err))
	}
	a.Logger.Info("agent started",
		slog.String("server", a.Config.ServerURL),
		slog.String("machine", a.MachineID))
	return g.Wait()
}

// Close detaches listeners, waits for outstanding requests and closes the
// database. Call it after Run returned.
func (a *Agent) Close() error {
	for _, d := range a.detach {
		d()
	}
	a.Executor.Wait()
	return a.DB.Close()
}

// Restored describes what Restore found.
type Restored int

const (
	// RestoredNothing means there was no saved state; the user must log in.
	RestoredNothing Restored = iota
	// RestoredLoggedOut means saved state was loaded but its session is
	// gone; the user must log in again.
	RestoredLoggedOut
	// RestoredSession means saved state was loaded and the server accepted
	// its token.
	RestoredSession
	// RestoredCorrupt means the saved state was unreadable and discarded;
	// the user must log in again.
	RestoredCorrupt
	// RestoredFromServer means local state was missing or unreadable and
	// the session was rebuilt from the server with a supplied token.
	RestoredFromServer
)

func (r Restored) String() string {
	switch r {
	case RestoredNothing:
		return "no saved state"
	case RestoredLoggedOut:
		return "saved state, session expired"
	case RestoredSession:
		return "session resumed"
	case RestoredCorrupt:
		return "saved state corrupted"
	case RestoredFromServer:
		return "state fetched from server"
	default:
		return fmt.Sprintf("Restored(%d)", int(r))
	}
}

// LoginRequired reports whether the user has to log in after this outcome.
func (r Restored) LoginRequired() bool {
	return r != RestoredSession && r != RestoredFromServer
}

// Restore loads the saved state and re-confirms its session with the server.
// token, when set, is used to rebuild the session if there is no usable
// local state.
func (a *Agent) Restore(ctx context.Context, token string) (Restored, error) {
	snap, err := a.DB.Load(ctx)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		if token != "" {
			return a.resume(ctx, token)
		}
		return RestoredNothing, nil
	case errors.Is(err, persist.ErrCorrupt):
		a.Logger.Warn("discarding corrupted local state", slog.Any("error", err))
		if err := a.DB.Delete(ctx); err != nil {
			return RestoredCorrupt, err
		}
		if token != "" {
			r, err := a.resume(ctx, token)
			if r == RestoredFromServer {
				return r, err
			}
			if err != nil {
				a.Logger.Warn("rebuild session from server failed", slog.Any("error", err))
			}
		}
		return RestoredCorrupt, nil
	case err != nil:
		return RestoredNothing, fmt.Errorf("load local state: %w", err)
	}

	if err := a.Controller.PassStateToModel(snap); err != nil {
		return RestoredNothing, fmt.Errorf("load local state: %w", err)
	}
	saved := ""
	if snap.Current != nil {
		saved = snap.Current.AccessToken
	}
	user, err := await(ctx, func(done func(*server.UserResponse)) { a.Controller.ConfirmAccessToken(done) })
	if err != nil {
		return RestoredLoggedOut, err
	}
	if user == nil {
		a.Logger.Info("saved session no longer valid")
		return RestoredLoggedOut, nil
	}
	if err := a.Controller.ConfirmSession(saved); err != nil {
		return RestoredLoggedOut, err
	}
	a.Logger.Info("session resumed", slog.String("user", user.Email))
	return RestoredSession, nil
}

func (a *Agent) resume(ctx context.Context, token string) (Restored, error) {
	var startErr error
	ok, err := await(ctx, func(done func(bool)) {
		if startErr = a.Controller.ResumeSession(token, done); startErr != nil {
			done(false)
		}
	})
	if startErr != nil {
		return RestoredNothing, startErr
	}
	if err != nil || !ok {
		return RestoredNothing, err
	}
	return RestoredFromServer, nil
}

// Login logs in and blocks until the session is established or refused.
func (a *Agent) Login(ctx context.Context, email, password string) (bool, error) {
	var startErr error
	ok, err := await(ctx, func(done func(bool)) {
		if startErr = a.Controller.SendLoginRequest(email, password, done); startErr != nil {
			done(false)
		}
	})
	if startErr != nil {
		return false, startErr
	}
	return ok, err
}

// Reset forgets everything: the in-memory state and the saved snapshot.
func (a *Agent) Reset(ctx context.Context) error {
	a.Controller.ClearModel()
	return a.DB.Delete(ctx)
}

// Overview is a consistent view of the client for display.
type Overview struct {
	Status          *state.ClientStatus
	PendingStatuses int
	PendingBatches  int
	PendingResults  int
	History         int
	TokenExpiry     time.Time
	Saves           int64
	Analysing       bool
	ChallengesLeft  int
}

// Overview reads the store under every lock.
func (a *Agent) Overview() (Overview, error) {
	acc := a.Store.NewAccess()
	acc.ObtainAll()
	defer acc.ReleaseAll()

	var o Overview
	var err error
	if o.Status, err = a.Store.CurrentStatus(acc); err != nil {
		return o, err
	}
	if o.PendingStatuses, err = a.Store.PendingStatuses(acc); err != nil {
		return o, err
	}
	if o.PendingBatches, err = a.Store.PendingBatches(acc); err != nil {
		return o, err
	}
	if o.PendingResults, err = a.Store.PendingAnalysisResults(acc); err != nil {
		return o, err
	}
	if o.History, err = a.Store.KeyStrokeHistoryLen(acc); err != nil {
		return o, err
	}
	if o.Status != nil && o.Status.AccessToken != "" {
		o.TokenExpiry, _ = server.TokenExpiry(o.Status.AccessToken)
	}
	o.Saves = a.Autosaver.Saves()
	o.Analysing = a.Engine.Running()
	o.ChallengesLeft = a.Guard.Remaining()
	return o, nil
}

// await adapts a callback-style call into a blocking one.
func await[T any](ctx context.Context, start func(done func(T))) (T, error) {
	ch := make(chan T, 1)
	start(func(v T) {
		select {
		case ch <- v:
		default:
		}
	})
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
