package controller

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/five82/biokey/internal/server"
	"github.com/five82/biokey/internal/state"
)

const (
	// WindowSize is the largest number of keystrokes sent in one request.
	WindowSize = 1000

	// DefaultIdleSplit starts a new batch after a pause this long.
	DefaultIdleSplit = time.Minute

	// DefaultHistoryLimit bounds the keystroke history kept for analysis.
	DefaultHistoryLimit = 10000
)

// Done reports whether an asynchronous operation succeeded.
type Done func(ok bool)

type queue int

const (
	queueStatus queue = iota
	queueAnalysis
	queueKeyStrokes
	numQueues
)

func (q queue) String() string {
	switch q {
	case queueStatus:
		return "status"
	case queueAnalysis:
		return "analysis"
	case queueKeyStrokes:
		return "keystrokes"
	default:
		return "unknown"
	}
}

// Options configures a Controller.
type Options struct {
	Store     *state.Store
	Submitter server.Submitter
	Endpoints server.Endpoints
	MachineID string
	Logger    *slog.Logger

	// IdleSplit is the keystroke gap that seals the open batch. Zero uses
	// DefaultIdleSplit.
	IdleSplit time.Duration
	// HistoryLimit caps the keystroke history. Zero uses DefaultHistoryLimit.
	HistoryLimit int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Controller turns the store's unsynced backlog into server requests and
// folds responses back into the store. It never retries on its own; a failed
// send leaves its unit queued for the next call.
type Controller struct {
	store        *state.Store
	submit       server.Submitter
	endpoints    server.Endpoints
	machineID    string
	logger       *slog.Logger
	idleSplit    time.Duration
	historyLimit int
	now          func() time.Time

	mu         sync.Mutex
	generation uint64
	inflight   [numQueues]bool
}

// New builds a Controller bound to opts.Store.
func New(opts Options) *Controller {
	c := &Controller{
		store:        opts.Store,
		submit:       opts.Submitter,
		endpoints:    opts.Endpoints,
		machineID:    opts.MachineID,
		logger:       opts.Logger,
		idleSplit:    opts.IdleSplit,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
	}
	if c.store == nil {
		c.store = &state.Store{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.idleSplit <= 0 {
		c.idleSplit = DefaultIdleSplit
	}
	if c.historyLimit <= 0 {
		c.historyLimit = DefaultHistoryLimit
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Store returns the bound store.
func (c *Controller) Store() *state.Store { return c.store }

// MachineID returns the machine identifier used for profile lookups.
func (c *Controller) MachineID() string { return c.machineID }

func (c *Controller) nowMillis() int64 { return c.now().UnixMilli() }

func (c *Controller) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// begin claims the in-flight slot for q.
func (c *Controller) begin(q queue) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[q] {
		return 0, false
	}
	c.inflight[q] = true
	return c.generation, true
}

// end frees the slot claimed by begin, unless the model was reset since.
func (c *Controller) end(q queue, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.inflight[q] = false
	}
}

// session reads the token and profile id of the current status. ok is false
// when the client has nothing it could send on behalf of.
func (c *Controller) session(a *state.Access) (token, profileID string, ok bool) {
	cur, err := c.store.CurrentStatus(a)
	if err != nil {
		c.logger.Error("read current status", slog.Any("error", err))
		return "", "", false
	}
	if cur == nil || cur.AuthStatus != state.Authenticated || cur.ProfileID() == "" {
		return "", "", false
	}
	return cur.AccessToken, cur.ProfileID(), true
}

// SendKeyStrokes seals the open batch and submits the oldest one. It returns
// false without submitting when there is nothing to send, no authenticated
// session, or a keystroke send is already in flight.
func (c *Controller) SendKeyStrokes(cb Done) bool {
	gen, ok := c.begin(queueKeyStrokes)
	if !ok {
		return false
	}

	a := c.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	token, profileID, ok := c.session(a)
	a.Obtain(state.ResourceKeyStrokes)
	var batch state.KeyStrokeBatch
	if ok {
		ok = c.store.DivideKeyStrokes(a) == nil
	}
	if ok {
		var err error
		batch, ok, err = c.store.OldestKeyStrokes(a)
		ok = ok && err == nil && batch.Len() > 0
	}
	a.ReleaseAll()
	if !ok {
		c.end(queueKeyStrokes, gen)
		return false
	}

	c.submit.SubmitPost(c.endpoints.KeyStrokes(), server.AuthHeader(token),
		server.NewKeyStrokesRequest(batch, profileID), nil,
		func(resp server.Response) {
			defer c.end(queueKeyStrokes, gen)
			success := resp.OK()
			if success {
				success = c.acknowledge(gen, state.ResourceKeyStrokes, func(a *state.Access) (bool, error) {
					return c.store.DequeueSyncedKeyStrokes(a)
				})
			} else {
				c.logger.Debug("keystrokes not synced", slog.Int("status", resp.StatusCode), slog.Int("keys", batch.Len()))
			}
			finish(cb, success)
		})
	return true
}

// SendAnalysisResults submits the oldest unsynced analysis result.
func (c *Controller) SendAnalysisResults(cb Done) bool {
	gen, ok := c.begin(queueAnalysis)
	if !ok {
		return false
	}

	a := c.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	token, profileID, ok := c.session(a)
	a.Obtain(state.ResourceAnalysis)
	var res state.AnalysisResult
	if ok {
		var err error
		res, ok, err = c.store.OldestAnalysisResult(a)
		ok = ok && err == nil
	}
	a.ReleaseAll()
	if !ok {
		c.end(queueAnalysis, gen)
		return false
	}

	body := server.AnalysisResultRequest{TimeStamp: res.Timestamp, Probability: res.Probability, TypingProfile: profileID}
	c.submit.SubmitPost(c.endpoints.AnalysisResults(), server.AuthHeader(token), body, nil,
		func(resp server.Response) {
			defer c.end(queueAnalysis, gen)
			success := resp.OK()
			if success {
				success = c.acknowledge(gen, state.ResourceAnalysis, func(a *state.Access) (bool, error) {
					return c.store.DequeueAnalysisResult(a)
				})
			} else {
				c.logger.Debug("analysis result not synced", slog.Int("status", resp.StatusCode))
			}
			finish(cb, success)
		})
	return true
}

// SendStatusChange submits the oldest unsynced status. Statuses that came from
// the server, or that carry no profile, are dropped from the queue without a
// request.
func (c *Controller) SendStatusChange(cb Done) bool {
	gen, ok := c.begin(queueStatus)
	if !ok {
		return false
	}

	a := c.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	oldest, token := c.nextStatusToSend(a)
	a.Release(state.ResourceStatus)
	if oldest == nil {
		c.end(queueStatus, gen)
		return false
	}

	c.submit.SubmitPut(c.endpoints.Profile(oldest.ProfileID()), server.AuthHeader(token),
		server.NewStatusRequest(oldest), nil,
		func(resp server.Response) {
			defer c.end(queueStatus, gen)
			success := resp.OK()
			if success {
				success = c.acknowledge(gen, state.ResourceStatus, func(a *state.Access) (bool, error) {
					return c.store.DequeueStatus(a)
				})
			} else {
				c.logger.Debug("status not synced", slog.Int("status", resp.StatusCode))
			}
			finish(cb, success)
		})
	return true
}

func (c *Controller) nextStatusToSend(a *state.Access) (*state.ClientStatus, string) {
	cur, err := c.store.CurrentStatus(a)
	if err != nil {
		c.logger.Error("read current status", slog.Any("error", err))
		return nil, ""
	}
	for {
		oldest, err := c.store.OldestStatus(a)
		if err != nil || oldest == nil {
			return nil, ""
		}
		if oldest.SyncStatus == state.InSync || oldest.Profile == nil {
			if _, err := c.store.DequeueStatus(a); err != nil {
				return nil, ""
			}
			continue
		}
		token := oldest.AccessToken
		if token == "" && cur != nil {
			token = cur.AccessToken
		}
		if token == "" {
			return nil, ""
		}
		return oldest, token
	}
}

// acknowledge runs dequeue under resource r unless the model was reset since
// the request was submitted.
func (c *Controller) acknowledge(gen uint64, r state.Resource, dequeue func(*state.Access) (bool, error)) bool {
	a := c.store.NewAccess()
	a.Obtain(r)
	defer a.Release(r)
	if c.currentGeneration() != gen {
		c.logger.Debug("dropping acknowledgement for cleared model", slog.String("resource", r.String()))
		return false
	}
	ok, err := dequeue(a)
	if err != nil {
		c.logger.Error("dequeue after sync", slog.String("resource", r.String()), slog.Any("error", err))
		return false
	}
	return ok
}

// SendLoginRequest exchanges credentials for an access token, fetches this
// machine's typing profile with it and enqueues the resulting authenticated
// status.
func (c *Controller) SendLoginRequest(email, password string, cb Done) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("login: email and password are required: %w", state.ErrValidation)
	}
	gen := c.currentGeneration()

	var out server.LoginResponse
	c.submit.SubmitPost(c.endpoints.Login(), nil, server.LoginRequest{Email: email, Password: password}, &out,
		func(resp server.Response) {
			if !resp.OK() || out.Token == "" {
				c.logger.Info("login rejected", slog.String("email", email), slog.Int("status", resp.StatusCode))
				finish(cb, false)
				return
			}
			c.logger.Info("login accepted", slog.String("email", email))
			c.startSession(gen, out.Token, cb)
		})
	return nil
}

// ResumeSession adopts token without logging in: it fetches this machine's
// typing profile with it and enqueues the resulting authenticated status.
func (c *Controller) ResumeSession(token string, cb Done) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("resume session: token is required: %w", state.ErrValidation)
	}
	c.startSession(c.currentGeneration(), token, cb)
	return nil
}

func (c *Controller) startSession(gen uint64, token string, cb Done) {
	c.RetrieveStatusFromServer(c.machineID, token, func(container *server.TypingProfileContainerResponse, ok bool) {
		if !ok {
			finish(cb, false)
			return
		}
		stale := false
		err := c.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
			if c.currentGeneration() != gen {
				stale = true
				return nil
			}
			ts := c.nowMillis()
			next := server.ApplyContainer(cur, *container, ts)
			return next.With(ts, func(s *state.ClientStatus) {
				s.AuthStatus = state.Authenticated
				s.AccessToken = token
				s.SyncStatus = state.InSync
			})
		})
		if err != nil {
			c.logger.Error("enqueue session status", slog.Any("error", err))
			finish(cb, false)
			return
		}
		if stale {
			c.logger.Info("session discarded after reset")
			finish(cb, false)
			return
		}
		c.logger.Info("session started", slog.String("profile", container.TypingProfile.ID))
		finish(cb, true)
	})
}

// ConfirmSession marks the current status authenticated again after the
// server accepted its token. It does nothing when the token changed in the
// meantime.
func (c *Controller) ConfirmSession(token string) error {
	return c.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
		if cur == nil || cur.AccessToken != token || cur.AuthStatus == state.Authenticated {
			return nil
		}
		return cur.With(c.nowMillis(), func(s *state.ClientStatus) {
			s.AuthStatus = state.Authenticated
			s.SyncStatus = state.InSync
		})
	})
}

// RetrieveStatusFromServer fetches the server's view of the typing profile for
// machineID. cb receives nil and false on failure.
func (c *Controller) RetrieveStatusFromServer(machineID, token string, cb func(*server.TypingProfileContainerResponse, bool)) {
	var out server.TypingProfileContainerResponse
	c.submit.SubmitPost(c.endpoints.MachineProfile(machineID), server.AuthHeader(token), struct{}{}, &out,
		func(resp server.Response) {
			if !resp.OK() || out.TypingProfile.ID == "" {
				c.logger.Warn("typing profile unavailable", slog.String("machine", machineID), slog.Int("status", resp.StatusCode))
				if cb != nil {
					cb(nil, false)
				}
				return
			}
			if cb != nil {
				cb(&out, true)
			}
		})
}

// ConfirmAccessToken asks the server who the current token belongs to. With no
// local status or no token it calls cb(nil) immediately and returns false
// without touching the network.
func (c *Controller) ConfirmAccessToken(cb func(*server.UserResponse)) bool {
	a := c.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	cur, err := c.store.CurrentStatus(a)
	a.Release(state.ResourceStatus)

	if err != nil || cur == nil || cur.AccessToken == "" {
		if cb != nil {
			cb(nil)
		}
		return false
	}

	var out server.UserResponse
	c.submit.SubmitGet(c.endpoints.Me(), server.AuthHeader(cur.AccessToken), &out,
		func(resp server.Response) {
			if cb == nil {
				return
			}
			if !resp.OK() {
				cb(nil)
				return
			}
			cb(&out)
		})
	return true
}

// SendHeartbeat tells the server the client is alive. Failures are logged only.
func (c *Controller) SendHeartbeat(profileID string, cb Done) bool {
	a := c.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	cur, err := c.store.CurrentStatus(a)
	a.Release(state.ResourceStatus)

	if err != nil || cur == nil || profileID == "" {
		finish(cb, false)
		return false
	}

	c.submit.SubmitPost(c.endpoints.Heartbeat(profileID), server.AuthHeader(cur.AccessToken), nil, nil,
		func(resp server.Response) {
			if !resp.OK() {
				c.logger.Warn("heartbeat failed", slog.String("profile", profileID), slog.Int("status", resp.StatusCode))
			}
			finish(cb, resp.OK())
		})
	return true
}

// EnqueueKeyStroke records k, sealing the open batch first when it is full or
// when k follows a pause longer than the idle split. The history is trimmed
// to the configured limit.
func (c *Controller) EnqueueKeyStroke(k state.KeyStroke) error {
	a := c.store.NewAccess()
	a.Obtain(state.ResourceKeyStrokes)
	defer a.Release(state.ResourceKeyStrokes)

	newest, ok, err := c.store.NewestKeyStrokes(a)
	if err != nil {
		return err
	}
	if ok && newest.Len() > 0 {
		last := newest.KeyStrokes[newest.Len()-1]
		if newest.Len() >= WindowSize || k.Timestamp-last.Timestamp > c.idleSplit.Milliseconds() {
			if err := c.store.DivideKeyStrokes(a); err != nil {
				return err
			}
		}
	}
	if err := c.store.EnqueueKeyStroke(a, k); err != nil {
		return err
	}

	size, err := c.store.KeyStrokeHistoryLen(a)
	if err != nil {
		return err
	}
	for range size - c.historyLimit {
		if _, err := c.store.DequeueAllKeyStrokes(a); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueAnalysisResult records res.
func (c *Controller) EnqueueAnalysisResult(res state.AnalysisResult) error {
	a := c.store.NewAccess()
	a.Obtain(state.ResourceAnalysis)
	defer a.Release(state.ResourceAnalysis)
	return c.store.EnqueueAnalysisResult(a, res)
}

// EnqueueStatus derives a new status from the current one under the status
// lock. derive may return nil to leave the status unchanged.
func (c *Controller) EnqueueStatus(derive func(cur *state.ClientStatus) *state.ClientStatus) error {
	a := c.store.NewAccess()
	a.Obtain(state.ResourceStatus)
	defer a.Release(state.ResourceStatus)

	cur, err := c.store.CurrentStatus(a)
	if err != nil {
		return err
	}
	next := derive(cur)
	if next == nil {
		return nil
	}
	return c.store.EnqueueStatus(a, next)
}

// SetSecurityStatus moves the current status to sec. It does nothing when the
// client has no status or is already in sec.
func (c *Controller) SetSecurityStatus(sec state.SecurityStatus) error {
	return c.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
		if cur == nil || cur.SecurityStatus == sec {
			return nil
		}
		return c.CreateStatusWithSecurity(cur, sec)
	})
}

// SetGoogleAuthKey stores a freshly generated TOTP secret on the current status.
func (c *Controller) SetGoogleAuthKey(key string) error {
	return c.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
		if cur == nil {
			return nil
		}
		return c.CreateStatusWithGoogleAuthKey(cur, key)
	})
}

// Logout marks the current status unauthenticated. Persisted state is kept.
func (c *Controller) Logout() error {
	return c.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
		if cur == nil || cur.AuthStatus == state.Unauthenticated {
			return nil
		}
		return c.CreateStatusWithAuth(cur, state.Unauthenticated)
	})
}

// PassStateToModel replaces the store's contents with snap. A snapshot that
// was saved while authenticated is loaded unauthenticated so the user must
// confirm the session again.
func (c *Controller) PassStateToModel(snap *state.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("pass state to model: snapshot is nil: %w", state.ErrValidation)
	}
	a := c.store.NewAccess()
	a.ObtainAll()
	defer a.ReleaseAll()

	c.reset()
	if err := c.store.LoadStateFromMemory(a, snap); err != nil {
		return err
	}
	cur, err := c.store.CurrentStatus(a)
	if err != nil {
		return err
	}
	if cur != nil && cur.AuthStatus == state.Authenticated {
		return c.store.EnqueueStatus(a, c.CreateStatusWithAuth(cur, state.Unauthenticated))
	}
	return nil
}

// ClearModel empties the in-memory store. Responses to requests submitted
// before the call are ignored. Persisted data is not touched.
func (c *Controller) ClearModel() {
	a := c.store.NewAccess()
	a.ObtainAll()
	defer a.ReleaseAll()

	c.reset()
	if err := c.store.Clear(a); err != nil {
		c.logger.Error("clear store", slog.Any("error", err))
	}
}

// reset invalidates in-flight requests. Callers hold every store resource.
func (c *Controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inflight = [numQueues]bool{}
}

func finish(cb Done, ok bool) {
	if cb != nil {
		cb(ok)
	}
}
