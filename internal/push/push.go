package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/five82/biokey/internal/server"
	"github.com/five82/biokey/internal/state"
)

// Change types carried by push messages.
const (
	ChangeTypingProfile = "TypingProfile"
	ChangeUser          = "User"
)

const (
	defaultWait = 30 * time.Second
	maxBackoff  = 30 * time.Second
)

// ErrUnknownChange marks a message with a change type the client does not handle.
var ErrUnknownChange = errors.New("unknown change type")

// Message is one server push.
type Message struct {
	ID         string          `json:"id"`
	ChangeType string          `json:"changeType"`
	Body       json.RawMessage `json:"body"`
}

// StatusUpdater folds pushed changes into the current status.
// *controller.Controller implements it.
type StatusUpdater interface {
	EnqueueStatus(derive func(cur *state.ClientStatus) *state.ClientStatus) error
}

// Options configures a Listener.
type Options struct {
	Store     *state.Store
	Updater   StatusUpdater
	Endpoints server.Endpoints

	// Client performs the long polls. Its timeout must exceed Wait.
	Client *http.Client
	// Wait is how long the server may hold a poll open.
	Wait time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Listener long-polls the profile's push endpoint while the client is
// authenticated and applies every message it receives.
type Listener struct {
	opts   Options
	logger *slog.Logger
	kick   chan struct{}
}

// New builds a Listener. Call Attach and then Run.
func New(opts Options) *Listener {
	if opts.Wait <= 0 {
		opts.Wait = defaultWait
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Wait + 10*time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Listener{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "push")),
		kick:   make(chan struct{}, 1),
	}
}

// Attach wakes the listener on every status change, so a new session or a
// logout takes effect without waiting for the current poll to return.
func (l *Listener) Attach() (detach func()) {
	return l.opts.Store.OnStatusChange(func(_, _ *state.ClientStatus) {
		select {
		case l.kick <- struct{}{}:
		default:
		}
	})
}

type session struct {
	url   string
	token string
}

func (l *Listener) session() (session, bool) {
	a := l.opts.Store.NewAccess()
	a.Obtain(state.ResourceStatus)
	cur, err := l.opts.Store.CurrentStatus(a)
	a.Release(state.ResourceStatus)
	if err != nil || cur == nil || cur.AuthStatus != state.Authenticated || cur.Profile == nil || cur.Profile.Endpoint == "" {
		return session{}, false
	}
	u, err := l.opts.Endpoints.Push(cur.Profile.Endpoint)
	if err != nil {
		l.logger.Warn("invalid push endpoint", slog.Any("error", err))
		return session{}, false
	}
	return session{url: u, token: cur.AccessToken}, true
}

// Run polls until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	failures := 0
	for {
		sess, ok := l.session()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-l.kick:
				continue
			}
		}

		pollCtx, cancel := context.WithCancel(ctx)
		go l.watchSession(pollCtx, cancel, sess)
		msgs, err := l.Poll(pollCtx, sess.url, sess.token)
		interrupted := pollCtx.Err() != nil
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		if interrupted {
			// Session changed mid-poll; re-read it.
			failures = 0
			continue
		}
		if err != nil {
			failures++
			delay := backoff(failures)
			l.logger.Warn("push poll failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		for _, m := range msgs {
			if err := l.Apply(m); err != nil {
				l.logger.Warn("push message not applied",
					slog.String("id", m.ID),
					slog.String("change_type", m.ChangeType),
					slog.Any("error", err))
			}
			// Unusable messages are acknowledged too, or they would be
			// redelivered forever.
			if err := l.Ack(ctx, sess.url, sess.token, m.ID); err != nil {
				l.logger.Warn("push ack failed", slog.String("id", m.ID), slog.Any("error", err))
			}
		}
	}
}

// watchSession cancels the poll when a status change moves the session to
// another endpoint or token, or ends it.
func (l *Listener) watchSession(ctx context.Context, cancel context.CancelFunc, sess session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.kick:
			if next, ok := l.session(); !ok || next != sess {
				cancel()
				return
			}
		}
	}
}

func backoff(failures int) time.Duration {
	d := time.Second
	for i := 1; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// Poll issues one long poll and returns the pending messages. A 204 or an
// empty array means nothing happened within the wait.
func (l *Listener) Poll(ctx context.Context, pushURL, token string) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pushURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	q := req.URL.Query()
	q.Set("wait", strconv.Itoa(int(l.opts.Wait/time.Second)))
	req.URL.RawQuery = q.Encode()
	req.Header = server.AuthHeader(token)
	req.Header.Set("Accept", "application/json")

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w: %w", server.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("poll returned status %d: %w", resp.StatusCode, server.ErrNetwork)
	}
	var msgs []Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode push messages: %w: %w", server.ErrSerialization, err)
	}
	return msgs, nil
}

// Ack removes a processed message from the server's queue.
func (l *Listener) Ack(ctx context.Context, pushURL, token, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, server.PushAck(pushURL, id), nil)
	if err != nil {
		return fmt.Errorf("create ack request: %w", err)
	}
	req.Header = server.AuthHeader(token)
	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ack: %w: %w", server.ErrNetwork, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("ack returned status %d: %w", resp.StatusCode, server.ErrNetwork)
	}
	return nil
}

// Apply folds one message into the current status. Changes arriving while
// there is no status are dropped.
func (l *Listener) Apply(m Message) error {
	ts := l.opts.Now().UnixMilli()
	switch m.ChangeType {
	case ChangeTypingProfile:
		var c server.TypingProfileContainerResponse
		if err := json.Unmarshal(m.Body, &c); err != nil {
			return fmt.Errorf("decode profile change: %w: %w", server.ErrSerialization, err)
		}
		return l.opts.Updater.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
			if cur == nil {
				return nil
			}
			return server.ApplyContainer(cur, c, ts)
		})
	case ChangeUser:
		var u server.UserContainerResponse
		if err := json.Unmarshal(m.Body, &u); err != nil {
			return fmt.Errorf("decode user change: %w: %w", server.ErrSerialization, err)
		}
		return l.opts.Updater.EnqueueStatus(func(cur *state.ClientStatus) *state.ClientStatus {
			if cur == nil {
				return nil
			}
			return applyUser(cur, u, ts)
		})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChange, m.ChangeType)
	}
}

func applyUser(cur *state.ClientStatus, u server.UserContainerResponse, ts int64) *state.ClientStatus {
	return cur.With(ts, func(s *state.ClientStatus) {
		if u.IsLogout() {
			s.AuthStatus = state.Unauthenticated
			s.AccessToken = ""
		}
		if u.PhoneNumber != "" {
			s.PhoneNumber = u.PhoneNumber
		}
		if u.GoogleAuthKey != "" {
			s.GoogleAuthKey = u.GoogleAuthKey
		}
		s.SyncStatus = state.InSync
	})
}
