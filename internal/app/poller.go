package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/five82/biokey/internal/controller"
	"github.com/five82/biokey/internal/state"
)

const (
	defaultSyncInterval      = 2 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	maxBackoff               = 30 * time.Second
)

// Syncer sends one unit from each outbound queue. *controller.Controller
// implements it.
type Syncer interface {
	SendStatusChange(cb controller.Done) bool
	SendKeyStrokes(cb controller.Done) bool
	SendAnalysisResults(cb controller.Done) bool
}

// calculateBackoff returns the delay before the next sync round: the base
// interval doubled per consecutive failed round, capped at maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	backoff := base
	for i := 0; i < failures; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// RunSync drains the outbound queues until ctx is done. Each round offers
// every queue one send and waits for the submitted requests to finish; a
// round with any failure stretches the delay to the next one.
func RunSync(ctx context.Context, s Syncer, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for {
		ok := syncRound(ctx, s)
		if ok {
			if failures > 0 {
				logger.Info("sync recovered", slog.Int("failed_rounds", failures))
			}
			failures = 0
		} else {
			failures++
		}
		delay := calculateBackoff(failures, interval)
		if failures > 0 {
			logger.Debug("sync round failed", slog.Int("failures", failures), slog.Duration("retry_in", delay))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// syncRound reports false when any submitted request failed.
func syncRound(ctx context.Context, s Syncer) bool {
	results := make(chan bool, 3)
	cb := func(ok bool) { results <- ok }

	submitted := 0
	for _, send := range []func(controller.Done) bool{s.SendStatusChange, s.SendKeyStrokes, s.SendAnalysisResults} {
		if send(cb) {
			submitted++
		}
	}

	ok := true
	for range submitted {
		select {
		case <-ctx.Done():
			return ok
		case r := <-results:
			ok = ok && r
		}
	}
	return ok
}

// Heartbeater is the part of the controller the heartbeat loop needs.
type Heartbeater interface {
	SendHeartbeat(profileID string, cb controller.Done) bool
}

// RunHeartbeat tells the server the client is alive every interval while a
// session with a profile exists.
func RunHeartbeat(ctx context.Context, h Heartbeater, store *state.Store, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		a := store.NewAccess()
		a.Obtain(state.ResourceStatus)
		cur, err := store.CurrentStatus(a)
		a.Release(state.ResourceStatus)
		if err != nil || cur == nil || cur.AuthStatus != state.Authenticated {
			continue
		}
		h.SendHeartbeat(cur.ProfileID(), nil)
	}
}
