package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/five82/biokey/internal/mailbox"
	"github.com/five82/biokey/internal/state"
)

// ErrNoChallenge is returned by Attempt when the client is not in CHALLENGE.
var ErrNoChallenge = errors.New("no challenge in progress")

// MaxChallengeAttempts is the number of wrong answers allowed before the
// machine is locked.
const MaxChallengeAttempts = 3

const (
	longWindow       = 20
	shortWindow      = 10
	instantThreshold = 0.02
	meanThreshold    = 0.15
	lowThreshold     = 0.1
	lowCountTrigger  = 5
)

// StatusSetter applies security transitions and stores TOTP secrets.
// *controller.Controller implements it.
type StatusSetter interface {
	KeyStore
	SetSecurityStatus(sec state.SecurityStatus) error
}

// Outcome is the result of one challenge attempt.
type Outcome int

const (
	// OutcomeMalformed means the attempt was not a well-formed code and did
	// not count.
	OutcomeMalformed Outcome = iota
	OutcomeFailed
	OutcomePassed
	OutcomeLocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMalformed:
		return "malformed"
	case OutcomeFailed:
		return "failed"
	case OutcomePassed:
		return "passed"
	case OutcomeLocked:
		return "locked"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Guard watches analysis results and moves the client into CHALLENGE when
// recent typing stops matching the profile. It also runs challenge attempts
// and applies their outcome.
type Guard struct {
	store      *state.Store
	ctrl       StatusSetter
	strategies map[string]Strategy
	logger     *slog.Logger
	events     *mailbox.Mailbox[guardEvent]

	mu        sync.Mutex
	latest    *state.ClientStatus
	long      []float64
	short     []float64
	remaining int
}

// NewGuard builds a Guard over the given strategies, keyed by their server
// representation.
func NewGuard(store *state.Store, ctrl StatusSetter, logger *slog.Logger, strategies ...Strategy) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		store:      store,
		ctrl:       ctrl,
		strategies: make(map[string]Strategy, len(strategies)),
		logger:     logger,
		remaining:  MaxChallengeAttempts,
		events:     mailbox.New[guardEvent](),
	}
	for _, s := range strategies {
		g.strategies[s.ServerRepresentation()] = s
	}
	return g
}

type guardEvent struct {
	result    *state.AnalysisResult
	old, next *state.ClientStatus
}

// Attach registers the store listeners. The returned func removes them.
func (g *Guard) Attach() (detach func()) {
	removeStatus := g.store.OnStatusChange(func(old, next *state.ClientStatus) {
		g.events.Put(guardEvent{old: old, next: next})
	})
	removeResults := g.store.OnAnalysisResult(func(res state.AnalysisResult) {
		g.events.Put(guardEvent{result: &res})
	})
	return func() {
		removeStatus()
		removeResults()
	}
}

// Run handles queued events until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.events.Ready():
		}
		for _, ev := range g.events.Drain() {
			if ev.result != nil {
				g.handleResult(*ev.result)
			} else {
				g.handleStatus(ctx, ev.old, ev.next)
			}
		}
	}
}

func (g *Guard) handleStatus(ctx context.Context, old, next *state.ClientStatus) {
	g.mu.Lock()
	g.latest = next
	var oldSec, newSec state.SecurityStatus
	if old != nil {
		oldSec = old.SecurityStatus
	}
	if next != nil {
		newSec = next.SecurityStatus
	}
	if oldSec != newSec {
		switch newSec {
		case state.Challenge:
			g.remaining = MaxChallengeAttempts
		case state.Unlocked, "":
			g.long, g.short = nil, nil
		}
	}
	g.mu.Unlock()

	if next == nil || next.Profile == nil {
		return
	}
	accepted := g.accepted(next)
	if len(accepted) == 0 && len(next.Profile.ChallengeStrategies) > 0 {
		g.logger.Warn("no supported challenge strategies", slog.Any("accepted", next.Profile.ChallengeStrategies))
	}
	for _, s := range accepted {
		if s.IsInitialized() {
			continue
		}
		if err := s.Init(ctx); err != nil {
			g.logger.Warn("challenge strategy init failed", slog.String("strategy", s.ServerRepresentation()), slog.Any("error", err))
		}
	}
}

func (g *Guard) handleResult(res state.AnalysisResult) {
	g.mu.Lock()
	cur := g.latest
	if cur == nil || cur.AuthStatus != state.Authenticated {
		g.mu.Unlock()
		return
	}
	g.long = pushWindow(g.long, res.Probability, longWindow)
	g.short = pushWindow(g.short, res.Probability, shortWindow)
	trigger := len(g.long) >= longWindow && suspicious(res.Probability, g.long, g.short)
	unlocked := cur.SecurityStatus == state.Unlocked
	g.mu.Unlock()

	if !trigger || !unlocked {
		return
	}
	g.logger.Info("typing no longer matches profile, issuing challenge", slog.Float64("probability", res.Probability))
	if err := g.ctrl.SetSecurityStatus(state.Challenge); err != nil {
		g.logger.Error("enter challenge", slog.Any("error", err))
	}
}

func pushWindow(w []float64, p float64, size int) []float64 {
	w = append(w, p)
	if len(w) > size {
		w = w[len(w)-size:]
	}
	return w
}

// suspicious applies the challenge rule to a full long window.
func suspicious(p float64, long, short []float64) bool {
	var sum float64
	for _, v := range long {
		sum += v
	}
	low := 0
	for _, v := range short {
		if v <= lowThreshold {
			low++
		}
	}
	return p < instantThreshold || sum/float64(len(long)) < meanThreshold || low >= lowCountTrigger
}

// Strategies returns the strategies the current profile accepts that are
// initialized, in profile order.
func (g *Guard) Strategies() []Strategy {
	g.mu.Lock()
	cur := g.latest
	g.mu.Unlock()
	var out []Strategy
	for _, s := range g.accepted(cur) {
		if s.IsInitialized() {
			out = append(out, s)
		}
	}
	return out
}

// Strategy returns the strategy with the given server representation.
func (g *Guard) Strategy(name string) (Strategy, bool) {
	s, ok := g.strategies[name]
	return s, ok
}

func (g *Guard) accepted(cur *state.ClientStatus) []Strategy {
	if cur == nil || cur.Profile == nil {
		return nil
	}
	var out []Strategy
	for _, name := range cur.Profile.ChallengeStrategies {
		if s, ok := g.strategies[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Remaining returns the attempts left in the current challenge.
func (g *Guard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// Issue asks the named strategy to send its challenge.
func (g *Guard) Issue(ctx context.Context, name string) error {
	s, ok := g.strategies[name]
	if !ok {
		return fmt.Errorf("unknown challenge strategy %q", name)
	}
	if g.Remaining() <= 0 {
		return fmt.Errorf("no attempts left")
	}
	return s.IssueChallenge(ctx)
}

// Attempt checks code with the named strategy and applies the outcome: UNLOCKED
// on success, LOCKED once the attempts run out. Attempts made while the
// client is not in CHALLENGE change nothing; a locked client reports
// OutcomeLocked.
func (g *Guard) Attempt(name, code string) (Outcome, error) {
	s, ok := g.strategies[name]
	if !ok {
		return OutcomeMalformed, fmt.Errorf("unknown challenge strategy %q", name)
	}
	if !s.ValidateChallenge(code) {
		return OutcomeMalformed, nil
	}

	g.mu.Lock()
	var sec state.SecurityStatus
	if g.latest != nil {
		sec = g.latest.SecurityStatus
	}
	switch {
	case sec == state.Locked || g.remaining <= 0:
		g.mu.Unlock()
		return OutcomeLocked, nil
	case sec != state.Challenge:
		g.mu.Unlock()
		return OutcomeMalformed, ErrNoChallenge
	}
	g.remaining--
	remaining := g.remaining
	g.mu.Unlock()

	switch {
	case s.CheckChallenge(code):
		g.logger.Info("challenge passed", slog.String("strategy", name))
		return OutcomePassed, g.ctrl.SetSecurityStatus(state.Unlocked)
	case remaining <= 0:
		g.logger.Warn("challenge attempts exhausted, locking", slog.String("strategy", name))
		return OutcomeLocked, g.ctrl.SetSecurityStatus(state.Locked)
	default:
		return OutcomeFailed, nil
	}
}
