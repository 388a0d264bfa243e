package analysis

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/five82/biokey/internal/state"
)

// ErrScorerProtocol means the model process answered something unexpected.
var ErrScorerProtocol = errors.New("unexpected scorer response")

const (
	initPrefix    = "init: "
	predictPrefix = "predict: "
	initReply     = "INIT: true"
	predictReply  = "PREDICT: "

	// Model payloads and frames are sent on a single line.
	maxLine = 16 << 20
)

// ProcessScorer runs an external model and talks to it over stdin and stdout,
// one request and one reply per line:
//
//	init: {"model": ..., "weights": ...}   -> INIT: true
//	predict: {"x_raw": ..., "x_40": ..., "x_100": ...} -> PREDICT: 0.87
//
// Anything the process writes to stderr is logged.
type ProcessScorer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	logger *slog.Logger
	wait   chan struct{}

	mu sync.Mutex
}

type initPayload struct {
	Model   string `json:"model"`
	Weights string `json:"weights"`
}

// NewProcessScorer returns a ScorerFactory that starts command for each model.
func NewProcessScorer(command []string, timeout time.Duration, logger *slog.Logger) ScorerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context, model state.EngineModel) (Scorer, error) {
		if len(command) == 0 {
			return nil, errors.New("no model command configured")
		}
		s, err := startProcess(command, logger)
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := s.init(initCtx, model); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
}

func startProcess(command []string, logger *slog.Logger) (*ProcessScorer, error) {
	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("model stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("model stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("model stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model %q: %w", command[0], err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	s := &ProcessScorer{
		cmd:    cmd,
		stdin:  stdin,
		stdout: scanner,
		logger: logger.With(slog.String("model", command[0]), slog.Int("pid", cmd.Process.Pid)),
		wait:   make(chan struct{}),
	}
	go s.logStderr(stderr)
	go func() {
		_ = cmd.Wait()
		close(s.wait)
	}()
	return s, nil
}

func (s *ProcessScorer) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Warn("model stderr", slog.String("line", sc.Text()))
	}
}

func (s *ProcessScorer) init(ctx context.Context, model state.EngineModel) error {
	payload, err := json.Marshal(initPayload{Model: model.Model, Weights: model.Weights})
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	reply, err := s.roundTrip(ctx, initPrefix, payload)
	if err != nil {
		return err
	}
	if reply != initReply {
		return fmt.Errorf("init: %w: %q", ErrScorerProtocol, reply)
	}
	return nil
}

func (s *ProcessScorer) Predict(ctx context.Context, frames Frames) (float64, error) {
	payload, err := json.Marshal(frames)
	if err != nil {
		return 0, fmt.Errorf("encode frames: %w", err)
	}
	reply, err := s.roundTrip(ctx, predictPrefix, payload)
	if err != nil {
		return 0, err
	}
	value, ok := strings.CutPrefix(reply, predictReply)
	if !ok {
		return 0, fmt.Errorf("predict: %w: %q", ErrScorerProtocol, reply)
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("predict: %w: %w", ErrScorerProtocol, err)
	}
	return p, nil
}

// roundTrip writes one request line and reads one reply line. A reply that
// does not arrive before ctx is done kills the process, since the protocol
// cannot recover from a half-read line.
func (s *ProcessScorer) roundTrip(ctx context.Context, prefix string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := make([]byte, 0, len(prefix)+len(payload)+1)
	line = append(line, prefix...)
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := s.stdin.Write(line); err != nil {
		return "", fmt.Errorf("write to model: %w", err)
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if s.stdout.Scan() {
			done <- result{line: strings.TrimSpace(s.stdout.Text())}
			return
		}
		err := s.stdout.Err()
		if err == nil {
			err = io.EOF
		}
		done <- result{err: fmt.Errorf("read from model: %w", err)}
	}()

	select {
	case r := <-done:
		return r.line, r.err
	case <-ctx.Done():
		s.kill()
		<-done
		return "", ctx.Err()
	}
}

func (s *ProcessScorer) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Close stops the model process.
func (s *ProcessScorer) Close() error {
	_ = s.stdin.Close()
	select {
	case <-s.wait:
	case <-time.After(2 * time.Second):
		s.kill()
		<-s.wait
	}
	return nil
}
