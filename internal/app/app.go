package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/five82/biokey/internal/config"
)

// Shell is an interactive front end run alongside the agent. Returning ends
// the program.
type Shell func(ctx context.Context, a *Agent, restored Restored) error

// Options configure the biokey application.
type Options struct {
	Config config.Config
	// Logger defaults to a text logger on Config.LogFile.
	Logger *slog.Logger
	// Token rebuilds the session from the server when there is no usable
	// local state.
	Token string
	// Shell runs in the foreground; nil runs headless until ctx is done.
	Shell Shell
}

// Run boots the agent, restores saved state and runs until ctx is cancelled
// or the shell exits. The final state is saved before returning.
func Run(ctx context.Context, opts Options) (err error) {
	logger := opts.Logger
	if logger == nil {
		l, closer, err := OpenLogFile(opts.Config.LogFile, opts.Config.LogLevel)
		if err != nil {
			return err
		}
		defer closer.Close()
		logger = l
	}

	agent, err := NewAgent(opts.Config, logger)
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}
	defer func() {
		if cerr := agent.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	restored, err := agent.Restore(ctx, opts.Token)
	if err != nil {
		logger.Warn("restore failed", slog.Any("error", err))
	}
	logger.Info("startup", slog.String("restored", restored.String()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- agent.Run(runCtx) }()

	if opts.Shell == nil {
		if restored.LoginRequired() {
			logger.Warn("not logged in; run `biokey login`")
		}
		return <-done
	}

	shellErr := opts.Shell(runCtx, agent, restored)
	cancel()
	runErr := <-done
	return errors.Join(shellErr, runErr)
}
