// Package main runs an in-memory biokey API server for local development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/biokey/internal/app"
	"github.com/five82/biokey/internal/devserver"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr       string
		users      []string
		adminKey   string
		secret     string
		strategies []string
		tokenTTL   time.Duration
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:          "biokey-devserver",
		Short:        "In-memory biokey API server for development",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := app.NewLogger(os.Stderr, logLevel)
			srv := devserver.New(devserver.Options{
				Secret:     []byte(secret),
				TokenTTL:   tokenTTL,
				AdminKey:   adminKey,
				Strategies: strategies,
				Logger:     logger,
			})
			for _, entry := range users {
				email, password, ok := strings.Cut(entry, ":")
				if !ok || email == "" || password == "" {
					return fmt.Errorf("invalid --user %q: want email:password", entry)
				}
				id, err := srv.AddUser(email, email, password)
				if err != nil {
					return fmt.Errorf("add user %s: %w", email, err)
				}
				logger.Info("user added", slog.String("email", email), slog.String("id", id))
			}
			return serve(cmd.Context(), addr, srv.Handler(), logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:3000", "listen address")
	f.StringArrayVar(&users, "user", nil, "account to create as email:password (repeatable)")
	f.StringVar(&adminKey, "admin-key", "", "key required on /admin routes (empty leaves them open)")
	f.StringVar(&secret, "secret", "", "token signing secret (random when empty)")
	f.StringSliceVar(&strategies, "strategies", nil, "challenge strategies given to new profiles (default GoogleAuth)")
	f.DurationVar(&tokenTTL, "token-ttl", 0, "lifetime of issued tokens (default 24h)")
	f.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
