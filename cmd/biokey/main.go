// Package main provides the CLI entrypoint for the biokey agent.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/five82/biokey/internal/app"
	"github.com/five82/biokey/internal/config"
	"github.com/five82/biokey/internal/ui"
)

type globalFlags struct {
	configPath string
	serverURL  string
	logLevel   string
	token      string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	var headless bool

	rootCmd := &cobra.Command{
		Use:          "biokey",
		Short:        "Keystroke-dynamics authentication agent",
		Long:         "biokey watches how you type, scores it against your enrolled typing profile and challenges you when it does not match.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			opts := app.Options{Config: cfg, Token: flags.token}
			if !headless {
				opts.Shell = ui.Run
			}
			return app.Run(cmd.Context(), opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.config/biokey/config.toml)")
	pf.StringVar(&flags.serverURL, "server", "", "override the API server URL")
	pf.StringVar(&flags.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flags.token, "token", "", "access token used to rebuild the session when there is no saved state")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "run without the terminal shell")

	rootCmd.AddCommand(newLoginCmd(&flags))
	rootCmd.AddCommand(newStatusCmd(&flags))
	rootCmd.AddCommand(newLogsCmd(&flags))
	rootCmd.AddCommand(newResetCmd(&flags))
	rootCmd.AddCommand(newConfigCmd(&flags))

	return rootCmd
}

// load reads the configuration and applies flag overrides.
func (f *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if f.serverURL != "" {
		cfg.ServerURL = f.serverURL
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

// openAgent builds an agent for a one-shot command. The returned close
// function saves nothing; callers save explicitly.
func openAgent(cfg config.Config) (*app.Agent, func(), error) {
	logger, logFile, err := app.OpenLogFile(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	agent, err := app.NewAgent(cfg, logger)
	if err != nil {
		_ = logFile.Close()
		return nil, nil, fmt.Errorf("init agent: %w", err)
	}
	return agent, func() {
		if err := agent.Close(); err != nil {
			logErrf("close agent: %v\n", err)
		}
		_ = logFile.Close()
	}, nil
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg config.Config) {
	rows := [][2]string{
		{"config", cfg.Path},
		{"server_url", cfg.ServerURL},
		{"data_dir", cfg.DataDir},
		{"log_file", cfg.LogFile},
		{"log_level", cfg.LogLevel},
		{"sync_interval", cfg.SyncInterval.String()},
		{"heartbeat_interval", cfg.HeartbeatInterval.String()},
		{"push_wait", cfg.PushWait.String()},
		{"idle_split", cfg.IdleSplit.String()},
		{"compression", cfg.Compression},
		{"autosave_every_keys", fmt.Sprint(cfg.AutosaveEveryKeys)},
		{"predict_every", fmt.Sprint(cfg.PredictEvery)},
		{"model_command", fmt.Sprint(cfg.ModelCommand)},
		{"sms_webhook", cfg.SMSWebhook},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-20s %s\n", r[0], r[1])
	}
}

func logErrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
