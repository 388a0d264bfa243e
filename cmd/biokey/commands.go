package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/five82/biokey/internal/logtail"
	"github.com/five82/biokey/internal/persist"
	"github.com/five82/biokey/internal/prefs"
)

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var email, passwordFile string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session for the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if email == "" {
				p, _ := prefs.Load(prefs.DefaultPath())
				email, err = prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), "Email", p.LastEmail)
				if err != nil {
					return err
				}
			}
			password, err := readPassword(passwordFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			agent, closeAgent, err := openAgent(cfg)
			if err != nil {
				return err
			}
			defer closeAgent()

			ok, err := agent.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if !ok {
				return errors.New("login rejected: check your email and password")
			}
			if err := agent.Autosaver.SaveNow(cmd.Context()); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			p, perr := prefs.Load(prefs.DefaultPath())
			if perr == nil {
				p.LastEmail = email
				_ = prefs.Save(prefs.DefaultPath(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s on machine %s\n", email, agent.MachineID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (prompted when empty)")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "read the password from a file instead of prompting (- prompts)")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var token string
	var saves int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved session and pending uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			agent, closeAgent, err := openAgent(cfg)
			if err != nil {
				return err
			}
			defer closeAgent()

			restored, err := agent.Restore(cmd.Context(), token)
			if err != nil {
				logErrf("restore: %v\n", err)
			}
			o, err := agent.Overview()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-12s %s\n", "server", cfg.ServerURL)
			fmt.Fprintf(w, "%-12s %s\n", "machine", agent.MachineID)
			fmt.Fprintf(w, "%-12s %s\n", "startup", restored)
			if o.Status == nil {
				fmt.Fprintln(w, "not logged in; run `biokey login`")
				return nil
			}
			fmt.Fprintf(w, "%-12s %s\n", "session", o.Status.AuthStatus)
			fmt.Fprintf(w, "%-12s %s\n", "security", o.Status.SecurityStatus)
			fmt.Fprintf(w, "%-12s %s\n", "sync", o.Status.SyncStatus)
			fmt.Fprintf(w, "%-12s %s\n", "profile", o.Status.ProfileID())
			if !o.TokenExpiry.IsZero() {
				fmt.Fprintf(w, "%-12s %s\n", "token until", o.TokenExpiry.Local().Format(time.RFC1123))
			}
			fmt.Fprintf(w, "%-12s %d statuses, %d batches, %d results\n", "pending", o.PendingStatuses, o.PendingBatches, o.PendingResults)
			fmt.Fprintf(w, "%-12s %d keys\n", "history", o.History)

			recent, err := agent.DB.RecentSaves(cmd.Context(), saves)
			if err != nil {
				logErrf("recent saves: %v\n", err)
				return nil
			}
			printSaves(w, recent)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "access token used when there is no saved state")
	cmd.Flags().IntVar(&saves, "saves", 3, "number of recent snapshot saves to list")
	return cmd
}

func newLogsCmd(flags *globalFlags) *cobra.Command {
	var lines int
	var level string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the agent log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			raw, err := logtail.Read(cfg.LogFile, lines)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range logtail.ParseLines(raw) {
				if e.AtLeast(level) {
					fmt.Fprintln(w, e.Raw)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines to read from the end (0 reads all)")
	cmd.Flags().StringVar(&level, "level", "debug", "minimum level to print")
	return cmd
}

func newResetCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the saved session and all pending data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if !yes {
				answer, err := prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), "Discard saved state in "+cfg.DataDir+"? [y/N]", "")
				if err != nil {
					return err
				}
				if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
					return errors.New("reset cancelled")
				}
			}
			agent, closeAgent, err := openAgent(cfg)
			if err != nil {
				return err
			}
			defer closeAgent()
			if err := agent.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved state removed.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// prompt reads one line from in. An empty answer yields def.
func prompt(in io.Reader, out io.Writer, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// readPassword reads the password from passwordFile, or prompts on the
// terminal with echo disabled when it is empty or "-".
func readPassword(passwordFile string, out io.Writer) (string, error) {
	if passwordFile != "" && passwordFile != "-" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		password := strings.TrimRight(string(data), "\r\n")
		if password == "" {
			return "", fmt.Errorf("password file %s is empty", passwordFile)
		}
		return password, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(out, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}

func printSaves(w io.Writer, saves []persist.SaveInfo) {
	if len(saves) == 0 {
		return
	}
	fmt.Fprintln(w, "recent saves:")
	for _, s := range saves {
		fmt.Fprintf(w, "  %s  %d -> %d bytes, %d batches, %d history\n",
			s.SavedAt.Local().Format(time.DateTime), s.RawSize, s.StoredSize, s.PendingBatches, s.HistorySize)
	}
}
