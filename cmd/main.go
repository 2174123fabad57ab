package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"compose-deploy/internal/config"
	"compose-deploy/internal/history"
	"compose-deploy/internal/pkg/console"
	"compose-deploy/internal/pkg/logger"
	"compose-deploy/internal/service"
)

var version = "dev"

type app struct {
	envFile   string
	overrides config.Overrides
	cfg       config.Config
	log       *logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(&app{}).ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if err != nil {
		if interrupted || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted, remote session closed")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "compose-deploy",
		Short:         "Deploy a docker compose stack to a remote host over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		RunE: a.runDeploy,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load variables from this file before reading the environment")
	addDeployFlags(root, a)

	deploy := &cobra.Command{
		Use:   "deploy",
		Short: "Upload the compose file, pull images, restart services and apply migrations",
		RunE:  a.runDeploy,
	}
	addDeployFlags(deploy, a)

	check := &cobra.Command{
		Use:   "check",
		Short: "Test the SSH connection and the remote container tooling",
		RunE:  a.runCheck,
	}
	check.Flags().StringVar(&a.overrides.Host, "host", "", "override SSH_HOST")

	var limit int
	hist := &cobra.Command{
		Use:   "history",
		Short: "List recorded deploy runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHistory(cmd, limit)
		},
	}
	hist.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "compose-deploy", version)
		},
	}

	root.AddCommand(deploy, check, hist, ver)
	return root
}

func addDeployFlags(cmd *cobra.Command, a *app) {
	cmd.Flags().StringVar(&a.overrides.Host, "host", "", "override SSH_HOST")
	cmd.Flags().StringVar(&a.overrides.ComposeFile, "compose-file", "", "override COMPOSE_FILE")
	cmd.Flags().BoolVar(&a.overrides.SkipMigrations, "skip-migrations", false, "do not apply database migrations")
}

// init loads .env files, then builds the configuration and logger.
// Variables already set in the environment win over file values.
func (a *app) init() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	a.cfg = config.LoadConfig().WithOverrides(a.overrides)
	log, err := logger.NewLogger(a.cfg.Logging.Level, a.cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func (a *app) runDeploy(cmd *cobra.Command, args []string) error {
	defer a.log.Sync()
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openHistory(cfg.History.DSN)
	if err != nil {
		a.log.Warnw("deploy history disabled", "error", err)
	}
	if store != nil {
		defer store.Close()
	}

	runID := uuid.New().String()
	started := time.Now()
	if store != nil {
		if err := store.RecordStart(cmd.Context(), history.Run{
			ID:        runID,
			Host:      cfg.SSH.Host,
			RemoteDir: cfg.Remote.Dir,
			Trigger:   history.TriggerCLI,
			StartedAt: started,
		}); err != nil {
			a.log.Warnw("record deploy start", "error", err)
		}
	}

	out := console.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	deploy := service.NewDeployService(cfg, service.DialSSH, out, a.log)
	deployErr := deploy.Run(cmd.Context())

	a.log.Infow("deploy finished",
		"host", cfg.SSH.Host,
		"state", deploy.State(),
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)

	if store != nil {
		status, msg := history.StatusSucceeded, ""
		if deployErr != nil {
			status, msg = history.StatusFailed, deployErr.Error()
		}
		// The command context may already be cancelled by an interrupt.
		if err := store.RecordFinish(context.Background(), runID, status, msg, time.Now()); err != nil {
			a.log.Warnw("record deploy finish", "error", err)
		}
	}
	return deployErr
}

func (a *app) runCheck(cmd *cobra.Command, args []string) error {
	defer a.log.Sync()
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	result := service.NewSSHService(service.DialSSH, a.log).TestConnection(cmd.Context(), cfg.SSH)

	out := console.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	out.Step("SSH check for %s", result.Target)
	for _, line := range result.Details {
		out.Info("%s", line)
	}
	if !result.Success {
		return errors.New(result.Message)
	}
	out.Success("%s", result.Message)
	return nil
}

func (a *app) runHistory(cmd *cobra.Command, limit int) error {
	if a.cfg.History.DSN == "" {
		return errors.New("DEPLOY_HISTORY_DB is not set")
	}
	store, err := history.Open(a.cfg.History.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tHOST\tTRIGGER\tSTATUS\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Host, r.Trigger, r.Status, duration, r.Error)
	}
	return w.Flush()
}

func openHistory(dsn string) (*history.Store, error) {
	if dsn == "" {
		return nil, nil
	}
	return history.Open(dsn)
}
