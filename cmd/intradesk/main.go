// Intradesk — an automated intraday equities trading orchestrator.
//
// Architecture:
//
//	main.go              — CLI: login, run-workflow, show-session, serve
//	engine/engine.go     — orchestrator: wires broker, ledger, executor, monitor, workflows, scheduler
//	engine/workflows.go  — the five scheduled workflows: analysis, execution, monitoring, news, post-trade
//	analyst/             — regime gate, scoring analysts, aggregator, risk sizer, news summarizer, reporter
//	executor/            — entries with bracket orders, OCO settlement, the daily loss floor
//	monitor/             — trailing stops, partial harvests, news invalidation, session flatten
//	broker/              — venue port with live (REST + WebSocket) and sim adapters
//	ledger/              — journaled per-day trade book, reconciled against venue positions
//	workflow/            — staged runtime with persistent per-date sessions
//	scheduler/           — venue-timezone timetable, no catch-up, no overlap
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"intradesk/internal/api"
	"intradesk/internal/auth"
	"intradesk/internal/config"
	"intradesk/internal/engine"
	"intradesk/pkg/types"
)

// Exit codes the operator's tooling keys off.
const (
	exitOK               = 0
	exitError            = 1
	exitInteractiveLogin = 2
	exitHalted           = 3
)

var (
	flagConfig    string
	flagDryRun    bool
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	root := &cobra.Command{
		Use:           "intradesk",
		Short:         "Automated intraday equities trading orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "path to config YAML")
	root.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "use the sim venue, place no real orders")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, or error (overrides config)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "text or json (overrides config)")

	root.AddCommand(loginCmd(), runWorkflowCmd(), showSessionCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitError)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("INTRADESK_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

// setup loads and validates config, applies flag overrides, and builds the
// logger and engine.
func setup() (*config.Config, *engine.Engine, *slog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	if flagDryRun {
		cfg.DryRun = true
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, eng, logger, nil
}

// loginCmd walks the token ladder: a stored or refreshable token exits 0;
// with an auth code it completes the interactive exchange; otherwise it
// exits 2 so wrapper scripts know an operator is needed.
func loginCmd() *cobra.Command {
	var authCode string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Validate or establish the venue session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, logger, err := setup()
			if err != nil {
				return err
			}
			mgr := eng.Auth()
			if mgr == nil {
				logger.Info("dry-run mode, no venue login needed")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if authCode != "" {
				if err := mgr.CompleteLogin(ctx, authCode); err != nil {
					return fmt.Errorf("complete login: %w", err)
				}
				logger.Info("login complete, token stored")
				return nil
			}

			err = mgr.Bootstrap(ctx)
			if errors.Is(err, auth.ErrInteractiveLogin) {
				fmt.Fprintln(os.Stderr, "interactive login required: rerun with --auth-code")
				os.Exit(exitInteractiveLogin)
			}
			if err != nil {
				return err
			}
			logger.Info("token valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&authCode, "auth-code", "", "auth code from the venue's interactive login flow")
	return cmd
}

// runWorkflowCmd executes one workflow once. A HALT outcome (the regime
// gate refused the day) exits 3; stage failures exit 1.
func runWorkflowCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:       "run-workflow <name>",
		Short:     "Run one workflow against a trading session",
		Args:      cobra.ExactArgs(1),
		ValidArgs: workflowNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, logger, err := setup()
			if err != nil {
				return err
			}
			if session == "" {
				loc, err := time.LoadLocation(cfg.Venue.Timezone)
				if err != nil {
					return err
				}
				session = time.Now().In(loc).Format("2006-01-02")
			}

			if err := eng.Start(); err != nil {
				return err
			}
			defer eng.Stop()

			run, err := eng.RunWorkflow(cmd.Context(), args[0], session)
			if err != nil {
				return err
			}
			logger.Info("run finished", "workflow", args[0], "session", session, "status", run.Status)
			switch run.Status {
			case types.RunHalt:
				fmt.Fprintln(os.Stderr, "halted:", run.HaltReason)
				os.Exit(exitHalted)
			case types.RunFailed:
				return fmt.Errorf("workflow %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "trading date YYYY-MM-DD (default: today, venue time)")
	return cmd
}

// showSessionCmd prints one workflow session as JSON.
func showSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "show-session <workflow> <date>",
		Short:     "Print a workflow session's state and run history",
		Args:      cobra.ExactArgs(2),
		ValidArgs: workflowNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			rec, err := eng.Sessions().Load(args[0], args[1])
			if err != nil {
				return err
			}
			if len(rec.Runs) == 0 && len(rec.State) == 0 {
				return fmt.Errorf("no session for %s/%s", args[0], args[1])
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// serveCmd runs the scheduler-driven desk until SIGINT/SIGTERM, with the
// read-model API alongside when enabled.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled trading desk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, logger, err := setup()
			if err != nil {
				return err
			}

			// the scheduler never starts on an unproven token
			if mgr := eng.Auth(); mgr != nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				err := mgr.Bootstrap(ctx)
				cancel()
				if errors.Is(err, auth.ErrInteractiveLogin) {
					fmt.Fprintln(os.Stderr, "interactive login required: run `intradesk login --auth-code ...` first")
					os.Exit(exitInteractiveLogin)
				}
				if err != nil {
					return fmt.Errorf("venue session bootstrap: %w", err)
				}
			}

			var apiServer *api.Server
			if cfg.API.Enabled {
				apiServer = api.NewServer(cfg.API.Port, eng.Sessions(), eng.Ledger(), logger)
				go func() {
					if err := apiServer.Start(); err != nil {
						logger.Error("read-model server failed", "error", err)
					}
				}()
			}

			if err := eng.Start(); err != nil {
				return err
			}
			if cfg.DryRun {
				logger.Warn("DRY-RUN MODE — orders go to the sim venue")
			}
			logger.Info("intradesk started",
				"universe", len(cfg.Universe),
				"capital", cfg.Risk.Capital,
				"dry_run", cfg.DryRun,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received shutdown signal", "signal", sig.String())

			if apiServer != nil {
				if err := apiServer.Stop(); err != nil {
					logger.Error("failed to stop read-model server", "error", err)
				}
			}
			eng.Stop()
			return nil
		},
	}
}

func workflowNames() []string {
	return []string{
		engine.WorkflowAnalysis,
		engine.WorkflowExecution,
		engine.WorkflowMonitoring,
		engine.WorkflowNews,
		engine.WorkflowPostTrade,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
