package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vcycle/internal/config"
	"vcycle/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	serverAddr string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vcycle",
	Short: "vcycle - autonomous LLM quality optimization loop",
	Long: `vcycle watches LLM quality per (model, spectrum) pair, detects
regressions, forecasts threshold breaches before they happen, and runs
guarded A/B experiments to deploy improvements autonomously.

Every cycle is audited; anything that fails validation rolls back to the
last known-good configuration snapshot.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// serveCmd runs the full loop: scheduler, export poller and HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the optimization loop and its HTTP API",
	RunE:  runServe,
}

// runCmd executes a single cycle in the foreground and exits.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one optimization cycle in the foreground",
	RunE:  runOnce,
}

// statusCmd queries a running server.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the loop status of a running server",
	RunE:  showStatus,
}

// triggerCmd asks a running server to start a cycle.
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger an optimization cycle on a running server",
	RunE:  triggerCycle,
}

var triggerReason string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vcycle.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8090", "running server address (status/trigger)")

	triggerCmd.Flags().StringVar(&triggerReason, "reason", "cli trigger", "reason recorded in the cycle audit log")

	rootCmd.AddCommand(serveCmd, runCmd, statusCmd, triggerCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app, err := compose(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, func(updated *config.Config) {
		app.Orchestrator.UpdateThresholds(updated.Quality.WarningThreshold, updated.Quality.TargetThreshold)
		logger.Info("Config reloaded",
			zap.Float64("target_threshold", updated.Quality.TargetThreshold))
	})
	if err != nil {
		logger.Warn("Config hot-reload disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: app.API.Router(),
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := app.Orchestrator.Run(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		stop()
		logger.Error("Fatal", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	app, err := compose(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := app.Orchestrator.Trigger(ctx, "foreground run")
	if !res.Success {
		return fmt.Errorf("cycle rejected: %s", res.Reason)
	}
	logger.Info("Cycle started", zap.String("id", res.CycleID))

	// Poll until the cycle settles or the user interrupts.
	for {
		select {
		case <-ctx.Done():
			app.Orchestrator.RequestCancel()
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		open, err := app.Store.OpenCycle()
		if err != nil {
			return err
		}
		if open == nil {
			break
		}
	}

	cycles, err := app.Store.RecentCycles(1)
	if err != nil {
		return err
	}
	if len(cycles) > 0 {
		c := cycles[0]
		fmt.Printf("cycle %s: %s", c.ID, c.Decision)
		if c.AbortReason != "" {
			fmt.Printf(" (%s)", c.AbortReason)
		}
		fmt.Println()
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(strings.TrimRight(serverAddr, "/") + "/v1/virtuous-cycle/status")
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}
	out, _ := json.MarshalIndent(body, "", "  ")
	fmt.Println(string(out))
	return nil
}

func triggerCycle(cmd *cobra.Command, args []string) error {
	payload := fmt.Sprintf(`{"reason":%q}`, triggerReason)
	resp, err := http.Post(
		strings.TrimRight(serverAddr, "/")+"/v1/virtuous-cycle/trigger",
		"application/json", strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
		CycleID string `json:"cycle_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("rejected: %s", body.Reason)
	}
	fmt.Printf("cycle %s started\n", body.CycleID)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
