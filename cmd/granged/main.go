package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grangefarm/grange/pkg/api"
	"github.com/grangefarm/grange/pkg/config"
	"github.com/grangefarm/grange/pkg/dispatch"
	"github.com/grangefarm/grange/pkg/health"
	"github.com/grangefarm/grange/pkg/log"
	"github.com/grangefarm/grange/pkg/manager"
	"github.com/grangefarm/grange/pkg/metrics"
	"github.com/grangefarm/grange/pkg/scheduler"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "granged",
	Short: "Grange - render farm manager",
	Long: `Grange is a render-farm management daemon: agents register
themselves, jobs are decomposed into per-frame tasks, and a tick-based
scheduler assigns tasks to agents subject to resource limits, software
requirements, priorities and queue policy.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Grange version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the farm manager daemon",
	Long: `Start the Grange daemon: opens the state store, runs the
assignment engine tick loop, the agent health monitor and the metrics
endpoint, and keeps running until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		logLevel, _ := cmd.Flags().GetString("log-level")

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})
		logger := log.WithComponent("granged")
		metrics.SetVersion(Version)

		mgr, err := manager.NewManager(cfg)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		metrics.RegisterComponent("store", true, "open")

		monitor := health.NewMonitor(mgr.Store(), mgr.Events(), cfg)
		monitor.Start()

		dispatcher := dispatch.NewDispatcher(10 * time.Second)
		metrics.RegisterComponent("dispatch", true, "idle")
		sched := scheduler.NewScheduler(mgr, cfg, dispatcher, monitor)
		sched.Start()
		metrics.RegisterComponent("scheduler", true, "ticking")

		collector := metrics.NewCollector(mgr.Store())
		collector.Start()

		apiServer := api.NewServer(mgr, cfg.Agents.RequireToken)
		errCh := make(chan error, 2)
		go func() {
			if err := apiServer.Start(cfg.APIAddr); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("api server error: %w", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())

		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()

		logger.Info().
			Str("data_dir", cfg.DataDir).
			Str("api_addr", cfg.APIAddr).
			Str("metrics_addr", cfg.MetricsAddr).
			Dur("tick_interval", cfg.Scheduling.TickInterval).
			Msg("granged running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("shutting down after server error")
		}

		sched.Stop()
		monitor.Stop()
		collector.Stop()
		apiServer.Stop()
		srv.Close()
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an agent registration token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		tm := manager.NewTokenManager()
		token, err := tm.GenerateToken(ttl)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}

		fmt.Println(token.Token)
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("data-dir", "", "Data directory for farm state")
	serveCmd.Flags().String("metrics-addr", "", "Listen address for metrics and health endpoints")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")

	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
