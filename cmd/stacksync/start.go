package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacksync/stacksync/internal/adapters/board"
	"github.com/stacksync/stacksync/internal/adapters/local"
	"github.com/stacksync/stacksync/internal/adapters/primary"
	"github.com/stacksync/stacksync/internal/agent"
	"github.com/stacksync/stacksync/internal/config"
	"github.com/stacksync/stacksync/internal/gateway"
	"github.com/stacksync/stacksync/internal/logging"
	"github.com/stacksync/stacksync/internal/scheduler"
	"github.com/stacksync/stacksync/internal/stacks"
	"github.com/stacksync/stacksync/internal/store"
	"github.com/stacksync/stacksync/internal/syncer"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func runStart() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: "text",
		Output: logOutput(cfg),
		Rotation: &logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	}); err != nil {
		return err
	}
	logger := logging.WithComponent("daemon")

	st, err := store.NewStore(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	primaryClient := primary.NewClientWithTimeout(cfg.Primary.APIURL, cfg.Primary.Token, cfg.RequestTimeout())
	boardClient := board.NewClientWithTimeout(cfg.Board.APIURL, cfg.Board.Token, cfg.RequestTimeout())
	localAdapter := local.NewAdapter(cfg.Local.CLIPath, cfg.Local.MarkerDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx := stacks.NewIndex(cfg.Local.StacksDir, cfg.Local.MarkerDir)
	if err := idx.Watch(ctx); err != nil {
		logger.Warn("stacks watcher unavailable, relying on periodic rescans", "error", err)
	}

	events := agent.NewSink(256)
	s := syncer.New(st, primaryClient, boardClient, localAdapter, idx, events, syncer.Options{
		Incremental:       cfg.Sync.Incremental,
		Parallel:          cfg.Sync.Parallel,
		MaxWorkers:        cfg.Sync.MaxWorkers,
		DryRun:            cfg.Sync.DryRun,
		SkipEmptyProjects: cfg.Sync.SkipEmptyProjects,
		Projects:          cfg.Sync.Projects,
	})

	go consumeEvents(ctx, events, idx, cfg.Local.MarkerDir)

	sched := scheduler.New(s, cfg.Interval(), cfg.CycleDeadline())
	if err := sched.Start(); err != nil {
		return err
	}

	gw := gateway.NewServer(&gateway.Config{Host: "0.0.0.0", Port: cfg.Health.Port}, s)
	gwErr := make(chan error, 1)
	go func() {
		gwErr <- gw.Start(ctx)
	}()

	logger.Info("stacksync started",
		"version", version,
		"interval", cfg.Interval().String(),
		"health_port", cfg.Health.Port,
		"dry_run", cfg.Sync.DryRun)

	select {
	case err := <-gwErr:
		if err != nil {
			sched.Stop(2 * cfg.Interval())
			return &runtimeError{err: fmt.Errorf("health server failed: %w", err)}
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sched.Stop(2 * cfg.Interval())
	_ = gw.Shutdown()
	logger.Info("shutdown complete")
	return nil
}

func logOutput(cfg *config.Config) string {
	if cfg.Logging.File != "" {
		return cfg.Logging.File
	}
	return "stdout"
}

// consumeEvents drains the agent feed, logs each event, and stamps the
// sidecar of every stack a cycle touched. Consumption is best-effort by
// design; a full buffer drops the oldest events.
func consumeEvents(ctx context.Context, events *agent.Sink, idx *stacks.Index, markerDir string) {
	hostname, _ := os.Hostname()
	agentID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	logger := logging.WithComponent("agent")

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			touched := map[string]bool{}
			for _, evt := range events.Drain() {
				logger.Debug("sync event",
					"id", evt.ID, "type", string(evt.Type),
					"project", evt.Project, "identifier", evt.Identifier, "detail", evt.Detail)
				touched[evt.Project] = true
			}
			for project := range touched {
				path, ok := idx.PathFor(project)
				if !ok {
					continue
				}
				if err := agent.WriteSidecar(path, markerDir, agentID); err != nil {
					logger.Debug("sidecar write failed", "project", project, "error", err)
				}
			}
			if dropped := events.Dropped(); dropped > 0 {
				logger.Debug("event buffer overflowed", "dropped_total", dropped)
			}
		}
	}
}
