package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacksync/stacksync/internal/config"
	"github.com/stacksync/stacksync/internal/syncer"
)

func newStatusCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.Health.Port
			}
			return printStatus(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "health port (defaults to the configured one)")
	return cmd
}

func printStatus(port int) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return fmt.Errorf("daemon not reachable on port %d: %w", port, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var snap syncer.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("bad health response: %w", err)
	}

	fmt.Println("Status:", snap.Status)
	if snap.LastCycle == nil {
		fmt.Println("No cycle has run yet.")
		return nil
	}
	lc := snap.LastCycle
	fmt.Println("Last cycle:", lc.CycleID)
	fmt.Println("  started: ", lc.StartedAt.Format(time.RFC3339))
	fmt.Println("  duration:", lc.DurationMS, "ms")
	fmt.Println("  phase1:  ", lc.Phase1Count)
	fmt.Println("  phase2:  ", lc.Phase2Count)
	fmt.Println("  phase3:  ", lc.Phase3Count)
	if len(lc.Errors) > 0 {
		fmt.Println("  errors:")
		for _, e := range lc.Errors {
			fmt.Println("   -", e)
		}
	}
	return nil
}
