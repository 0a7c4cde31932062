package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacksync/stacksync/internal/config"
	"github.com/stacksync/stacksync/internal/store"
)

func newResetCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [project]",
		Short: "Clear stored sync mappings so they re-bootstrap on the next cycle",
		Long: `Clears board mappings for one project (or every project when no argument
is given). With --all, local mappings and the incremental watermark are
wiped too. The daemon must be stopped first; the state store is
single-owner.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			st, err := store.NewStore(cfg.Data.Dir)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if all {
				if len(args) > 0 {
					return fmt.Errorf("--all resets every project; drop the project argument")
				}
				if err := st.ClearAll(); err != nil {
					return err
				}
				fmt.Println("Cleared all sync mappings and metadata.")
				return nil
			}

			project := ""
			if len(args) > 0 {
				project = args[0]
			}
			if err := st.ClearBoardMappings(project); err != nil {
				return err
			}
			if project == "" {
				fmt.Println("Cleared board mappings for all projects.")
			} else {
				fmt.Printf("Cleared board mappings for %s.\n", project)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also clear local mappings and sync metadata")
	return cmd
}
