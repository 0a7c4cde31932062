package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacksync/stacksync/internal/config"
)

var version = "0.3.0"

// runtimeError marks failures after successful startup; they exit with a
// distinct code so supervisors can tell them from config mistakes.
type runtimeError struct {
	err error
}

func (e *runtimeError) Error() string { return e.err.Error() }
func (e *runtimeError) Unwrap() error { return e.err }

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "stacksync",
		Short:         "Keep the Primary tracker, the Board, and local issue stores in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")

	rootCmd.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newResetCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var rt *runtimeError
		if errors.As(err, &rt) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stacksync version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("stacksync", version)
		},
	}
}
