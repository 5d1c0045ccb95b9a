package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdaza33/gmail-api/internal/runtime"
)

// exitRestart tells the process supervisor to start a fresh instance.
const exitRestart = 75

var errRestart = errors.New("restart requested")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errRestart) {
			runtime.DefaultLogger().Warn("orderpoll exiting for restart", "error", err)
			os.Exit(exitRestart)
		}
		runtime.DefaultLogger().Error("orderpoll failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "orderpoll",
		Short:         "Ingest order notification mail into the orders table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to orderpoll.yaml (default ./orderpoll.yaml if present)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newRunCmd(&cfgPath),
		newAuthCmd(&cfgPath),
		newTokenCmd(&cfgPath),
		newInitDBCmd(&cfgPath),
	)
	return root
}
