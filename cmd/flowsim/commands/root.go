// Package commands implements the flowsim CLI, which drives popup flows
// against the simulated browser.
package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"popupflow/internal/platform/logger"
)

// RootOptions holds the flags shared by all commands.
type RootOptions struct {
	ConfigFile string
	LogLevel   string
	// Verbose routes coordinator logs to stderr; they are dropped otherwise.
	Verbose bool
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	opts := &RootOptions{}
	rootCmd := &cobra.Command{
		Use:   "flowsim",
		Short: "Run popup verification flows against a simulated browser",
		Long: `flowsim - popup flow simulator

Opens a verification flow in a simulated browser for a chosen execution
environment (desktop popup, mobile or in-app tab, embedded frame), plays a
user scenario against it and prints the outcome the initiator receives.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default ./flowsim.yaml or ~/.config/flowsim/config.yaml)")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "write coordinator logs to stderr")

	rootCmd.AddCommand(newRunCmd(opts), newPlanCmd(opts))
	return rootCmd
}

func (o *RootOptions) logger(stderr io.Writer) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger.NewWithWriter(stderr, o.LogLevel)
}

// Execute runs the root command with signal handling.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cmd := NewRootCmd()
	cmd.SetErr(os.Stderr)
	return cmd.ExecuteContext(ctx)
}
