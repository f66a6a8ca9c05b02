package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/benaskins/keystore/internal/keychain"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	backendFlag string
	dirFlag     string
	serviceFlag string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:           "keystore",
	Short:         "Store P-256 private keys in the platform credential store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.keystore/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend: system, keychain, keyring, dir, memory")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Key directory for the dir backend")
	rootCmd.PersistentFlags().StringVar(&serviceFlag, "service", "", "Service name that scopes stored keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures to stable exit statuses: 2 when a key is absent,
// 3 for bad input, 1 otherwise.
func exitCode(err error) int {
	switch {
	case errors.Is(err, keychain.ErrNotFound):
		return 2
	case errors.Is(err, keychain.ErrInvalidArgument):
		return 3
	}
	return 1
}
