package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benaskins/keystore/internal/audit"
	"github.com/benaskins/keystore/internal/keychain"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print keys as they are created or removed (dir backend only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *session) error {
			dir, ok := s.backend.(*keychain.DirBackend)
			if !ok {
				return fmt.Errorf("%w: watch requires the dir backend, not %q", keychain.ErrInvalidArgument, s.cfg.Backend)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s (service %s)\n", dir.Root(), s.cfg.Service)
			return dir.Watch(ctx, s.cfg.Service, func(e keychain.Event) {
				fmt.Fprintf(out, "%s  %-8s %s/%s\n", time.Now().Format(time.TimeOnly), e.Op, e.Kind, e.Label)
			})
		})
	},
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the key audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := audit.ReadAll(cfg.AuditLog)
		if err != nil {
			return err
		}
		if auditLimit > 0 && len(entries) > auditLimit {
			entries = entries[len(entries)-auditLimit:]
		}

		out := cmd.OutOrStdout()
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-13s %s/%s actor=%s", e.Timestamp.Local().Format(time.DateTime), e.Action, e.Kind, e.Label, e.Actor)
			if e.Trigger != "" {
				line += " trigger=" + e.Trigger
			}
			if e.Error != "" {
				line += " error=" + e.Error
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "Show at most this many recent entries (0 for all)")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(auditCmd)
}
