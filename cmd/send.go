package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/mailfinder/internal/mailer"
	"github.com/sells-group/mailfinder/internal/model"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send READY outbox entries over SMTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m, err := mailer.New(nil, cfg.SMTP, cfg.Send)
		if err != nil {
			return err
		}

		if test, _ := cmd.Flags().GetBool("test"); test {
			if err := m.Test(); err != nil {
				return err
			}
			fmt.Printf("Connexion SMTP OK (%s)\n", mailer.Describe(cfg.SMTP))
			return nil
		}

		if err := cfg.Validate("send"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m.Store = st
		m.DryRun, _ = cmd.Flags().GetBool("dry-run")
		if n, _ := cmd.Flags().GetInt("max"); n > 0 {
			m.MaxPerRun = n
		}
		m.OnSend = func(current, total int, email string, status model.OutboxStatus) {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", current, total, status, email)
		}

		stats, err := m.Send(ctx)
		if err != nil {
			return err
		}
		if stats.DryRun {
			fmt.Printf("Dry run: %d messages rendered\n", len(stats.Details))
			return nil
		}
		fmt.Printf("Sent %d, errors %d, of %d", stats.Sent, stats.Errors, stats.Total)
		if stats.Cancelled {
			fmt.Printf(" (interrupted, %d skipped)", stats.Skipped)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	sendCmd.Flags().Bool("dry-run", false, "render messages without sending")
	sendCmd.Flags().Bool("test", false, "only test the SMTP connection")
	sendCmd.Flags().Int("max", 0, "override send.max_per_run")
	rootCmd.AddCommand(sendCmd)
}
