package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailfinder/internal/bounce"
)

var bouncesCmd = &cobra.Command{
	Use:   "bounces",
	Short: "Scan the mailbox for bounces and update the outbox",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mb, err := bounce.Dial(cfg.IMAP)
		if err != nil {
			return err
		}
		defer func() {
			if err := mb.Close(); err != nil {
				zap.L().Debug("imap logout", zap.Error(err))
			}
		}()

		if test, _ := cmd.Flags().GetBool("test"); test {
			fmt.Printf("Connexion IMAP OK (%s:%d as %s)\n", cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.User)
			return nil
		}

		if err := cfg.Validate("bounces"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days, _ := cmd.Flags().GetInt("since-days")
		if days <= 0 {
			days = cfg.IMAP.SinceDays
		}

		stats, err := bounce.NewScanner(st, cfg.IMAP.User, cfg.IMAP.Folder).Scan(ctx, mb, days)
		if err != nil {
			return err
		}

		fmt.Printf("Bounced %d, invalid %d, already seen %d\n", stats.Bounced, stats.Invalid, stats.AlreadySeen)
		if len(stats.Details) > 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tSTATUS\tDIAG")
			for _, d := range stats.Details {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Email, d.Status, d.DiagCode)
			}
			_ = w.Flush()
		}
		return nil
	},
}

func init() {
	bouncesCmd.Flags().Int("since-days", 0, "look back this many days (default from config)")
	bouncesCmd.Flags().Bool("test", false, "only test the IMAP connection")
	rootCmd.AddCommand(bouncesCmd)
}
