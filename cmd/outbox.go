package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailfinder/internal/importer"
	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/outbox"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Build and inspect the send queue",
}

var outboxBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the outbox from suggestions and messages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := outbox.Build(ctx, st)
		if err != nil {
			return err
		}
		fmt.Printf("Outbox built: %d ready, %d error, %d duplicates skipped\n",
			stats.Ready, stats.Error, stats.SkippedDuplicates)
		return nil
	},
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outbox entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		q, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxStatus(status), Search: q, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "outbox list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No outbox entries found.")
			return nil
		}
		formatOutbox(os.Stdout, entries)
		return nil
	},
}

var outboxExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the outbox as CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		entries, err := st.ListOutbox(ctx, model.OutboxFilter{Status: model.OutboxStatus(status)})
		if err != nil {
			return eris.Wrap(err, "outbox export")
		}

		path, _ := cmd.Flags().GetString("out")
		var w io.Writer = os.Stdout
		if path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrap(err, "outbox export")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := importer.ExportOutbox(w, entries); err != nil {
			return err
		}
		if path != "" && path != "-" {
			fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", len(entries), path)
		}
		return nil
	},
}

var outboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count outbox entries by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountOutboxByStatus(ctx)
		if err != nil {
			return eris.Wrap(err, "outbox stats")
		}
		formatCounts(os.Stdout, counts)
		return nil
	},
}

func formatOutbox(out io.Writer, entries []model.OutboxEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMPANY\tEMAIL\tSTATUS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Company, e.Email, e.Status, e.ErrorMessage)
	}
	_ = w.Flush()
}

func formatCounts(out io.Writer, counts map[model.OutboxStatus]int) {
	statuses := make([]string, 0, len(counts))
	total := 0
	for s, n := range counts {
		statuses = append(statuses, string(s))
		total += n
	}
	sort.Strings(statuses)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", s, counts[model.OutboxStatus(s)])
	}
	fmt.Fprintf(w, "TOTAL\t%d\n", total)
	_ = w.Flush()
}

func init() {
	outboxListCmd.Flags().String("status", "", "filter by status (READY, ERROR, SENT, BOUNCED, INVALID)")
	outboxListCmd.Flags().String("search", "", "match company, email or subject")
	outboxListCmd.Flags().Int("limit", 0, "max rows (0 = all)")
	outboxExportCmd.Flags().String("out", "", "output file (default stdout)")
	outboxExportCmd.Flags().String("status", "", "filter by status")

	outboxCmd.AddCommand(outboxBuildCmd, outboxListCmd, outboxExportCmd, outboxStatsCmd)
	rootCmd.AddCommand(outboxCmd)
}
