package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/orchestrator"
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Infer emails for prospects without a suggestion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "find")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		force, _ := cmd.Flags().GetBool("force-refresh")
		env.Runner.SkipSMTP, _ = cmd.Flags().GetBool("skip-smtp")

		p, err := env.Runner.Run(ctx, orchestrator.Options{Limit: limit, ForceRefresh: force})
		if err != nil {
			return err
		}
		formatProgress(os.Stdout, p)
		return nil
	},
}

func formatProgress(out io.Writer, p model.Progress) {
	state := "idle"
	if p.Running {
		state = "running"
	}
	if p.TaskName != "" {
		fmt.Fprintf(out, "Task:     %s (%s)\n", p.TaskName, state)
	} else {
		fmt.Fprintf(out, "Task:     - (%s)\n", state)
	}
	if p.RunID != "" {
		fmt.Fprintf(out, "Run:      %s\n", p.RunID)
	}
	if p.Total > 0 {
		fmt.Fprintf(out, "Progress: %d/%d\n", p.Current, p.Total)
	}
	fmt.Fprintf(out, "Message:  %s\n", p.Message)
	if p.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", p.Error)
	}
	if p.Results != nil {
		fmt.Fprintf(out, "Results:  %d total, %d found, %d not found\n",
			p.Results.Total, p.Results.Found, p.Results.NotFound)
	}
}

func init() {
	findCmd.Flags().Int("limit", 0, "max prospects to process (0 = all)")
	findCmd.Flags().Bool("force-refresh", false, "reprocess every prospect and bypass caches")
	findCmd.Flags().Bool("skip-smtp", false, "skip SMTP mailbox probing")
	rootCmd.AddCommand(findCmd)
}
