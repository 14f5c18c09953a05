package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the status of the current or last run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rdb, err := initRedis(ctx)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close() //nolint:errcheck
		}
		sink, err := initSink(rdb)
		if err != nil {
			return err
		}

		if reset, _ := cmd.Flags().GetBool("clear"); reset {
			if err := sink.Clear(ctx); err != nil {
				return eris.Wrap(err, "progress clear")
			}
			fmt.Println("Progress cleared.")
			return nil
		}

		p, err := sink.Read(ctx)
		if err != nil {
			return eris.Wrap(err, "progress")
		}
		formatProgress(os.Stdout, p)
		return nil
	},
}

func init() {
	progressCmd.Flags().Bool("clear", false, "reset the progress record")
	rootCmd.AddCommand(progressCmd)
}
