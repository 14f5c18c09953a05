package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mailfinder/internal/config"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(os.Stdout, cfg)
	},
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate all tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("db reset deletes all data; pass --yes to confirm")
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Reset(ctx); err != nil {
			return eris.Wrap(err, "db reset")
		}
		fmt.Println("Database reset.")
		return nil
	},
}

func writeConfig(out io.Writer, c *config.Config) error {
	shown := *c
	for _, s := range []*string{
		&shown.Hunter.APIKey, &shown.SMTP.AppPassword, &shown.IMAP.Password, &shown.Redis.Password,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(shown); err != nil {
		return eris.Wrap(err, "config show")
	}
	return enc.Close()
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm data deletion")

	configCmd.AddCommand(configShowCmd)
	dbCmd.AddCommand(dbResetCmd)
	rootCmd.AddCommand(configCmd, dbCmd)
}
