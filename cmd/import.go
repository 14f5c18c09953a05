package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailfinder/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import prospects or messages from CSV/XLSX",
}

var importProspectsCmd = &cobra.Command{
	Use:   "prospects",
	Short: "Import prospects (firstname, lastname, company[, email])",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")
		withEmail, _ := cmd.Flags().GetBool("with-email")

		tbl, err := importer.ReadFile(file)
		if err != nil {
			return err
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := importer.ImportProspects(ctx, st, tbl, withEmail)
		if err != nil {
			return eris.Wrap(err, "import prospects")
		}
		fmt.Printf("Imported %d prospects (%d skipped, %d with email, encoding %s)\n",
			res.Imported, res.Skipped, res.WithEmail, res.Encoding)
		return nil
	},
}

var importMessagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Import company messages (company, subject, body_text)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")

		tbl, err := importer.ReadFile(file)
		if err != nil {
			return err
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := importer.ImportMessages(ctx, st, tbl)
		if err != nil {
			return eris.Wrap(err, "import messages")
		}
		fmt.Printf("Imported %d messages (%d skipped, encoding %s)\n", res.Imported, res.Skipped, res.Encoding)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{importProspectsCmd, importMessagesCmd} {
		c.Flags().String("file", "", "path to a .csv or .xlsx file")
		_ = c.MarkFlagRequired("file")
	}
	importProspectsCmd.Flags().Bool("with-email", false, "read an optional email column as known addresses")

	importCmd.AddCommand(importProspectsCmd, importMessagesCmd)
	rootCmd.AddCommand(importCmd)
}
