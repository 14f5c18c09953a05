package main

import (
	"fmt"

	"github.com/badoux/checkmail"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailfinder/internal/importer"
	"github.com/sells-group/mailfinder/internal/model"
)

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Record a known email for a prospect",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		id, _ := cmd.Flags().GetInt64("prospect-id")
		email, _ := cmd.Flags().GetString("email")

		if err := checkmail.ValidateFormat(email); err != nil {
			return eris.Errorf("manual: invalid email %q", email)
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetProspect(ctx, id)
		if err != nil {
			return eris.Wrap(err, "manual")
		}
		if p == nil {
			return eris.Errorf("manual: prospect %d not found", id)
		}

		s := importer.ManualSuggestion(id, email, model.SuggestionManual)
		if err := st.UpsertSuggestions(ctx, []model.Suggestion{s}); err != nil {
			return eris.Wrap(err, "manual")
		}
		fmt.Printf("%s %s (%s): %s\n", p.Firstname, p.Lastname, p.Company, s.Email)
		return nil
	},
}

func init() {
	manualCmd.Flags().Int64("prospect-id", 0, "prospect id")
	manualCmd.Flags().String("email", "", "known email address")
	_ = manualCmd.MarkFlagRequired("prospect-id")
	_ = manualCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(manualCmd)
}
