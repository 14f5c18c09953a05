package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mailfinder/internal/model"
	"github.com/sells-group/mailfinder/internal/pattern"
)

// Single-step commands for inspecting one stage of the pipeline.

var domainCmd = &cobra.Command{
	Use:   "domain <company>",
	Short: "Resolve a company's mail domain",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, "find")
		if err != nil {
			return err
		}
		defer env.Close()

		force, _ := cmd.Flags().GetBool("force-refresh")
		company := strings.Join(args, " ")
		d, found, err := env.Domains.FindDomain(ctx, company, force)
		if err != nil {
			return eris.Wrap(err, "domain")
		}
		if !found {
			fmt.Fprintf(os.Stderr, "No domain found for %q.\n", company)
			return nil
		}
		fmt.Println(d)
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover <domain>",
	Short: "Harvest published addresses for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, "find")
		if err != nil {
			return err
		}
		defer env.Close()

		maxPages, _ := cmd.Flags().GetInt("max-pages")
		if maxPages <= 0 {
			maxPages = cfg.Crawl.MaxPages
		}
		emails := env.Harvest.Discover(ctx, strings.ToLower(args[0]), maxPages)
		if len(emails) == 0 {
			fmt.Fprintln(os.Stderr, "No addresses found.")
			return nil
		}
		for _, e := range emails {
			fmt.Println(e)
		}
		return nil
	},
}

var patternCmd = &cobra.Command{
	Use:   "pattern <domain>",
	Short: "Infer a domain's naming rule from sample addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		emails, _ := cmd.Flags().GetStringSlice("email")
		rawNames, _ := cmd.Flags().GetStringSlice("name")

		var names []model.Name
		for _, n := range rawNames {
			first, last, ok := strings.Cut(n, " ")
			if !ok {
				return eris.Errorf("pattern: --name %q must be \"First Last\"", n)
			}
			names = append(names, model.Name{First: first, Last: strings.TrimSpace(last)})
		}

		res, _ := pattern.Score(strings.ToLower(args[0]), emails, names)
		fmt.Printf("Pattern:    %s\n", res.Pattern)
		fmt.Printf("Confidence: %.2f\n", res.Confidence)
		fmt.Printf("Debug:      %s\n", res.Debug)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <firstname> <lastname> <domain>",
	Short: "Pick the best address for one person",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, "find")
		if err != nil {
			return err
		}
		defer env.Close()

		skip, _ := cmd.Flags().GetBool("skip-smtp")
		rawKind, _ := cmd.Flags().GetString("pattern")
		var known *pattern.Kind
		if rawKind != "" {
			k, ok := pattern.Parse(rawKind)
			if !ok {
				return eris.Errorf("verify: unknown pattern %q", rawKind)
			}
			known = &k
		}

		res := env.Verifier.FindBestEmail(ctx, args[0], args[1], strings.ToLower(args[2]), known, skip)
		if res.Email == "" {
			fmt.Fprintf(os.Stderr, "No address: %s\n", res.Debug)
			return nil
		}
		fmt.Printf("Email:      %s\n", res.Email)
		fmt.Printf("Pattern:    %s\n", res.Pattern)
		fmt.Printf("Confidence: %.2f\n", res.Confidence)
		fmt.Printf("Debug:      %s\n", res.Debug)
		return nil
	},
}

func init() {
	domainCmd.Flags().Bool("force-refresh", false, "bypass the domain cache")
	discoverCmd.Flags().Int("max-pages", 0, "page budget per tier (default from config)")
	patternCmd.Flags().StringSlice("email", nil, "sample address at the domain (repeatable)")
	patternCmd.Flags().StringSlice("name", nil, "known person as \"First Last\" (repeatable)")
	verifyCmd.Flags().Bool("skip-smtp", false, "skip SMTP mailbox probing")
	verifyCmd.Flags().String("pattern", "", "known pattern, e.g. prenom.nom")

	rootCmd.AddCommand(domainCmd, discoverCmd, patternCmd, verifyCmd)
}
