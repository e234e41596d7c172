package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"go.aimuz.me/voxbridge/internal/app"
	"go.aimuz.me/voxbridge/lang"
	"go.aimuz.me/voxbridge/translate"
)

var translateCmd = &cobra.Command{
	Use:   "translate TEXT...",
	Short: "Translate one sentence with the configured providers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := app.New(version, cfg, nil)
		defer svc.Shutdown()
		svc.Setup()

		res, err := svc.Translate(cmd.Context(), translate.Request{
			Text:           strings.Join(args, " "),
			InputLanguage:  cfg.Session.InputLanguage,
			OutputLanguage: cfg.Session.OutputLanguage,
			Model:          cfg.Session.Model,
		})
		if err != nil && !errors.Is(err, app.ErrTranslationFailed) {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Translation)
		if err != nil {
			return err
		}
		if res.Provider != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "(%s, %s, speaker %s)\n", res.Provider, res.Model, res.Speaker)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check which translation providers accept their credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc := app.New(version, cfg, nil)
		defer svc.Shutdown()
		svc.Setup()

		checks, err := svc.CheckProviders(cmd.Context())
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Provider", "Default Model", "Valid", "Took", "Error"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)

		usable := 0
		for _, c := range checks {
			valid := "no"
			if c.Valid {
				valid = "yes"
				usable++
			}
			table.Append([]string{
				string(c.Provider),
				cfg.Provider(c.Provider).Model,
				valid,
				c.Took.Round(time.Millisecond).String(),
				c.Error,
			})
		}
		table.Render()

		if usable == 0 {
			return translate.ErrNoProvider
		}
		return nil
	},
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported input locales and output languages",
	Args:  cobra.NoArgs,
	// Static data; no configuration needed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Kind", "Code", "Name"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)

		for _, code := range lang.InputLocales {
			table.Append([]string{"input", code, lang.Name(code)})
		}
		for _, code := range lang.OutputLanguages {
			table.Append([]string{"output", code, lang.Name(code)})
		}
		table.Render()
	},
}

var modelsCmd = &cobra.Command{
	Use:               "models",
	Short:             "List the models each translation provider offers",
	Args:              cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Provider", "Model", "Default"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)

		for _, id := range translate.ProviderIDs {
			for _, m := range translate.Models(id) {
				def := ""
				if m == translate.DefaultModel(id) {
					def = "*"
				}
				table.Append([]string{string(id), m, def})
			}
		}
		table.Render()
	},
}
