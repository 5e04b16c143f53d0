package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tally/internal/extractor"
)

var (
	parseLang   string
	parseDryRun bool
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Extract reports from a chat export (stdin when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		text, err := readInput(cmd, args)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		lang := parseLang
		if lang == "" {
			lang = env.Settings.Language
		}

		var res *extractor.Result
		if parseDryRun {
			participants, err := env.Store.Participants().LoadAll(ctx)
			if err != nil {
				return err
			}
			res, err = env.Processor.ParseMessages(ctx, text, participants, lang)
			if err != nil {
				return err
			}
		} else {
			res, err = env.Processor.Ingest(ctx, text, lang)
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var (
		b   []byte
		err error
	)
	if len(args) == 1 && args[0] != "-" {
		b, err = os.ReadFile(args[0])
	} else {
		b, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", eris.Wrap(err, "read input")
	}
	return string(b), nil
}

func init() {
	parseCmd.Flags().StringVar(&parseLang, "lang", "", "output language (default from settings)")
	parseCmd.Flags().BoolVar(&parseDryRun, "dry-run", false, "extract without storing anything")
	rootCmd.AddCommand(parseCmd)
}
