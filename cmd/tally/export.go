package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MikeSquared-Agency/tally/internal/export"
)

var (
	exportFormat string
	exportLang   string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the roster with each publisher's latest report as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		write := export.WriteCSV
		switch exportFormat {
		case "csv":
		case "xlsx":
			write = export.WriteXLSX
		default:
			return eris.Errorf("unknown format %q (want csv or xlsx)", exportFormat)
		}

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		ps, err := env.Store.Participants().LoadAll(ctx)
		if err != nil {
			return err
		}
		recs, err := env.Store.Activity().LoadAll(ctx)
		if err != nil {
			return err
		}

		lang := exportLang
		if lang == "" {
			lang = env.Settings.Language
		}

		var out io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close()
			out = f
		}

		rows := export.Rows(ps, recs)
		if err := write(out, rows, lang); err != nil {
			return err
		}
		logger.Info("export written", zap.String("format", exportFormat), zap.Int("rows", len(rows)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVar(&exportLang, "lang", "", "header language (default from settings)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}
