package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tally/internal/processor"
	"github.com/MikeSquared-Agency/tally/internal/provider"
	"github.com/MikeSquared-Agency/tally/internal/settings"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the supported AI providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printCatalog(cmd.OutOrStdout(), provider.NewRegistry(provider.WithLogger(logger)))
	},
}

func printCatalog(out io.Writer, reg *provider.Registry) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEFAULT MODEL\tMODELS\tCREDENTIAL")
	for _, b := range reg.Catalog() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.DefaultModel, strings.Join(b.Models, ","), b.Credential)
	}
	return tw.Flush()
}

var testConn struct {
	provider string
	apiKey   string
	model    string
	endpoint string
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Send a probe request to a provider",
	Long:  "Sends a tiny completion to the provider. Flags not given fall back to TALLY_PROVIDER_*, then to the saved settings and then to the provider defaults.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer env.Close()

		pc := probeConfig(env.Registry, env.Settings)

		res := processor.TestConnection(cmd.Context(), env.Registry, pc)
		if !res.Success {
			return eris.New(res.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: connection ok (model %s)\n", pc.Provider, pc.Model)
		return nil
	},
}

func probeConfig(reg *provider.Registry, saved settings.Settings) provider.Config {
	pick := func(flag, fallback string) string {
		if flag != "" {
			return flag
		}
		return fallback
	}

	id := pick(testConn.provider, pick(cfg.Provider.Name, saved.AIProvider.Provider))
	if id == "" {
		id = reg.Default().ID
	}

	pc, ok := saved.ProviderConfigs[id]
	if saved.AIProvider.Provider == id {
		pc, ok = saved.AIProvider, true
	}
	if !ok {
		pc = reg.DefaultConfig(id)
	}
	pc.Provider = id
	pc.APIKey = pick(testConn.apiKey, pick(cfg.Provider.APIKey, pc.APIKey))
	pc.Model = pick(testConn.model, pick(cfg.Provider.Model, pc.Model))
	pc.Endpoint = pick(testConn.endpoint, pick(cfg.Provider.Endpoint, pc.Endpoint))
	return pc
}

func init() {
	f := testConnectionCmd.Flags()
	f.StringVar(&testConn.provider, "provider", "", "provider id (openai, anthropic, github)")
	f.StringVar(&testConn.apiKey, "api-key", "", "API key or token")
	f.StringVar(&testConn.model, "model", "", "model name")
	f.StringVar(&testConn.endpoint, "endpoint", "", "override the provider endpoint")

	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(testConnectionCmd)
}
