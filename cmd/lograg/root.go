package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "lograg",
		Short: "Ask questions about your log files in plain language.",
		Long: `lograg splits log files into entries, indexes them for similarity search and answers
questions about them with a language model, citing the entries it used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine.
			_ = godotenv.Load()
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to the YAML config (default <data-dir>/config.yaml)")
	pf.String("data-dir", "", "directory holding config, index and history (default ~/.lograg)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	for _, name := range []string{"config", "data-dir", "log-level", "log-format", "metrics-addr"} {
		if err := v.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}
	v.SetEnvPrefix("lograg")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newScanCmd(v),
		newRunCmd(v),
		newAskCmd(v),
		newShowConfigCmd(v),
	)
	return root
}
