package main

import (
	"os"

	"github.com/danmuck/greeter/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "greetctl",
	Short:         "Text greeter and development broker for greetd",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.ConfigureRuntime()
		if logLevel != "" && !logging.SetLevel(logLevel) {
			log.Warn().Str("level", logLevel).Msg("greetctl unknown log level ignored")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides "+logging.EnvLogLevel+")")
	rootCmd.AddCommand(newLoginCmd(), newStubCmd(), newConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.ConfigureRuntime()
		log.Error().Err(err).Msg("greetctl failed")
		os.Exit(1)
	}
}
