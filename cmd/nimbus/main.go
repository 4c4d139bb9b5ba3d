package main

import (
	"fmt"
	"os"

	"github.com/dgellow/nimbus/internal"
	"github.com/dgellow/nimbus/internal/config"
	"github.com/dgellow/nimbus/internal/crypto"
	"github.com/dgellow/nimbus/internal/log"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile, logLevel string

	root := &cobra.Command{
		Use:           "nimbus",
		Short:         "Third-party login service with signed sessions",
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override NIMBUS_LOG_LEVEL (error, warn, info, debug, trace)")
	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		if logLevel == "" {
			return nil
		}
		return log.SetLogLevel(logLevel)
	}

	root.AddCommand(
		newServeCmd(&envFile),
		newUsersCmd(&envFile),
		newKeysCmd(),
	)
	return root
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log.LogInfoWithFields("main", "Starting nimbus", map[string]any{
				"version": BuildVersion,
				"addr":    cfg.Addr,
			})

			app, err := internal.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to create nimbus: %w", err)
			}
			return app.Run()
		},
	}
}

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing secrets",
	}
	keys.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new random value for NIMBUS_SESSION_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := crypto.GenerateSecureToken()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), secret)
			return err
		},
	})
	return keys
}
