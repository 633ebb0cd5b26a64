package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	defaults := defaultServiceConfig()

	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "authgate - email/password and 2FA authentication service",
		Long: `authgate issues signed session tokens after password, two-factor or
external identity login, and handles password recovery.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file path (YAML)")
	pf.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	pf.String("log-format", defaults.Log.Format, "log format (json or text)")
	pf.String("database-url", defaults.Database.URL, "PostgreSQL connection URL")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("authgate %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
			return nil
		},
	}
}
