package main

import (
	"context"
	"fmt"
	"os"
	"time"
	"upaste/cfg"
	"upaste/svc/db"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "upaste",
		Short:         "Paste storage service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.LoadEnvFile(envFile, !cmd.Flags().Changed("env-file"))
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file merged into the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "upaste %s\n", version)
		},
	}
}

// healthCmd exits non-zero when the database cannot be opened or pinged.
// Container health checks call it.
func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the database is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			sqlDB, err := db.NewSQLite(c.DatabasePath)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			if err := sqlDB.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
