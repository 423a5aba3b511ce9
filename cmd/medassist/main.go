package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "medassist",
		Short: "Telegram medical assistant bot",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the operational HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
