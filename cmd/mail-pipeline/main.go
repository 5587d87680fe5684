package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"calentian-mail-pipeline/internal/app"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mail-pipeline",
	Short: "Calentian inbound mail pipeline",
	Long: `Drains the tenant mailbox into the message table, stores attachments,
classifies messages against tenants, customers and events, and pushes
status changes to dashboard subscribers.

Without a subcommand every component runs in one process.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(configPath, app.ModeAll)
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the poller, the assignment worker and the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(configPath, app.ModeAll)
	},
}

var pollerCmd = &cobra.Command{
	Use:   "poller",
	Short: "Run only the mailbox poller (with health endpoints)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(configPath, app.ModePoller)
	},
}

var assignerCmd = &cobra.Command{
	Use:   "assigner",
	Short: "Run only the assignment worker (with status websocket)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(configPath, app.ModeAssigner)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.AddCommand(runCmd, pollerCmd, assignerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
