// Package commands provides the CLI commands for spritegate.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "spritegate",
	Short: "Spritegate - per-user sprite session gateway",
	Long: `Spritegate hosts one assistant sprite per user: a chat agent with a
private workspace, a terminal, and a live file view, all multiplexed over
WebSocket channels.

Run 'spritegate serve' to start the gateway.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Pick up API keys and the JWT secret from a local .env if present.
		godotenv.Load()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("spritegate %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
