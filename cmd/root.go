// Package cmd wires the CLI: the root command runs the gateway, with
// doctor and reset subcommands for operations.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via
// -ldflags "-X github.com/zriyansh/customgpt-bots/cmd.Version=v1.0.0".
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "customgpt-bots",
	Short: "CustomGPT chat-bot gateway",
	Long: "Relays Slack, Telegram, and Discord messages to a CustomGPT project " +
		"and returns the generated answers, with per-principal rate limiting, " +
		"webhook deduplication, and thread follow-up tracking.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $CUSTOMGPT_BOTS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(resetCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("customgpt-bots %s\n", Version)
		},
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configPath resolves the config file location: flag, env, then default.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CUSTOMGPT_BOTS_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// setupLogging configures slog according to the verbose flag.
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
