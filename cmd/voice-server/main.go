package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"voice-server-go/internal/bootstrap"
)

var (
	configPath string
	useDotEnv  bool
)

var rootCmd = &cobra.Command{
	Use:           "voice-server",
	Short:         "Voice synthesis and live call audio server",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `voice-server synthesizes character speech through a fallback chain of
TTS providers, bridges browser microphones to a live conversational model
and keeps the usage ledger contributors are rewarded from.

Without a subcommand it serves the HTTP API.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default .config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&useDotEnv, "dotenv", true, "load variables from .env before reading config")
	rootCmd.AddCommand(serveCmd)
}

func options() bootstrap.Options {
	return bootstrap.Options{ConfigPath: configPath, DotEnv: useDotEnv}
}

func runServe(cmd *cobra.Command, _ []string) error {
	fmt.Printf("[%s] [BOOT] starting voice-server\n", time.Now().Format("2006-01-02 15:04:05.000"))
	return bootstrap.Run(cmd.Context(), options())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
