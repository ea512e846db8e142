// Package main is the Image Insight command-line client: analyse an image
// from the terminal, chat with Gemini, or issue API tokens.
package main

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/cli"
	"github.com/nurbua/Image-Insight/internal/config"
	"github.com/nurbua/Image-Insight/internal/lambdaboot"
	"github.com/nurbua/Image-Insight/internal/logging"
	"github.com/nurbua/Image-Insight/internal/metrics"
)

// Persistent flags
var (
	modelFlag   string
	envFileFlag string
	userFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "insight-cli",
	Short: "Creative image analysis and chat with Gemini",
	Long: `Insight CLI analyses photos with Gemini: three titles, three captions,
two literary excerpts and, when the photo carries GPS coordinates, the
city, region and country where it was taken. It also offers a terminal
chat sharing the same conversation store as the web server.

Examples:
  insight-cli analyze ./photos/sunset.jpg
  insight-cli analyze --json ./photos/sunset.jpg
  insight-cli analyze            # opens a file picker
  insight-cli chat --user alice
  insight-cli token --user alice --ttl 24h`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// EMF lines belong in CloudWatch, not in the terminal.
		metrics.SetOutput(io.Discard)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default $GEMINI_MODEL or "+chat.DefaultModelName+")")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Optional environment file")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", defaultUser(), "User ID for the conversation and saved analyses")

	rootCmd.AddCommand(analyzeCmd, chatCmd, tokenCmd)
	rootCmd.Version = commitHash
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and initializes logging. Errors are
// fatal.
func loadConfig() *config.Config {
	cfg, err := config.Load(envFileFlag)
	if err != nil {
		logging.Init("info", "console")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg
}

func modelName(cfg *config.Config) string {
	if modelFlag != "" {
		return modelFlag
	}
	return cfg.GeminiModel
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// openBackends opens the configured storage and resolves the Gemini key
// (environment, then SSM when AWS is configured, then the local GPG store).
func openBackends(ctx context.Context, cfg *config.Config) (*lambdaboot.Resources, string) {
	res, err := lambdaboot.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage backends")
	}
	key, err := res.GeminiKey(ctx, cfg)
	if err != nil {
		cli.HandleValidationError(err)
	}
	return res, key
}
