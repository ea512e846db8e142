// Package main exposes image analysis as Model Context Protocol tools over
// stdio, so desktop assistants can analyse local photos.
//
// stdout carries the protocol; logs go to stderr and metrics are discarded.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nurbua/Image-Insight/internal/auth"
	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/config"
	"github.com/nurbua/Image-Insight/internal/logging"
	"github.com/nurbua/Image-Insight/internal/metrics"
)

var (
	modelFlag   string
	envFileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "insight-mcp",
	Short: "MCP server for creative image analysis",
	Long: `Insight MCP serves two tools over stdio:

  analyze_image   titles, captions, literary excerpts and location of an image
  image_metadata  the EXIF metadata of an image, without calling Gemini`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default $GEMINI_MODEL or "+chat.DefaultModelName+")")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Optional environment file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	metrics.SetOutput(io.Discard)

	cfg, err := config.Load(envFileFlag)
	if err != nil {
		logging.Init("info", "json")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, "json")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiKey := cfg.GeminiAPIKey
	if apiKey == "" {
		if apiKey, err = auth.GetAPIKey(); err != nil {
			log.Fatal().Err(err).Msg("Failed to get API key")
		}
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	model := modelFlag
	if model == "" {
		model = cfg.GeminiModel
	}
	tools := &toolset{
		analyzer: chat.NewGenerator(client.Models, model),
		maxBytes: cfg.MaxUploadBytes,
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "image-insight", Version: commitHash}, nil)
	tools.register(server)

	log.Info().Str("model", model).Msg("MCP server listening on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
