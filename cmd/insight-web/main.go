// Package main runs the Image Insight HTTP server for local or container use.
//
// Configuration comes from the environment (and an optional .env file); see
// internal/config. Flags override the matching variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nurbua/Image-Insight/internal/auth"
	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/config"
	"github.com/nurbua/Image-Insight/internal/lambdaboot"
	"github.com/nurbua/Image-Insight/internal/logging"
	"github.com/nurbua/Image-Insight/internal/web"
)

// CLI flags
var (
	portFlag         string
	modelFlag        string
	envFileFlag      string
	skipValidateFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "insight-web",
	Short: "HTTP server for image analysis and chat",
	Long: `Insight Web serves the Image Insight API: upload an image to receive
titles, captions, literary excerpts and the shooting location, and chat
with Gemini in a persistent conversation streamed over Server-Sent Events.

Examples:
  insight-web
  insight-web --port 9090
  insight-web --model gemini-2.5-pro --env-file prod.env`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&portFlag, "port", "", "Port to listen on (default $PORT or 8080)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default $GEMINI_MODEL or "+chat.DefaultModelName+")")
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Optional environment file")
	rootCmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()

	cfg, err := config.Load(envFileFlag)
	if err != nil {
		logging.Init("info", "console")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if portFlag != "" {
		cfg.Port = portFlag
	}
	model := modelFlag
	if model == "" {
		model = cfg.GeminiModel
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := lambdaboot.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage backends")
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release resources")
		}
	}()

	apiKey, err := res.GeminiKey(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get API key")
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	generator := chat.NewGenerator(client.Models, model)

	if !skipValidateFlag {
		if err := auth.ValidateAPIKey(ctx, client.Models, generator.Model()); err != nil {
			log.Fatal().Err(err).Msg("Invalid API key")
		}
		log.Info().Msg("API key validated")
	}

	opts := web.Options{
		Analyzer:            generator,
		Streamer:            generator,
		Chat:                res.Chat,
		Resolver:            auth.NewResolver(cfg.AuthJWTSecret),
		Analyses:            res.Analyses,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		PreviewMaxDimension: cfg.PreviewMaxDimension,
	}
	if res.Images != nil {
		opts.Images = res.Images
	}
	server := web.New(opts)

	srv := &http.Server{
		Addr:        net.JoinHostPort("", cfg.Port),
		Handler:     server.Handler(),
		ReadTimeout: 60 * time.Second,
		// No WriteTimeout: SSE connections stay open.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	lambdaboot.StartupLog("insight-web", initStart, cfg).
		CommitHash(commitHash).
		Config("model", generator.Model()).
		Config("port", cfg.Port).
		Log()

	fmt.Printf("\n  Image Insight API: http://localhost:%s/api/health\n\n", cfg.Port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
