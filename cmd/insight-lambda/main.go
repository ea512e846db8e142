// Package main provides the Lambda entry point for the Image Insight API.
//
// It serves the same handler as insight-web behind API Gateway (HTTP API,
// payload v2). Chat sends complete the model reply before responding because
// the runtime is frozen once a response is returned; clients read the
// conversation from GET /api/chat/messages.
//
// Security:
//   - Origin-verify middleware blocks direct API Gateway access when
//     ORIGIN_VERIFY_SECRET is set
//   - User identity from a signed JWT when AUTH_JWT_SECRET is set
//   - Upload size limit and image content-type allowlist
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/auth"
	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/config"
	"github.com/nurbua/Image-Insight/internal/lambdaboot"
	"github.com/nurbua/Image-Insight/internal/logging"
	"github.com/nurbua/Image-Insight/internal/web"
)

// newHandler builds the API handler at cold start.
func newHandler() http.Handler {
	initStart := time.Now()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logging.Init("info", "json")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	// CloudWatch wants one JSON object per line.
	logging.Init(cfg.LogLevel, "json")

	res, err := lambdaboot.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage backends")
	}

	apiKey, err := res.GeminiKey(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	generator := chat.NewGenerator(client.Models, cfg.GeminiModel)

	if cfg.AuthJWTSecret == "" {
		log.Warn().Msg("AUTH_JWT_SECRET not set, trusting the X-User-ID header")
	}
	if cfg.OriginVerifySecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set, origin verification disabled")
	}

	opts := web.Options{
		Analyzer:            generator,
		Streamer:            generator,
		Chat:                res.Chat,
		Resolver:            auth.NewResolver(cfg.AuthJWTSecret),
		Analyses:            res.Analyses,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		PreviewMaxDimension: cfg.PreviewMaxDimension,
		SyncChat:            true,
	}
	if res.Images != nil {
		opts.Images = res.Images
	}
	handler := withOriginVerify(cfg.OriginVerifySecret, web.New(opts).Handler())

	lambdaboot.StartupLog("insight-lambda", initStart, cfg).
		CommitHash(commitHash).
		Config("model", generator.Model()).
		Feature("originVerify", cfg.OriginVerifySecret != "").
		Log()
	return handler
}

func main() {
	adapter := httpadapter.NewV2(newHandler())
	lambda.Start(adapter.ProxyWithContext)
}
