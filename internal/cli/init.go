// Package cli holds the terminal helpers shared by the command-line binaries:
// client start-up, file picking, prompts and report formatting.
package cli

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/auth"
	"github.com/nurbua/Image-Insight/internal/chat"
)

// InitGenerator creates a Gemini client for apiKey, validates the key with a
// test call against model and returns a generator bound to model. It exits
// fatally on failure.
func InitGenerator(ctx context.Context, apiKey, model string) *chat.Generator {
	if apiKey == "" {
		HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "API key is empty"})
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	log.Info().Msg("connection successful - Gemini client initialized")

	if err := auth.ValidateAPIKey(ctx, client.Models, model); err != nil {
		HandleValidationError(err)
	}

	log.Info().Msg("API key validation complete - ready for operations")

	return chat.NewGenerator(client.Models, model)
}
