package chat

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Gemini model IDs known to support both structured output and streaming.
const (
	ModelGemini25Pro       = "gemini-2.5-pro"
	ModelGemini25Flash     = "gemini-2.5-flash"
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultModelName is used when neither a flag nor GEMINI_MODEL names one.
const DefaultModelName = ModelGemini25Flash

var knownModels = []string{ModelGemini25Pro, ModelGemini25Flash, ModelGemini25FlashLite}

// IsKnownModel reports whether id is one of the models above. Unknown IDs
// are still sent to the API, which has the final word.
func IsKnownModel(id string) bool {
	for _, m := range knownModels {
		if m == id {
			return true
		}
	}
	return false
}

// ResolveModel picks the first non-blank of requested and GEMINI_MODEL,
// falling back to DefaultModelName.
func ResolveModel(requested string) string {
	model := strings.TrimSpace(requested)
	if model == "" {
		model = strings.TrimSpace(os.Getenv("GEMINI_MODEL"))
	}
	if model == "" {
		return DefaultModelName
	}
	if !IsKnownModel(model) {
		log.Warn().Str("model", model).Msg("Unrecognised Gemini model, passing through")
	}
	return model
}
