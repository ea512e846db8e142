package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nurbua/Image-Insight/internal/assets"
	"github.com/nurbua/Image-Insight/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ErrStreamConsumed is yielded when a reply stream is ranged over twice.
var ErrStreamConsumed = errors.New("chat reply stream already consumed")

// StreamReply starts a fresh conversation seeded with history and the chat
// persona, sends message, and yields the reply text fragment by fragment.
//
// Nothing is sent until the caller ranges over the sequence. Empty fragments
// are skipped. A transport error is yielded once, as *GenerationFailure, and
// ends the sequence. The sequence is single-pass.
func (g *Generator) StreamReply(ctx context.Context, history []Turn, message string) iter.Seq2[string, error] {
	var started atomic.Bool

	return func(yield func(string, error) bool) {
		if !started.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		contents := chatContents(history, message)
		config := &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: strings.TrimSpace(assets.ChatSystemPrompt)}},
			},
		}

		log.Debug().
			Str("model", g.model).
			Int("history_turns", len(contents)-1).
			Int("message_length", len(message)).
			Msg("Starting streamed Gemini chat call")

		callStart := time.Now()
		fragments := 0
		result := "success"
		defer func() {
			metrics.New().
				Dimension("Operation", "chat").
				Dimension("Result", result).
				Duration("GenerationLatencyMs", time.Since(callStart)).
				Metric("ChatFragments", float64(fragments), metrics.UnitCount).
				Flush()
		}()

		for resp, err := range g.models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				failure := ClassifyError(err)
				result = failure.Kind.String()
				log.Error().Err(err).Str("kind", result).Int("fragments", fragments).Msg("Gemini chat stream failed")
				yield("", failure)
				return
			}
			if resp == nil {
				continue
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			fragments++
			if !yield(text, nil) {
				result = "abandoned"
				return
			}
		}
	}
}

// chatContents replays user and model turns in order, then appends message.
// Turns with any other role are not part of the model-facing history.
func chatContents(history []Turn, message string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		if turn.Role != RoleUser && turn.Role != RoleModel {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  string(turn.Role),
			Parts: []*genai.Part{{Text: turn.Text}},
		})
	}
	return append(contents, &genai.Content{
		Role:  string(RoleUser),
		Parts: []*genai.Part{{Text: message}},
	})
}
