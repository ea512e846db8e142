package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nurbua/Image-Insight/internal/jsonutil"
	"github.com/nurbua/Image-Insight/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Analyze sends the image inline with the composed instruction and decodes
// the structured answer. Transport failures come back as *GenerationFailure;
// a response that is not the expected JSON as *MalformedResponse. There are
// no retries.
func (g *Generator) Analyze(ctx context.Context, image []byte, mimeType string, prompt AnalysisPrompt) (*AnalysisResult, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   prompt.Schema,
	}

	contents := []*genai.Content{{
		Role: string(RoleUser),
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			{Text: prompt.Instruction},
		},
	}}

	log.Debug().
		Str("model", g.model).
		Str("mime_type", mimeType).
		Int("image_bytes", len(image)).
		Int("prompt_length", len(prompt.Instruction)).
		Bool("has_gps", prompt.HasGPS()).
		Msg("Starting Gemini API call for image analysis")

	callStart := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	duration := time.Since(callStart)

	rec := metrics.New().
		Dimension("Operation", "analyze").
		Duration("GenerationLatencyMs", duration)

	if err != nil {
		failure := ClassifyError(err)
		rec.Dimension("Result", failure.Kind.String()).Count("GenerationResult").Flush()
		log.Error().Err(err).Str("kind", failure.Kind.String()).Dur("duration", duration).Msg("Gemini analysis call failed")
		return nil, failure
	}
	if resp == nil {
		rec.Dimension("Result", "empty").Count("GenerationResult").Flush()
		return nil, &MalformedResponse{Err: errors.New("empty response from Gemini API")}
	}

	text := resp.Text()
	result, err := parseAnalysisResponse(text)
	if err != nil {
		rec.Dimension("Result", "malformed").Count("GenerationResult").Flush()
		return nil, err
	}

	rec.Dimension("Result", "success").Count("GenerationResult").Flush()
	log.Info().
		Int("titles", len(result.Titles)).
		Int("captions", len(result.Captions)).
		Bool("has_location", result.Location != nil).
		Dur("duration", duration).
		Msg("Image analysis complete")

	return result, nil
}

// parseAnalysisResponse decodes {titles, captions, excerpts, location}
// field by field so that absent keys and explicit nulls are told apart.
func parseAnalysisResponse(text string) (*AnalysisResult, error) {
	malformed := func(err error) error {
		return &MalformedResponse{Raw: text, Err: err}
	}

	if strings.TrimSpace(text) == "" {
		return nil, malformed(errors.New("empty response text"))
	}

	fields, err := jsonutil.ParseObject(text)
	if err != nil {
		return nil, malformed(err)
	}

	result := &AnalysisResult{}
	if result.Titles, err = decodeStrings(fields, "titles"); err != nil {
		return nil, malformed(err)
	}
	if result.Captions, err = decodeStrings(fields, "captions"); err != nil {
		return nil, malformed(err)
	}
	if result.Excerpts, err = decodeExcerpts(fields["excerpts"]); err != nil {
		return nil, malformed(err)
	}
	if result.Location, err = decodeLocation(fields["location"]); err != nil {
		return nil, malformed(err)
	}
	return result, nil
}

func decodeStrings(fields map[string]json.RawMessage, key string) ([]string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, fmt.Errorf("missing %q", key)
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%q is not an array of strings: %w", key, err)
	}
	return values, nil
}

// wireExcerpt uses pointers so a missing or null key is detectable.
type wireExcerpt struct {
	Excerpt     *string `json:"extrait"`
	Author      *string `json:"auteur"`
	Work        *string `json:"oeuvre"`
	Translation *string `json:"traduction"`
}

func decodeExcerpts(raw json.RawMessage) ([]LiteraryExcerpt, error) {
	if raw == nil || isNull(raw) {
		return nil, errors.New(`missing "excerpts"`)
	}
	var wire []wireExcerpt
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf(`"excerpts" is not an array of excerpt objects: %w`, err)
	}
	if len(wire) != ExcerptCount {
		return nil, fmt.Errorf(`"excerpts" has %d entries, want %d`, len(wire), ExcerptCount)
	}

	excerpts := make([]LiteraryExcerpt, 0, len(wire))
	for i, w := range wire {
		if w.Excerpt == nil || w.Author == nil || w.Work == nil {
			return nil, fmt.Errorf("excerpt %d is missing extrait, auteur or oeuvre", i)
		}
		if w.Translation == nil {
			return nil, fmt.Errorf("excerpt %d has no traduction (must be empty when already French)", i)
		}
		excerpts = append(excerpts, LiteraryExcerpt{
			Excerpt:     *w.Excerpt,
			Author:      *w.Author,
			Work:        *w.Work,
			Translation: *w.Translation,
		})
	}
	return excerpts, nil
}

// decodeLocation treats absent, null and all-empty objects alike: no location.
func decodeLocation(raw json.RawMessage) (*LocationInfo, error) {
	if raw == nil || isNull(raw) {
		return nil, nil
	}
	var loc LocationInfo
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, fmt.Errorf(`"location" is not an object: %w`, err)
	}
	loc.City = strings.TrimSpace(loc.City)
	loc.Region = strings.TrimSpace(loc.Region)
	loc.Country = strings.TrimSpace(loc.Country)
	if loc.IsZero() {
		return nil, nil
	}
	return &loc, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
