// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// ChatSystemPrompt is the persona given to the assistant for every chat turn.
// It fixes the output language to French.
//
//go:embed prompts/chat-system.txt
var ChatSystemPrompt string

//go:embed prompts/analysis.txt
var analysisTemplate string

var analysisPromptTmpl = template.Must(template.New("analysis").Parse(analysisTemplate))

// AnalysisPromptData holds the dynamic data injected into the analysis prompt.
type AnalysisPromptData struct {
	HasGPS    bool
	Latitude  string
	Longitude string
}

// RenderAnalysisPrompt renders the image analysis instruction. The location
// paragraph asks for reverse geocoding when coordinates are given and forces
// a null location otherwise.
func RenderAnalysisPrompt(data AnalysisPromptData) string {
	var buf bytes.Buffer
	// Execution errors are not expected with this template; whatever was
	// rendered is returned.
	_ = analysisPromptTmpl.Execute(&buf, data)
	return strings.TrimSpace(buf.String())
}
