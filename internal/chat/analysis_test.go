package chat

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/nurbua/Image-Insight/internal/filehandler"
	"google.golang.org/genai"
)

const mixedLanguageResponse = `{
  "titles": ["A"],
  "captions": ["B"],
  "excerpts": [
    {"extrait": "e1", "auteur": "au1", "oeuvre": "o1", "traduction": ""},
    {"extrait": "e2", "auteur": "au2", "oeuvre": "o2", "traduction": "t2"}
  ],
  "location": {"city": "Paris", "region": "Île-de-France", "country": "France"}
}`

func TestAnalyzeRequestShape(t *testing.T) {
	fake := &fakeModels{text: mixedLanguageResponse}
	g := NewGenerator(fake, ModelGemini25Flash)
	prompt := ComposeAnalysisPrompt(&filehandler.GPS{Latitude: "48.856600", Longitude: "2.352200"})

	if _, err := g.Analyze(context.Background(), []byte{0xFF, 0xD8}, "image/jpeg", prompt); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if fake.lastModel != ModelGemini25Flash {
		t.Errorf("model = %q", fake.lastModel)
	}
	if fake.lastConfig.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", fake.lastConfig.ResponseMIMEType)
	}
	if fake.lastConfig.ResponseSchema != prompt.Schema {
		t.Error("schema not forwarded")
	}
	if len(fake.lastContents) != 1 || len(fake.lastContents[0].Parts) != 2 {
		t.Fatalf("unexpected contents: %+v", fake.lastContents)
	}
	blob := fake.lastContents[0].Parts[0].InlineData
	if blob == nil || blob.MIMEType != "image/jpeg" || len(blob.Data) != 2 {
		t.Errorf("image part = %+v", blob)
	}
	if fake.lastContents[0].Parts[1].Text != prompt.Instruction {
		t.Error("instruction part missing")
	}
}

func TestAnalyzeMixedLanguageExcerpts(t *testing.T) {
	g := NewGenerator(&fakeModels{text: mixedLanguageResponse}, "m")

	got, err := g.Analyze(context.Background(), []byte("img"), "image/png", ComposeAnalysisPrompt(nil))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	want := &AnalysisResult{
		Titles:   []string{"A"},
		Captions: []string{"B"},
		Excerpts: []LiteraryExcerpt{
			{Excerpt: "e1", Author: "au1", Work: "o1", Translation: ""},
			{Excerpt: "e2", Author: "au2", Work: "o2", Translation: "t2"},
		},
		Location: &LocationInfo{City: "Paris", Region: "Île-de-France", Country: "France"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Analyze() = %+v, want %+v", got, want)
	}
}

func TestParseAnalysisResponseLocation(t *testing.T) {
	base := `"titles":["A"],"captions":["B"],"excerpts":[` +
		`{"extrait":"e1","auteur":"a","oeuvre":"o","traduction":""},` +
		`{"extrait":"e2","auteur":"a","oeuvre":"o","traduction":"t"}]`

	tests := []struct {
		name string
		body string
		want *LocationInfo
	}{
		{"null", `{` + base + `,"location":null}`, nil},
		{"absent", `{` + base + `}`, nil},
		{"all empty", `{` + base + `,"location":{"city":"","region":" ","country":""}}`, nil},
		{"partial", `{` + base + `,"location":{"country":"Japon"}}`, &LocationInfo{Country: "Japon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnalysisResponse(tt.body)
			if err != nil {
				t.Fatalf("parseAnalysisResponse() error = %v", err)
			}
			if !reflect.DeepEqual(got.Location, tt.want) {
				t.Errorf("Location = %+v, want %+v", got.Location, tt.want)
			}
		})
	}
}

func TestParseAnalysisResponseMalformed(t *testing.T) {
	excerpt := `{"extrait":"e","auteur":"a","oeuvre":"o","traduction":""}`

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "Désolé, je ne peux pas analyser cette image."},
		{"truncated", `{"titles":["A"],"captions":`},
		{"missing titles", `{"captions":["B"],"excerpts":[` + excerpt + `,` + excerpt + `]}`},
		{"null captions", `{"titles":["A"],"captions":null,"excerpts":[` + excerpt + `,` + excerpt + `]}`},
		{"titles wrong type", `{"titles":"A","captions":["B"],"excerpts":[` + excerpt + `,` + excerpt + `]}`},
		{"one excerpt", `{"titles":["A"],"captions":["B"],"excerpts":[` + excerpt + `]}`},
		{"three excerpts", `{"titles":["A"],"captions":["B"],"excerpts":[` + excerpt + `,` + excerpt + `,` + excerpt + `]}`},
		{"missing translation", `{"titles":["A"],"captions":["B"],"excerpts":[` + excerpt + `,{"extrait":"e","auteur":"a","oeuvre":"o"}]}`},
		{"null translation", `{"titles":["A"],"captions":["B"],"excerpts":[` + excerpt + `,{"extrait":"e","auteur":"a","oeuvre":"o","traduction":null}]}`},
		{"missing author", `{"titles":["A"],"captions":["B"],"excerpts":[` + excerpt + `,{"extrait":"e","oeuvre":"o","traduction":""}]}`},
		{"location wrong type", `{"titles":["A"],"captions":["B"],"excerpts":[` + excerpt + `,` + excerpt + `],"location":"Paris"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAnalysisResponse(tt.body)
			var malformed *MalformedResponse
			if !errors.As(err, &malformed) {
				t.Fatalf("error = %v, want *MalformedResponse", err)
			}
			if malformed.Raw != tt.body {
				t.Errorf("Raw = %q, want the response text", malformed.Raw)
			}
		})
	}
}

func TestAnalyzeFencedResponse(t *testing.T) {
	g := NewGenerator(&fakeModels{text: "```json\n" + mixedLanguageResponse + "\n```"}, "m")
	if _, err := g.Analyze(context.Background(), []byte("img"), "image/png", ComposeAnalysisPrompt(nil)); err != nil {
		t.Fatalf("fenced JSON should parse: %v", err)
	}
}

func TestAnalyzeTransportFailure(t *testing.T) {
	g := NewGenerator(&fakeModels{err: genai.APIError{Code: 429, Message: "Resource has been exhausted"}}, "m")

	_, err := g.Analyze(context.Background(), []byte("img"), "image/png", ComposeAnalysisPrompt(nil))

	var failure *GenerationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *GenerationFailure", err)
	}
	if failure.Kind != FailureQuota {
		t.Errorf("Kind = %v, want quota", failure.Kind)
	}
	var malformed *MalformedResponse
	if errors.As(err, &malformed) {
		t.Error("transport failure must not look like a malformed response")
	}
}

func TestAnalyzeCallsOnce(t *testing.T) {
	fake := &fakeModels{text: "not json"}
	g := NewGenerator(fake, "m")
	_, _ = g.Analyze(context.Background(), []byte("img"), "image/png", ComposeAnalysisPrompt(nil))
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries)", fake.calls)
	}
}
