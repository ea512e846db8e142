package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{}\n```\n ", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	got, err := ExtractObject(`Voici le résultat : {"titles":["A"]} merci`)
	if err != nil {
		t.Fatalf("ExtractObject() error = %v", err)
	}
	if got != `{"titles":["A"]}` {
		t.Errorf("ExtractObject() = %q", got)
	}

	if _, err := ExtractObject("no braces here"); err == nil {
		t.Error("expected error when no object is present")
	}
	if _, err := ExtractObject("} backwards {"); err == nil {
		t.Error("expected error when braces are reversed")
	}
}

func TestParseObjectKeepsNulls(t *testing.T) {
	fields, err := ParseObject("```json\n{\"location\": null, \"titles\": [\"A\"]}\n```")
	if err != nil {
		t.Fatalf("ParseObject() error = %v", err)
	}

	loc, ok := fields["location"]
	if !ok {
		t.Fatal("location key lost")
	}
	if string(loc) != "null" {
		t.Errorf("location = %s, want null", loc)
	}
	if _, ok := fields["captions"]; ok {
		t.Error("absent key must stay absent")
	}
}

func TestParseJSONInvalid(t *testing.T) {
	if _, err := ParseJSON[map[string]json.RawMessage](`{"titles": [}`); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("ab", 3); got != "ab" {
		t.Errorf("Truncate() = %q", got)
	}
}
