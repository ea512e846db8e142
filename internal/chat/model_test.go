package chat

import "testing"

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		env       string
		want      string
	}{
		{"default", "", "", DefaultModelName},
		{"environment", "", ModelGemini25Pro, ModelGemini25Pro},
		{"flag wins", ModelGemini25FlashLite, ModelGemini25Pro, ModelGemini25FlashLite},
		{"blank flag", "   ", "", DefaultModelName},
		{"unknown passes through", "gemini-next", "", "gemini-next"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_MODEL", tt.env)
			if got := ResolveModel(tt.requested); got != tt.want {
				t.Errorf("ResolveModel(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestIsKnownModel(t *testing.T) {
	if !IsKnownModel(ModelGemini25Flash) {
		t.Error("flash should be known")
	}
	if IsKnownModel("gpt-4") {
		t.Error("gpt-4 should be unknown")
	}
}
