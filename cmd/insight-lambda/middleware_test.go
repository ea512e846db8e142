package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithOriginVerify(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		secret string
		path   string
		header string
		want   int
	}{
		{"disabled", "", "/api/analysis", "", http.StatusOK},
		{"valid header", "s3cret", "/api/analysis", "s3cret", http.StatusOK},
		{"missing header", "s3cret", "/api/analysis", "", http.StatusForbidden},
		{"wrong header", "s3cret", "/api/analysis", "guess", http.StatusForbidden},
		{"health is open", "s3cret", "/api/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("x-origin-verify", tt.header)
			}
			rec := httptest.NewRecorder()
			withOriginVerify(tt.secret, ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
