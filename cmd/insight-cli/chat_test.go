package main

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/nurbua/Image-Insight/internal/chat"
	"github.com/nurbua/Image-Insight/internal/cli"
	"github.com/nurbua/Image-Insight/internal/conversation"
	"github.com/nurbua/Image-Insight/internal/store"
)

type scriptedSender struct {
	sent   []string
	failOn string
	silent string
}

func (s *scriptedSender) Send(_ context.Context, text string) (*store.ChatMessage, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, nil
	}
	if text == s.failOn {
		return nil, true, errors.New("table unavailable")
	}
	s.sent = append(s.sent, text)
	if text == s.silent {
		return nil, true, nil
	}
	return &store.ChatMessage{Role: store.RoleModel, Text: "écho: " + text}, true, nil
}

func TestREPL(t *testing.T) {
	in := strings.NewReader("bonjour\n\n  \ncasse\nencore\n/quit\nignored\n")
	var out bytes.Buffer
	s := &scriptedSender{failOn: "casse"}

	repl(context.Background(), s, cli.NewPrompter(in, &out), &out)

	if got := strings.Join(s.sent, ","); got != "bonjour,encore" {
		t.Errorf("sent = %q", got)
	}
	text := out.String()
	for _, want := range []string{"gemini> écho: bonjour", "gemini> écho: encore", "Message non enregistré"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestREPLStopsAtEOF(t *testing.T) {
	var out bytes.Buffer
	s := &scriptedSender{}
	repl(context.Background(), s, cli.NewPrompter(strings.NewReader("salut"), &out), &out)

	if len(s.sent) != 1 || s.sent[0] != "salut" {
		t.Errorf("sent = %v", s.sent)
	}
}

func TestREPLDoesNotRepeatEarlierReply(t *testing.T) {
	in := strings.NewReader("bonjour\nrien\n/quit\n")
	var out bytes.Buffer
	s := &scriptedSender{silent: "rien"}

	repl(context.Background(), s, cli.NewPrompter(in, &out), &out)

	text := out.String()
	if n := strings.Count(text, "gemini> écho: bonjour"); n != 1 {
		t.Errorf("earlier reply printed %d times:\n%s", n, text)
	}
	if !strings.Contains(text, "(pas de réponse)") {
		t.Errorf("empty reply not reported:\n%s", text)
	}
}

func TestREPLWithManager(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryChatStore()
	_, _ = st.Append(ctx, "alice", "ancienne question", store.RoleUser)
	_, _ = st.Append(ctx, "alice", "ancienne réponse", store.RoleModel)

	m := conversation.NewManager("alice", st, silentStreamer{}, nil)
	if err := m.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	var out bytes.Buffer
	repl(ctx, m, cli.NewPrompter(strings.NewReader("salut\n"), &out), &out)

	if strings.Contains(out.String(), "ancienne réponse") {
		t.Errorf("stale reply printed:\n%s", out.String())
	}
}

// silentStreamer yields no fragments.
type silentStreamer struct{}

func (silentStreamer) StreamReply(context.Context, []chat.Turn, string) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}
