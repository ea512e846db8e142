package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/store"
)

const maxChatBodyBytes = 64 << 10

type sendRequest struct {
	Text string `json:"text"`
}

type historyPayload struct {
	Messages []store.ChatMessage `json:"messages"`
}

func newHistoryPayload(messages []store.ChatMessage) historyPayload {
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	return historyPayload{Messages: messages}
}

// POST /api/chat/messages {"text": "..."}
//
// Always 202 once the body is valid: accepted is false when the text is blank
// or a send is already in flight. The reply arrives through the history.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	uid := userID(r.Context())
	cs, err := s.hub.acquire(r.Context(), uid)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "chat unavailable", err.Error())
		return
	}

	// The exchange outlives the request.
	ctx := context.WithoutCancel(r.Context())

	if s.opts.SyncChat {
		defer s.hub.release(cs)
		_, accepted, err := cs.manager.Send(ctx, req.Text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save message", err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
		return
	}

	// An accepted exchange holds the session until it finishes.
	accepted := cs.manager.SendAsync(ctx, req.Text, func() { s.hub.release(cs) })
	if !accepted {
		s.hub.release(cs)
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

// GET /api/chat/messages
func (s *Server) handleChatSnapshot(w http.ResponseWriter, r *http.Request) {
	cs, err := s.hub.acquire(r.Context(), userID(r.Context()))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "chat unavailable", err.Error())
		return
	}
	defer s.hub.release(cs)
	respondJSON(w, http.StatusOK, newHistoryPayload(cs.snapshot()))
}

// GET /api/chat/events
//
// Server-Sent Events: one "history" event with the full ordered conversation
// on connect and after every change. The chat session stays open for the
// lifetime of the connection.
func (s *Server) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	uid := userID(r.Context())
	cs, err := s.hub.acquire(r.Context(), uid)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "chat unavailable", err.Error())
		return
	}
	defer s.hub.release(cs)

	updates, unsubscribe := cs.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Debug().Str("user_id", uid).Msg("Chat event stream opened")

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("user_id", uid).Msg("Chat event stream closed")
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case messages := <-updates:
			if err := writeEvent(w, "history", newHistoryPayload(messages)); err != nil {
				log.Debug().Err(err).Str("user_id", uid).Msg("Chat event write failed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
