// Package web exposes Image Insight over HTTP: image analysis, the analysis
// history and the chat, with live chat updates over Server-Sent Events.
//
// Endpoints:
//
//	GET    /api/health            health check (no identity required)
//	POST   /api/analyze           multipart upload (field "image"), runs the analysis
//	GET    /api/analysis          current analysis state
//	DELETE /api/analysis          reset the analysis session
//	GET    /api/analysis/preview  preview image of the current upload
//	GET    /api/analyses          saved analyses, newest first
//	GET    /api/chat/messages     conversation snapshot
//	POST   /api/chat/messages     send a chat message
//	GET    /api/chat/events       SSE stream of the conversation
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/analysis"
	"github.com/nurbua/Image-Insight/internal/auth"
	"github.com/nurbua/Image-Insight/internal/conversation"
	"github.com/nurbua/Image-Insight/internal/filehandler"
	"github.com/nurbua/Image-Insight/internal/store"
)

// Defaults applied by New.
const (
	DefaultMaxUploadBytes    int64 = 20 << 20
	DefaultHeartbeatInterval       = 25 * time.Second
	defaultHistoryLimit            = 20
	maxHistoryLimit                = 100
)

// ImageLinker hands out download links for stored images.
// *s3util.ImageStore implements it.
type ImageLinker interface {
	PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Options wires the server to its collaborators. Analyzer, Streamer, Chat
// and Resolver are required.
type Options struct {
	Analyzer analysis.Analyzer
	Streamer conversation.ReplyStreamer
	Chat     store.ChatStore
	Resolver auth.IdentityResolver

	// Analyses receives completed analyses. Optional.
	Analyses store.AnalysisSink
	// Images signs links to stored images in history listings. Optional.
	Images ImageLinker

	MaxUploadBytes      int64
	PreviewMaxDimension int
	HeartbeatInterval   time.Duration

	// SyncChat completes the model reply before POST /api/chat/messages
	// returns. Lambda sets it: the runtime freezes once the response is sent.
	SyncChat bool
}

// Server holds one analysis session and one chat session per user.
type Server struct {
	opts Options
	hub  *chatHub

	mu       sync.Mutex
	sessions map[string]*analysis.Orchestrator
}

// New creates a server. Zero limits fall back to the package defaults.
func New(opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.PreviewMaxDimension == 0 {
		opts.PreviewMaxDimension = filehandler.DefaultPreviewMaxDimension
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Server{
		opts:     opts,
		hub:      newChatHub(opts.Chat, opts.Streamer),
		sessions: make(map[string]*analysis.Orchestrator),
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/analyze", s.handleAnalyze)
	api.HandleFunc("GET /api/analysis", s.handleGetAnalysis)
	api.HandleFunc("DELETE /api/analysis", s.handleResetAnalysis)
	api.HandleFunc("GET /api/analysis/preview", s.handlePreview)
	api.HandleFunc("GET /api/analyses", s.handleListAnalyses)
	api.HandleFunc("GET /api/chat/messages", s.handleChatSnapshot)
	api.HandleFunc("POST /api/chat/messages", s.handleChatSend)
	api.HandleFunc("GET /api/chat/events", s.handleChatEvents)
	mux.Handle("/api/", s.withIdentity(api))

	return withLogging(withMetrics(withCORS(withSecurityHeaders(mux))))
}

// session returns the analysis orchestrator of userID, creating it on first
// use.
func (s *Server) session(userID string) *analysis.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.sessions[userID]
	if !ok {
		opts := []analysis.Option{analysis.WithPreviewSize(s.opts.PreviewMaxDimension)}
		if s.opts.Analyses != nil {
			opts = append(opts, analysis.WithSink(s.opts.Analyses, userID))
		}
		o = analysis.New(s.opts.Analyzer, opts...)
		s.sessions[userID] = o
		log.Debug().Str("user_id", userID).Msg("Analysis session created")
	}
	return o
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "image-insight",
	})
}
