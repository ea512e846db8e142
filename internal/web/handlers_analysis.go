package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/analysis"
	"github.com/nurbua/Image-Insight/internal/filehandler"
	"github.com/nurbua/Image-Insight/internal/store"
)

// multipartMemory is the in-memory part of a multipart upload; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

// POST /api/analyze (multipart, field "image")
//
// 200 with the published state on success, 502 with the failed state when
// generation failed, 409 when a newer upload superseded this one.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())

	// Multipart framing needs a little room on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		httpError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		httpError(w, http.StatusBadRequest, `multipart field "image" is required`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		httpError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if len(data) == 0 {
		httpError(w, http.StatusBadRequest, "empty upload")
		return
	}

	fileName := filepath.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	mimeType, err := uploadMIMEType(header.Header.Get("Content-Type"), fileName, data)
	if err != nil {
		httpError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	state, err := s.session(uid).Analyze(r.Context(), analysis.Upload{
		FileName: fileName,
		MIMEType: mimeType,
		Data:     data,
	})
	switch {
	case errors.Is(err, analysis.ErrSuperseded):
		httpError(w, http.StatusConflict, "analysis superseded by a newer upload")
	case err != nil:
		respondJSON(w, http.StatusBadGateway, state)
	default:
		respondJSON(w, http.StatusOK, state)
	}
}

// uploadMIMEType trusts the declared part type when it is a supported image
// type and sniffs the content otherwise.
func uploadMIMEType(declared, fileName string, data []byte) (string, error) {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && filehandler.IsSupportedMIMEType(mt) {
			return mt, nil
		}
	}
	mt, err := filehandler.DetectMIMEType(fileName, data)
	if err != nil {
		return "", err
	}
	if !filehandler.IsSupportedMIMEType(mt) {
		return "", fmt.Errorf("unsupported content type: %s", mt)
	}
	return mt, nil
}

// GET /api/analysis
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session(userID(r.Context())).Snapshot())
}

// DELETE /api/analysis
func (s *Server) handleResetAnalysis(w http.ResponseWriter, r *http.Request) {
	o := s.session(userID(r.Context()))
	o.Reset()
	respondJSON(w, http.StatusOK, o.Snapshot())
}

// GET /api/analysis/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview := s.session(userID(r.Context())).Snapshot().Preview
	if preview == nil || len(preview.Data) == 0 {
		httpError(w, http.StatusNotFound, "no preview available")
		return
	}
	w.Header().Set("Content-Type", preview.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(preview.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(preview.Data)
}

type analysisView struct {
	store.AnalysisRecord
	ImageURL string `json:"imageUrl,omitempty"`
}

// GET /api/analyses?limit=N
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.opts.Analyses == nil {
		respondJSON(w, http.StatusOK, map[string]any{"analyses": []analysisView{}})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	uid := userID(r.Context())
	records, err := s.opts.Analyses.ListAnalyses(r.Context(), uid, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list analyses", err.Error())
		return
	}

	views := make([]analysisView, 0, len(records))
	for _, rec := range records {
		view := analysisView{AnalysisRecord: rec}
		if s.opts.Images != nil && rec.ImageKey != "" {
			url, err := s.opts.Images.PresignGetURL(r.Context(), rec.ImageKey, 0)
			if err != nil {
				log.Warn().Err(err).Str("key", rec.ImageKey).Msg("Failed to presign image URL")
			} else {
				view.ImageURL = url
			}
		}
		views = append(views, view)
	}
	respondJSON(w, http.StatusOK, map[string]any{"analyses": views})
}
