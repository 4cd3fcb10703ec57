// Package server exposes the pipelines over a JSON/multipart HTTP API: one
// endpoint per modality plus chat and memory management. Requests fail
// end-to-end only on validation or configuration errors; every other
// failure degrades into the response body.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	chatuc "github.com/s-nakaya/kioku/pkg/usecase/chat"
	"github.com/s-nakaya/kioku/pkg/usecase/ingest"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
)

const defaultMaxUploadBytes = 64 << 20 // 64 MiB

type Server struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	maxUploadBytes int64

	chat   *chatuc.Session
	image  *ingest.Image
	audio  *ingest.Audio
	video  *ingest.Video
	memory *memsvc.Service
}

// Config carries the process-lifetime collaborators. Everything is
// constructed once at startup and reused across requests.
type Config struct {
	Chat   *chatuc.Session
	Image  *ingest.Image
	Audio  *ingest.Audio
	Video  *ingest.Video
	Memory *memsvc.Service

	Logger         *slog.Logger
	MaxUploadBytes int64
}

func New(cfg Config) *Server {
	s := &Server{
		mux:            http.NewServeMux(),
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		chat:           cfg.Chat,
		image:          cfg.Image,
		audio:          cfg.Audio,
		video:          cfg.Video,
		memory:         cfg.Memory,
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/ingest/image", s.handleImage)
	s.mux.HandleFunc("POST /api/ingest/audio", s.handleAudio)
	s.mux.HandleFunc("POST /api/ingest/video", s.handleVideo)
	s.mux.HandleFunc("POST /api/memory", s.handleMemoryStore)
	s.mux.HandleFunc("DELETE /api/memory", s.handleMemoryClear)
	s.mux.HandleFunc("GET /api/memory/stats", s.handleMemoryStats)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logging.With(r.Context(), s.logger)

	s.mux.ServeHTTP(w, r.WithContext(ctx))

	s.logger.Info("request handled",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Default().Warn("failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy to status codes: validation failures
// are the caller's fault (400), everything else that escaped the degrade
// paths is a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if goerr.HasTag(err, model.ErrTagValidation) {
		status = http.StatusBadRequest
	}

	logging.From(r.Context()).Error("request failed",
		"method", r.Method, "path", r.URL.Path, "status", status, "error", err)

	writeJSON(w, status, map[string]any{"error": err.Error()})
}
