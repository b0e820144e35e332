// Package server exposes the engine over HTTP: the download API, the
// WebSocket progress channel, and the local-library endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidgrab/vidgrab/internal/engine"
	"github.com/vidgrab/vidgrab/internal/muxer"
	"github.com/vidgrab/vidgrab/internal/platform/files"
	"github.com/vidgrab/vidgrab/internal/platform/logger"
	"github.com/vidgrab/vidgrab/internal/platform/metrics"
	"github.com/vidgrab/vidgrab/internal/session"
)

// Server wires the HTTP surface to the engine.
type Server struct {
	Engine    *engine.Engine
	Registry  *session.Registry
	Broadcast *session.Broadcaster
	Muxer     *muxer.Muxer
	Store     *files.Store
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	// DownloadDir reports the current output directory.
	DownloadDir func() string
}

// Router builds the chi router with logging and metrics middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(s.Log))
	r.Use(metrics.RequestMiddleware(s.Metrics))

	r.Post("/qualities", s.handleQualities)
	r.Post("/download", s.handleDownload)
	r.Post("/cancel", s.handleCancel)
	r.Get("/active-downloads", s.handleActiveDownloads)
	r.Get("/ws", s.handleWebSocket)

	r.Get("/health", s.handleHealth)
	r.Get("/server-info", s.handleServerInfo)
	r.Get("/download-dir", s.handleGetDownloadDir)
	r.Post("/download-dir", s.handleSetDownloadDir)
	r.Get("/downloads", s.handleDownloads)
	r.Get("/open-folder", s.handleOpenFolder)
	r.Get("/open-file/{filename}", s.handleOpenFile)
	r.Get("/play/{filename}", s.handlePlay)

	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler(func() {
		s.Metrics.SetActiveDownloads(s.Registry.Count())
	}))

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
