package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vidgrab/vidgrab/internal/engine"
	"github.com/vidgrab/vidgrab/internal/platform/files"
	"github.com/vidgrab/vidgrab/internal/types"
)

// mediaExtensions are the output containers listed by /downloads.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".mov":  true,
	".ts":   true,
}

type qualitiesRequest struct {
	URL       string   `json:"url"`
	URLs      []string `json:"urls"`
	Referer   string   `json:"referer"`
	Origin    string   `json:"origin"`
	Cookie    string   `json:"cookie"`
	UserAgent string   `json:"userAgent"`
}

func (s *Server) handleQualities(w http.ResponseWriter, r *http.Request) {
	var req qualitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	urls := req.URLs
	if req.URL != "" {
		urls = append([]string{req.URL}, urls...)
	}
	if len(urls) == 0 {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	headers := types.RequestHeaders{
		Referer:   req.Referer,
		Origin:    req.Origin,
		Cookie:    req.Cookie,
		UserAgent: req.UserAgent,
	}

	cat, err := s.Engine.ProbeQualities(r.Context(), urls, headers)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cat)
}

type downloadRequest struct {
	URL            string `json:"url"`
	Filename       string `json:"filename"`
	Type           string `json:"type"`
	Referer        string `json:"referer"`
	Origin         string `json:"origin"`
	Cookie         string `json:"cookie"`
	UserAgent      string `json:"userAgent"`
	AudioURL       string `json:"audioUrl"`
	SubtitleURL    string `json:"subtitleUrl"`
	OutputFormat   string `json:"outputFormat"`
	DashVideoIndex *int   `json:"dashVideoIndex"`
	DashAudioIndex *int   `json:"dashAudioIndex"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.Filename == "" {
		respondError(w, http.StatusBadRequest, "url and filename are required")
		return
	}

	sess, err := s.Engine.StartDownload(engine.DownloadRequest{
		URL:          req.URL,
		Filename:     req.Filename,
		Type:         req.Type,
		OutputFormat: req.OutputFormat,
		Headers: types.RequestHeaders{
			Referer:   req.Referer,
			Origin:    req.Origin,
			Cookie:    req.Cookie,
			UserAgent: req.UserAgent,
		},
		AudioURL:       req.AudioURL,
		SubtitleURL:    req.SubtitleURL,
		DashVideoIndex: req.DashVideoIndex,
		DashAudioIndex: req.DashAudioIndex,
	})
	if err != nil {
		s.Log.Error("start download failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"downloadId": sess.ID,
		"filename":   sess.Filename,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DownloadID string `json:"downloadId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DownloadID == "" {
		respondError(w, http.StatusBadRequest, "downloadId is required")
		return
	}
	if !s.Engine.Cancel(req.DownloadID) {
		respondJSON(w, http.StatusNotFound, map[string]bool{"success": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleActiveDownloads(w http.ResponseWriter, r *http.Request) {
	active := s.Registry.Active()
	sort.Slice(active, func(i, j int) bool {
		return active[i].DownloadID < active[j].DownloadID
	})
	respondJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"downloadDir":      s.DownloadDir(),
		"ffmpegAvailable":  s.Muxer.Available(),
		"ffprobeAvailable": s.Muxer.ProbeAvailable(),
		"platform":         runtime.GOOS,
		"activeDownloads":  s.Registry.Count(),
	})
}

func (s *Server) handleGetDownloadDir(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"downloadDir": s.DownloadDir()})
}

func (s *Server) handleSetDownloadDir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DownloadDir string `json:"downloadDir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DownloadDir == "" {
		respondError(w, http.StatusBadRequest, "downloadDir is required")
		return
	}
	if err := s.Store.SetDownloadDir(req.DownloadDir); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"downloadDir": req.DownloadDir})
}

type downloadEntry struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	SizeText string `json:"sizeText"`
	Modified int64  `json:"modified"`
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	dir := s.DownloadDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cannot read download directory")
		return
	}
	list := make([]downloadEntry, 0)
	for _, entry := range entries {
		if entry.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		list = append(list, downloadEntry{
			Filename: entry.Name(),
			Size:     info.Size(),
			SizeText: types.FormatBytes(info.Size()),
			Modified: info.ModTime().Unix(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Modified > list[j].Modified })
	respondJSON(w, http.StatusOK, map[string]any{"downloads": list})
}

func (s *Server) handleOpenFolder(w http.ResponseWriter, r *http.Request) {
	dir := s.DownloadDir()
	var err error
	if file := r.URL.Query().Get("file"); file != "" {
		err = files.RevealInFolder(filepath.Join(dir, filepath.Base(file)))
	} else {
		err = files.OpenWithDefaultApp(dir)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleOpenFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "filename"))
	path := filepath.Join(s.DownloadDir(), name)
	if err := files.OpenWithDefaultApp(path); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePlay streams a completed file; http.ServeFile handles Range
// requests so browser players can seek.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "filename"))
	path := filepath.Join(s.DownloadDir(), name)
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, path)
}

// statusForError maps pipeline error kinds onto HTTP statuses for the
// synchronous endpoints.
func statusForError(err error) int {
	switch types.KindOf(err) {
	case types.KindInvalidManifest:
		return http.StatusUnprocessableEntity
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
