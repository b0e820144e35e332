// Package engine coordinates the acquisition-and-remux pipeline: probing
// quality catalogs, running one goroutine per download session, and
// reporting transitions through the broadcaster.
package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vidgrab/vidgrab/internal/catalog"
	"github.com/vidgrab/vidgrab/internal/manifest"
	"github.com/vidgrab/vidgrab/internal/muxer"
	"github.com/vidgrab/vidgrab/internal/platform/files"
	"github.com/vidgrab/vidgrab/internal/platform/metrics"
	"github.com/vidgrab/vidgrab/internal/session"
	"github.com/vidgrab/vidgrab/internal/types"
)

// Engine runs download sessions. All fields must be set before use;
// DownloadDir is consulted at job start so directory changes apply to
// subsequent jobs only.
type Engine struct {
	Fetcher   *manifest.Fetcher
	Muxer     *muxer.Muxer
	Registry  *session.Registry
	Broadcast *session.Broadcaster
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	VideoBatchSize int
	AudioBatchSize int
	MinSegmentSize int
	TempRoot       string
	DownloadDir    func() string
}

// ProbeQualities fetches and classifies each candidate URL and returns the
// highest-scoring catalog. URLs that fail to fetch or parse are skipped;
// if none survive, the last error is returned.
func (e *Engine) ProbeQualities(ctx context.Context, urls []string, headers types.RequestHeaders) (*catalog.Catalog, error) {
	var candidates []*catalog.Catalog
	var lastErr error
	for _, u := range urls {
		c, err := e.probeOne(ctx, u, headers)
		if err != nil {
			e.Log.Warn("quality probe failed",
				slog.String("url", u), slog.String("error", err.Error()))
			lastErr = err
			continue
		}
		candidates = append(candidates, c)
	}
	best := catalog.Best(candidates)
	if best == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, types.NewError(types.KindInvalidManifest, "no candidate URLs given")
	}
	return best, nil
}

func (e *Engine) probeOne(ctx context.Context, url string, headers types.RequestHeaders) (*catalog.Catalog, error) {
	text, err := e.Fetcher.Text(ctx, url, headers)
	if err != nil {
		if manifest.IsTimeout(err) {
			return nil, types.WrapError(types.KindTimeout, "manifest fetch timed out", err)
		}
		return nil, types.WrapError(types.KindInvalidManifest, "manifest fetch failed", err)
	}
	switch {
	case manifest.IsDASH(text):
		d, err := manifest.ParseDASH(text, url)
		if err != nil {
			return nil, err
		}
		return catalog.FromDASH(d), nil
	case manifest.IsMaster(text):
		m, err := manifest.ParseMaster(text, url)
		if err != nil {
			return nil, err
		}
		return catalog.FromMaster(m, url), nil
	case manifest.IsHLS(text):
		return catalog.Default(url), nil
	default:
		return nil, types.NewError(types.KindInvalidManifest, "not a valid playlist")
	}
}

// DownloadRequest describes one job as submitted by a client.
type DownloadRequest struct {
	URL            string
	Filename       string
	Type           string
	OutputFormat   string
	Headers        types.RequestHeaders
	AudioURL       string
	SubtitleURL    string
	DashVideoIndex *int
	DashAudioIndex *int
}

// StartDownload creates and registers a session for req, spawns its
// pipeline goroutine, and returns immediately.
func (e *Engine) StartDownload(req DownloadRequest) (*session.Session, error) {
	format := strings.ToLower(req.OutputFormat)
	if format == "" {
		format = "mp4"
	}
	name := files.SanitizeFilename(req.Filename)
	// Clients often pass the source name straight through; any manifest
	// or media extension is dropped before the chosen container's goes on.
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8", ".mpd", ".mp4", ".webm", ".mkv", ".mov", ".avi", ".flv", ".ts":
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	name += "." + format

	dir := e.DownloadDir()
	if err := files.EnsureDir(dir); err != nil {
		return nil, err
	}
	outputPath := files.UniquePath(filepath.Join(dir, name))

	id := uuid.NewString()
	tempDir, err := os.MkdirTemp(e.TempRoot, "vidgrab-"+id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := session.New(id, filepath.Base(outputPath), req.URL, outputPath, tempDir, cancel)
	e.Registry.Add(sess)
	e.Metrics.IncDownloadsStarted()
	e.Metrics.SetActiveDownloads(e.Registry.Count())
	e.publish(sess, "")

	go e.run(ctx, sess, req, format)
	return sess, nil
}

// Cancel requests cancellation of the session with the given id. Returns
// false when no such session is live.
func (e *Engine) Cancel(id string) bool {
	sess, ok := e.Registry.Get(id)
	if !ok {
		return false
	}
	sess.Cancel()
	return true
}

// publish emits one progress event reflecting the session's current state.
func (e *Engine) publish(sess *session.Session, errMsg string) {
	p := sess.Progress()
	ev := types.Event{
		Type:        "progress",
		DownloadID:  sess.ID,
		Status:      sess.Status(),
		Percent:     p.Percent,
		CurrentTime: p.CurrentTime,
		TotalTime:   p.TotalTime,
		Speed:       p.Speed,
		ETA:         p.ETA,
		Filename:    sess.Filename,
		Error:       errMsg,
	}
	if ev.Status == types.StatusComplete {
		if info, err := os.Stat(sess.OutputPath); err == nil {
			ev.Size = types.FormatBytes(info.Size())
		}
	}
	e.Broadcast.Publish(ev)
}
