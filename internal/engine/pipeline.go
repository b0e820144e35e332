package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vidgrab/vidgrab/internal/assemble"
	"github.com/vidgrab/vidgrab/internal/manifest"
	"github.com/vidgrab/vidgrab/internal/muxer"
	"github.com/vidgrab/vidgrab/internal/segment"
	"github.com/vidgrab/vidgrab/internal/session"
	"github.com/vidgrab/vidgrab/internal/types"
)

// acquirePhaseShare is the slice of the percent bar spent on segment
// acquisition; the mux phase fills the rest.
const acquirePhaseShare = 50

// run owns the session from downloading to its terminal state. The temp
// directory and the registry entry are released on every exit path.
func (e *Engine) run(ctx context.Context, sess *session.Session, req DownloadRequest, format string) {
	defer func() {
		sess.Cleanup()
		e.Registry.Remove(sess.ID)
		e.Metrics.SetActiveDownloads(e.Registry.Count())
	}()

	sess.SetStatus(types.StatusDownloading)
	e.publish(sess, "")

	err := e.execute(ctx, sess, req, format)
	switch {
	case err == nil:
		p := sess.Progress()
		p.Percent = 100
		p.ETA = "0:00"
		sess.SetProgress(p)
		sess.SetStatus(types.StatusComplete)
		e.publish(sess, "")
		e.Metrics.IncDownloadsFinished(string(types.StatusComplete))
		e.Log.Info("download complete",
			slog.String("id", sess.ID), slog.String("output", sess.OutputPath))
	case sess.Cancelled() || types.KindOf(err) == types.KindCancelled:
		_ = os.Remove(sess.OutputPath)
		sess.SetStatus(types.StatusCancelled)
		e.publish(sess, "")
		e.Metrics.IncDownloadsFinished(string(types.StatusCancelled))
		e.Log.Info("download cancelled", slog.String("id", sess.ID))
	default:
		_ = os.Remove(sess.OutputPath)
		sess.SetStatus(types.StatusFailed)
		e.publish(sess, err.Error())
		e.Metrics.IncDownloadsFinished(string(types.StatusFailed))
		e.Log.Error("download failed",
			slog.String("id", sess.ID),
			slog.String("kind", string(types.KindOf(err))),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) execute(ctx context.Context, sess *session.Session, req DownloadRequest, format string) error {
	if req.DashVideoIndex != nil || strings.EqualFold(req.Type, "dash") {
		return e.muxRemote(ctx, sess, req, format)
	}

	text, err := e.fetchPlaylistText(ctx, req.URL, req.Headers)
	if err != nil {
		return err
	}
	if manifest.IsDASH(text) {
		// An MPD without a representation selection is already playable;
		// ffmpeg reads it whole.
		return e.muxRemote(ctx, sess, req, format)
	}

	videoPl, err := e.mediaPlaylistFromText(ctx, text, req.URL, req.Headers)
	if err != nil {
		return err
	}

	var audioPl *manifest.MediaPlaylist
	if req.AudioURL != "" {
		audioPl, err = e.resolveMediaPlaylist(ctx, req.AudioURL, req.Headers)
		if err != nil {
			return err
		}
	}

	totalSegs := len(videoPl.Segments)
	if audioPl != nil {
		totalSegs += len(audioPl.Segments)
	}
	if totalSegs == 0 {
		totalSegs = 1
	}
	fetchedBase := 0
	onProgress := func(fetched, _ int) {
		p := sess.Progress()
		p.Percent = (fetchedBase + fetched) * acquirePhaseShare / totalSegs
		sess.SetProgress(p)
		e.publish(sess, "")
	}

	videoAcq := segment.NewAcquirer(e.Fetcher, e.Log, e.VideoBatchSize)
	videoAcq.MinSize = e.MinSegmentSize
	videoRes, err := videoAcq.Acquire(ctx, videoPl, req.Headers, sess.TempDir, "video", sess.Cancelled, onProgress)
	if err != nil {
		return err
	}
	e.Metrics.AddSegmentsFetched(len(videoRes.Files))
	e.Metrics.AddSegmentsInvalid(videoRes.Dropped)

	var audioRes *segment.Result
	if audioPl != nil {
		fetchedBase = len(videoPl.Segments)
		audioAcq := segment.NewAcquirer(e.Fetcher, e.Log, e.AudioBatchSize)
		audioAcq.MinSize = e.MinSegmentSize
		audioRes, err = audioAcq.Acquire(ctx, audioPl, req.Headers, sess.TempDir, "audio", sess.Cancelled, onProgress)
		if err != nil {
			return err
		}
		e.Metrics.AddSegmentsFetched(len(audioRes.Files))
		e.Metrics.AddSegmentsInvalid(audioRes.Dropped)
	}

	subtitlePath := ""
	if req.SubtitleURL != "" {
		subtitlePath = e.acquireSubtitles(ctx, sess, req.SubtitleURL, req.Headers)
	}

	if sess.Cancelled() {
		return types.ErrCancelled
	}

	videoList, err := assemble.WritePlaylist(sess.TempDir, "video", videoRes)
	if err != nil {
		return err
	}
	audioList := ""
	if audioRes != nil {
		audioList, err = assemble.WritePlaylist(sess.TempDir, "audio", audioRes)
		if err != nil {
			return err
		}
	}

	totalDuration := 0.0
	for _, f := range videoRes.Files {
		totalDuration += f.Duration
	}

	job := muxer.Job{
		VideoInput:    videoList,
		AudioInput:    audioList,
		SubtitleInput: subtitlePath,
		OutputPath:    sess.OutputPath,
		OutputFormat:  format,
		SourceFormat:  req.Type,
	}
	return e.Muxer.Run(ctx, job, e.muxProgress(sess, totalDuration, acquirePhaseShare))
}

// muxRemote handles DASH jobs: ffmpeg reads the MPD directly and extracts
// the requested representation indices, so there is no acquisition phase.
func (e *Engine) muxRemote(ctx context.Context, sess *session.Session, req DownloadRequest, format string) error {
	block := req.Headers.FFmpegHeaderBlock()

	duration, err := e.Muxer.ProbeDuration(ctx, req.URL, block)
	if err != nil {
		e.Log.Warn("duration probe failed",
			slog.String("id", sess.ID), slog.String("error", err.Error()))
		duration = 0
	}
	if sess.Cancelled() {
		return types.ErrCancelled
	}

	job := muxer.Job{
		VideoInput:     req.URL,
		HeaderBlock:    block,
		OutputPath:     sess.OutputPath,
		OutputFormat:   format,
		SourceFormat:   req.Type,
		DashVideoIndex: req.DashVideoIndex,
		DashAudioIndex: req.DashAudioIndex,
	}
	return e.Muxer.Run(ctx, job, e.muxProgress(sess, duration, 0))
}

// muxProgress maps ffmpeg progress reports onto the session's percent bar
// starting at base and publishes each report.
func (e *Engine) muxProgress(sess *session.Session, totalDuration float64, base int) func(muxer.Progress) {
	return func(p muxer.Progress) {
		prog := sess.Progress()
		prog.CurrentTime = types.FormatClock(p.OutTimeSeconds)
		prog.Speed = p.Speed
		if totalDuration > 0 {
			prog.TotalTime = types.FormatClock(totalDuration)
			pct := base + int(p.OutTimeSeconds/totalDuration*float64(100-base))
			if pct > 99 {
				pct = 99
			}
			if pct > prog.Percent {
				prog.Percent = pct
			}
			if factor := speedFactor(p.Speed); factor > 0 {
				prog.ETA = types.FormatClock((totalDuration - p.OutTimeSeconds) / factor)
			}
		}
		sess.SetProgress(prog)
		e.publish(sess, "")
	}
}

// resolveMediaPlaylist fetches url and returns its media playlist. A master
// playlist at url is followed to its first (highest-bandwidth) variant.
func (e *Engine) resolveMediaPlaylist(ctx context.Context, url string, headers types.RequestHeaders) (*manifest.MediaPlaylist, error) {
	text, err := e.fetchPlaylistText(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return e.mediaPlaylistFromText(ctx, text, url, headers)
}

func (e *Engine) fetchPlaylistText(ctx context.Context, url string, headers types.RequestHeaders) (string, error) {
	text, err := e.Fetcher.Text(ctx, url, headers)
	if err != nil {
		if manifest.IsTimeout(err) {
			return "", types.WrapError(types.KindTimeout, "playlist fetch timed out", err)
		}
		return "", types.WrapError(types.KindUnavailableQuality, "playlist fetch failed", err)
	}
	return text, nil
}

func (e *Engine) mediaPlaylistFromText(ctx context.Context, text, url string, headers types.RequestHeaders) (*manifest.MediaPlaylist, error) {
	if manifest.IsMaster(text) {
		m, err := manifest.ParseMaster(text, url)
		if err != nil {
			return nil, err
		}
		if len(m.Variants) == 0 {
			return nil, types.NewError(types.KindUnavailableQuality, "master playlist has no variants")
		}
		return e.resolveMediaPlaylist(ctx, m.Variants[0].URL, headers)
	}
	return manifest.ParseMedia(text, url)
}

// acquireSubtitles fetches the subtitle track into one flat local file.
// Subtitles are best-effort: any failure is logged and the job continues
// without them.
func (e *Engine) acquireSubtitles(ctx context.Context, sess *session.Session, url string, headers types.RequestHeaders) string {
	text, err := e.Fetcher.Text(ctx, url, headers)
	if err != nil {
		e.Log.Warn("subtitle fetch failed",
			slog.String("id", sess.ID), slog.String("error", err.Error()))
		return ""
	}
	outPath := filepath.Join(sess.TempDir, "subtitles.vtt")

	if manifest.IsHLS(text) && !manifest.IsMaster(text) {
		pl, err := manifest.ParseMedia(text, url)
		if err != nil {
			e.Log.Warn("subtitle playlist unparseable",
				slog.String("id", sess.ID), slog.String("error", err.Error()))
			return ""
		}
		acq := segment.NewAcquirer(e.Fetcher, e.Log, e.AudioBatchSize)
		// Subtitle segments are legitimately tiny text files.
		acq.MinSize = 1
		res, err := acq.Acquire(ctx, pl, headers, sess.TempDir, "sub", sess.Cancelled, nil)
		if err != nil {
			e.Log.Warn("subtitle segments failed",
				slog.String("id", sess.ID), slog.String("error", err.Error()))
			return ""
		}
		if err := assemble.ConcatSubtitles(res.Files, outPath); err != nil {
			e.Log.Warn("subtitle concat failed",
				slog.String("id", sess.ID), slog.String("error", err.Error()))
			return ""
		}
		return outPath
	}

	if err := os.WriteFile(outPath, assemble.Normalize([]byte(text)), 0o644); err != nil {
		e.Log.Warn("subtitle write failed",
			slog.String("id", sess.ID), slog.String("error", err.Error()))
		return ""
	}
	return outPath
}

// speedFactor parses ffmpeg's "1.25x" speed notation.
func speedFactor(speed string) float64 {
	s := strings.TrimSuffix(strings.TrimSpace(speed), "x")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
