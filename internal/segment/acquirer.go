// Package segment turns a resolved media playlist into a set of local
// files: the decryption key (fetched once), the fMP4 init segment when
// present, and every media segment, downloaded in bounded concurrent
// batches and validated individually.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vidgrab/vidgrab/internal/manifest"
	"github.com/vidgrab/vidgrab/internal/types"
)

const (
	// DefaultVideoBatchSize bounds concurrent fetches for video tracks.
	DefaultVideoBatchSize = 5
	// DefaultAudioBatchSize bounds concurrent fetches for audio tracks.
	DefaultAudioBatchSize = 10
)

// File is one downloaded segment. Index is the segment's position in the
// source playlist; assembly relies on it to restore playback order no
// matter in which order fetches completed.
type File struct {
	Path     string
	Duration float64
	Index    int
}

// KeyFile is the locally cached decryption key.
type KeyFile struct {
	Path   string
	Method string
	IVHex  string
}

// Result is everything the assembler needs for one track.
type Result struct {
	Files    []File
	Key      *KeyFile
	InitPath string
	Dropped  int
}

// Acquirer downloads one track's segments into a directory.
type Acquirer struct {
	Fetcher   *manifest.Fetcher
	Log       *slog.Logger
	BatchSize int
	MinSize   int
}

// NewAcquirer returns an Acquirer with the given per-batch concurrency.
func NewAcquirer(fetcher *manifest.Fetcher, log *slog.Logger, batchSize int) *Acquirer {
	if batchSize <= 0 {
		batchSize = DefaultVideoBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Acquirer{Fetcher: fetcher, Log: log, BatchSize: batchSize}
}

// Acquire downloads all segments of playlist into dir, naming files by
// playlist position under prefix. cancelled is polled between batches and
// before the key and probe fetches; onProgress, when non-nil, is invoked
// after each batch with (fetched, total).
//
// Failure modes follow the pipeline contract: key fetch failure is fatal
// (KeyUnavailable, or Timeout on deadline), an invalid first segment is
// fatal (UnavailableQuality), init-segment failure is logged and ignored,
// individual segment failures are counted and dropped, and a track with
// zero surviving segments fails with AllSegmentsInvalid.
func (a *Acquirer) Acquire(
	ctx context.Context,
	playlist *manifest.MediaPlaylist,
	headers types.RequestHeaders,
	dir, prefix string,
	cancelled func() bool,
	onProgress func(fetched, total int),
) (*Result, error) {
	if len(playlist.Segments) == 0 {
		return nil, types.NewError(types.KindAllSegmentsInvalid, "playlist has no segments")
	}
	if cancelled() {
		return nil, types.ErrCancelled
	}

	res := &Result{}

	key, err := a.fetchKey(ctx, playlist, headers, dir, prefix)
	if err != nil {
		return nil, err
	}
	res.Key = key

	if cancelled() {
		return nil, types.ErrCancelled
	}

	res.InitPath = a.fetchInit(ctx, playlist, headers, dir, prefix)

	// Probe the first segment alone before committing to the bulk
	// download: a broken or token-expired stream fails here in one
	// request instead of after the full batch budget.
	total := len(playlist.Segments)
	paths := make([]string, total)

	first := playlist.Segments[0]
	data, err := a.Fetcher.Bytes(ctx, first.URL, headers)
	if err != nil {
		if manifest.IsTimeout(err) {
			return nil, types.WrapError(types.KindTimeout, "first segment fetch timed out", err)
		}
		return nil, types.WrapError(types.KindUnavailableQuality, "first segment fetch failed", err)
	}
	if !ValidPayload(data, a.MinSize) {
		return nil, types.NewError(types.KindUnavailableQuality, "first segment failed validation")
	}
	paths[0] = a.segmentPath(dir, prefix, 0)
	if err := os.WriteFile(paths[0], data, 0o644); err != nil {
		return nil, fmt.Errorf("writing segment 0: %w", err)
	}
	if onProgress != nil {
		onProgress(1, total)
	}

	batch := a.BatchSize
	if batch <= 0 {
		batch = DefaultVideoBatchSize
	}

	fetched := 1
	for start := 1; start < total; start += batch {
		if cancelled() {
			return nil, types.ErrCancelled
		}
		end := start + batch
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				seg := playlist.Segments[idx]
				data, err := a.Fetcher.Bytes(ctx, seg.URL, headers)
				if err != nil {
					a.Log.Warn("segment fetch failed",
						slog.Int("index", idx), slog.String("error", err.Error()))
					return
				}
				if !ValidPayload(data, a.MinSize) {
					a.Log.Warn("segment failed validation", slog.Int("index", idx))
					return
				}
				p := a.segmentPath(dir, prefix, idx)
				if err := os.WriteFile(p, data, 0o644); err != nil {
					a.Log.Warn("segment write failed",
						slog.Int("index", idx), slog.String("error", err.Error()))
					return
				}
				paths[idx] = p
			}(i)
		}
		wg.Wait()

		for i := start; i < end; i++ {
			if paths[i] != "" {
				fetched++
			}
		}
		if onProgress != nil {
			onProgress(fetched, total)
		}
	}

	for i, p := range paths {
		if p == "" {
			res.Dropped++
			continue
		}
		res.Files = append(res.Files, File{
			Path:     p,
			Duration: playlist.Segments[i].Duration,
			Index:    i,
		})
	}
	if len(res.Files) == 0 {
		return nil, types.NewError(types.KindAllSegmentsInvalid, "no valid segments downloaded")
	}
	if res.Dropped > 0 {
		a.Log.Warn("segments dropped",
			slog.Int("dropped", res.Dropped), slog.Int("kept", len(res.Files)))
	}
	return res, nil
}

// fetchKey resolves the active encryption key exactly once per job. The
// first keyed segment determines the key; HLS applies one key to all
// following segments until redefined, and multi-key playlists are rare
// enough that the first key governs the whole track here.
func (a *Acquirer) fetchKey(
	ctx context.Context,
	playlist *manifest.MediaPlaylist,
	headers types.RequestHeaders,
	dir, prefix string,
) (*KeyFile, error) {
	var active *manifest.EncryptionKey
	for _, seg := range playlist.Segments {
		if seg.Key != nil && seg.Key.URI != "" {
			active = seg.Key
			break
		}
	}
	if active == nil {
		return nil, nil
	}

	data, err := a.Fetcher.Bytes(ctx, active.URI, headers)
	if err != nil {
		if manifest.IsTimeout(err) {
			return nil, types.WrapError(types.KindTimeout, "key fetch timed out", err)
		}
		return nil, types.WrapError(types.KindKeyUnavailable, "key fetch failed", err)
	}
	path := filepath.Join(dir, prefix+".key")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, types.WrapError(types.KindKeyUnavailable, "caching key", err)
	}
	return &KeyFile{Path: path, Method: active.Method, IVHex: active.IVHex}, nil
}

// fetchInit downloads the fMP4 initialization segment when the playlist
// declares one. Failure is non-fatal: some containers demux without it.
func (a *Acquirer) fetchInit(
	ctx context.Context,
	playlist *manifest.MediaPlaylist,
	headers types.RequestHeaders,
	dir, prefix string,
) string {
	if playlist.Init == nil {
		return ""
	}
	data, err := a.Fetcher.Bytes(ctx, playlist.Init.URL, headers)
	if err != nil {
		a.Log.Warn("init segment fetch failed", slog.String("error", err.Error()))
		return ""
	}
	path := filepath.Join(dir, prefix+"_init.mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		a.Log.Warn("init segment write failed", slog.String("error", err.Error()))
		return ""
	}
	return path
}

func (a *Acquirer) segmentPath(dir, prefix string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%05d.ts", prefix, index))
}
