// Package muxer drives the external ffmpeg process that combines the
// acquired tracks into the final output file.
package muxer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/vidgrab/vidgrab/internal/types"
)

// Muxer invokes ffmpeg/ffprobe. If Path or ProbePath are empty the binaries
// are looked up on PATH.
type Muxer struct {
	Path      string
	ProbePath string
}

// New returns a Muxer using the given binary paths.
func New(path, probePath string) *Muxer {
	if path == "" {
		path = "ffmpeg"
	}
	if probePath == "" {
		probePath = "ffprobe"
	}
	return &Muxer{Path: path, ProbePath: probePath}
}

// Available checks that ffmpeg is executable.
func (m *Muxer) Available() bool {
	_, err := exec.LookPath(m.Path)
	return err == nil
}

// ProbeAvailable checks that ffprobe is executable.
func (m *Muxer) ProbeAvailable() bool {
	_, err := exec.LookPath(m.ProbePath)
	return err == nil
}

// Job describes one mux invocation. VideoInput is required; AudioInput and
// SubtitleInput add explicitly mapped extra inputs. Inputs may be local
// reference playlists or remote URLs; HeaderBlock is passed to ffmpeg for
// remote inputs only.
type Job struct {
	VideoInput     string
	AudioInput     string
	SubtitleInput  string
	HeaderBlock    string
	OutputPath     string
	OutputFormat   string
	SourceFormat   string
	DashVideoIndex *int
	DashAudioIndex *int
}

// Progress is one parsed ffmpeg -progress report.
type Progress struct {
	OutTimeSeconds float64
	Speed          string
	TotalSize      int64
}

// BuildArgs assembles the ffmpeg argument list for job. Stream copy is the
// default; only a webm target over a non-webm source forces a re-encode,
// every other container accepts the source streams as-is.
func BuildArgs(job Job) []string {
	args := []string{"-y", "-nostats", "-progress", "pipe:1"}

	appendInput := func(input string) {
		if job.HeaderBlock != "" && isRemote(input) {
			args = append(args, "-headers", job.HeaderBlock)
		}
		if isLocalPlaylist(input) {
			// The HLS demuxer refuses .key and init files outside its
			// extension allowlist.
			args = append(args, "-allowed_extensions", "ALL")
		}
		args = append(args, "-i", input)
	}

	appendInput(job.VideoInput)
	hasAudio := job.AudioInput != ""
	if hasAudio {
		appendInput(job.AudioInput)
	}
	hasSub := job.SubtitleInput != ""
	if hasSub {
		appendInput(job.SubtitleInput)
	}

	if job.DashVideoIndex != nil {
		args = append(args, "-map", fmt.Sprintf("0:v:%d", *job.DashVideoIndex))
	} else {
		args = append(args, "-map", "0:v:0?")
	}

	switch {
	case hasAudio:
		args = append(args, "-map", "1:a:0?")
	case job.DashAudioIndex != nil:
		args = append(args, "-map", fmt.Sprintf("0:a:%d?", *job.DashAudioIndex))
	default:
		args = append(args, "-map", "0:a:0?")
	}

	if hasSub {
		subInput := 1
		if hasAudio {
			subInput = 2
		}
		args = append(args, "-map", fmt.Sprintf("%d:0?", subInput))
		// mov_text is the only subtitle codec mp4 players agree on;
		// mkv and friends take the source codec unchanged.
		if strings.EqualFold(job.OutputFormat, "mp4") {
			args = append(args, "-c:s", "mov_text")
		} else {
			args = append(args, "-c:s", "copy")
		}
	}

	if strings.EqualFold(job.OutputFormat, "webm") && !strings.EqualFold(job.SourceFormat, "webm") {
		args = append(args, "-c:v", "libvpx-vp9", "-c:a", "libopus")
	} else {
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	}

	args = append(args, job.OutputPath)
	return args
}

// Run executes the mux, streaming parsed progress reports to onProgress.
// Cancelling ctx kills the subprocess outright. A nonzero exit, or a zero
// exit with no output file, is reported as MuxFailed carrying ffmpeg's last
// diagnostic line; the partial output file is deleted in both cases.
func (m *Muxer) Run(ctx context.Context, job Job, onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, m.Path, BuildArgs(job)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.WrapError(types.KindMuxFailed, "opening ffmpeg stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return types.WrapError(types.KindMuxFailed, "opening ffmpeg stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return types.WrapError(types.KindMuxFailed, "starting ffmpeg", err)
	}

	lastDiag := make(chan string, 1)
	go func() {
		last := ""
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				last = line
			}
		}
		lastDiag <- last
	}()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		report := Progress{}
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			eq := strings.IndexByte(line, '=')
			if eq < 0 {
				continue
			}
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			switch key {
			case "out_time_ms":
				if n, err := strconv.ParseInt(val, 10, 64); err == nil {
					report.OutTimeSeconds = float64(n) / 1e6
				}
			case "speed":
				report.Speed = val
			case "total_size":
				if n, err := strconv.ParseInt(val, 10, 64); err == nil {
					report.TotalSize = n
				}
			case "progress":
				if onProgress != nil {
					onProgress(report)
				}
			}
		}
	}()

	// Both pipes must be read to EOF before Wait closes them, or the
	// final progress report and diagnostic line can be lost.
	diag := <-lastDiag
	<-progressDone
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		_ = os.Remove(job.OutputPath)
		return types.ErrCancelled
	}
	if waitErr != nil {
		_ = os.Remove(job.OutputPath)
		msg := "ffmpeg exited with error"
		if diag != "" {
			msg = diag
		}
		return types.WrapError(types.KindMuxFailed, msg, waitErr)
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		msg := "ffmpeg produced no output file"
		if diag != "" {
			msg = diag
		}
		return types.NewError(types.KindMuxFailed, msg)
	}
	return nil
}

// ProbeDuration asks ffprobe for the container duration of input in
// seconds. Callers treat a zero result as "unknown".
func (m *Muxer) ProbeDuration(ctx context.Context, input, headerBlock string) (float64, error) {
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=nw=1:nk=1"}
	if headerBlock != "" && isRemote(input) {
		args = append(args, "-headers", headerBlock)
	}
	args = append(args, input)

	out, err := exec.CommandContext(ctx, m.ProbePath, args...).Output()
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("no usable duration from ffprobe")
	}
	return d, nil
}

func isRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

func isLocalPlaylist(input string) bool {
	return !isRemote(input) && strings.HasSuffix(input, ".m3u8")
}
