// Package assemble synthesizes local reference playlists from downloaded
// segments so the muxer can consume each elementary track as ordinary HLS
// input, and flattens segmented subtitle tracks into single files.
package assemble

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vidgrab/vidgrab/internal/segment"
)

var srtTimestampPattern = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

// WritePlaylist writes a VOD playlist named name+".m3u8" in dir referencing
// the downloaded segment files in original manifest order. Segment, key,
// and init references are relative paths: everything lives in the same
// directory and the muxer resolves them against the playlist location.
func WritePlaylist(dir, name string, res *segment.Result) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(res.Files))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	if res.Key != nil {
		line := fmt.Sprintf("#EXT-X-KEY:METHOD=%s,URI=%q", res.Key.Method, filepath.Base(res.Key.Path))
		if res.Key.IVHex != "" {
			line += ",IV=" + res.Key.IVHex
		}
		b.WriteString(line + "\n")
	}
	if res.InitPath != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", filepath.Base(res.InitPath))
	}

	for _, f := range res.Files {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", f.Duration)
		b.WriteString(filepath.Base(f.Path) + "\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	path := filepath.Join(dir, name+".m3u8")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing local playlist: %w", err)
	}
	return path, nil
}

func targetDuration(files []segment.File) int {
	maxDur := 0.0
	for _, f := range files {
		if f.Duration > maxDur {
			maxDur = f.Duration
		}
	}
	d := int(math.Ceil(maxDur))
	if d <= 0 {
		d = 10
	}
	return d
}

// ConcatSubtitles flattens a segmented subtitle track into outPath. The
// first segment keeps its header; all later segments have their WEBVTT
// header block and X-TIMESTAMP-MAP lines stripped so the result is one
// well-formed cue stream. SRT payloads are normalized to WebVTT first.
func ConcatSubtitles(files []segment.File, outPath string) error {
	var b strings.Builder
	for i, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("reading subtitle segment %d: %w", f.Index, err)
		}
		text := string(Normalize(data))
		if i > 0 {
			text = stripHeader(text)
		}
		text = strings.TrimRight(text, "\n")
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return os.WriteFile(outPath, []byte(b.String()), 0o644)
}

// Normalize converts SRT payloads to WebVTT (dot millisecond separators
// plus the WEBVTT header) and passes every other format through untouched.
func Normalize(data []byte) []byte {
	text := string(data)
	if strings.HasPrefix(strings.TrimLeft(text, "\uFEFF \t\r\n"), "WEBVTT") {
		return data
	}
	if !srtTimestampPattern.MatchString(text) {
		return data
	}
	converted := srtTimestampPattern.ReplaceAllString(text, "$1.$2")
	return []byte("WEBVTT\n\n" + converted)
}

func stripHeader(text string) string {
	lines := strings.Split(text, "\n")
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "WEBVTT") ||
			strings.HasPrefix(trimmed, "X-TIMESTAMP-MAP") ||
			(i == 0 && trimmed == "") {
			i++
			continue
		}
		if trimmed == "" && i > 0 {
			// Blank line ending the header block.
			i++
			continue
		}
		break
	}
	return strings.Join(lines[i:], "\n")
}
