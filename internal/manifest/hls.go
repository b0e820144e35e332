package manifest

import (
	"bufio"
	"sort"
	"strconv"
	"strings"

	"github.com/vidgrab/vidgrab/internal/types"
)

// Variant is one selectable video quality from a master playlist.
type Variant struct {
	URL        string
	Bandwidth  int
	Resolution string
	Codecs     string
	AudioGroup string
	SubGroup   string
}

// Height returns the vertical resolution of the variant, or 0 when the
// RESOLUTION attribute is missing or malformed.
func (v Variant) Height() int {
	parts := strings.SplitN(v.Resolution, "x", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[1])
	return h
}

// Rendition is one alternate audio or subtitle track.
type Rendition struct {
	URL      string
	Language string
	Name     string
	GroupID  string
	Default  bool
}

// EncryptionKey describes the AES key active for a run of segments.
type EncryptionKey struct {
	Method string
	URI    string
	IVHex  string
}

// InitSegment is an fMP4 initialization fragment reference.
type InitSegment struct {
	URL       string
	ByteRange string
}

// Segment is one media segment in playback order. Key is the encryption
// key active when the segment was declared, nil for cleartext.
type Segment struct {
	URL      string
	Duration float64
	Key      *EncryptionKey
}

// MasterPlaylist is the parsed form of an HLS master playlist.
type MasterPlaylist struct {
	Variants       []Variant
	AudioGroups    map[string][]Rendition
	SubtitleGroups map[string][]Rendition
}

// MediaPlaylist is the parsed form of an HLS media playlist.
type MediaPlaylist struct {
	Segments []Segment
	Init     *InitSegment
}

// IsHLS reports whether text looks like an HLS playlist.
func IsHLS(text string) bool {
	return strings.Contains(text, "#EXTM3U")
}

// IsMaster reports whether an HLS playlist declares variant streams.
func IsMaster(text string) bool {
	return strings.Contains(text, "#EXT-X-STREAM-INF:")
}

// ParseMaster parses a master playlist. manifestURL anchors relative URIs
// and contributes its query parameters to every resolved URL. Variants come
// back sorted by descending bandwidth then resolution height; equal entries
// keep their declaration order. EXT-X-MEDIA entries with TYPE other than
// AUDIO or SUBTITLES are ignored.
func ParseMaster(text, manifestURL string) (*MasterPlaylist, error) {
	if !IsHLS(text) {
		return nil, types.NewError(types.KindInvalidManifest, "not a valid playlist")
	}

	master := &MasterPlaylist{
		AudioGroups:    make(map[string][]Rendition),
		SubtitleGroups: make(map[string][]Rendition),
	}

	lines := splitLines(text)

	for _, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-MEDIA:") {
			continue
		}
		tag := parseMediaTag(line[len("#EXT-X-MEDIA:"):])
		if tag.GroupID == "" || tag.URI == "" {
			continue
		}
		r := Rendition{
			URL:      ResolveURL(manifestURL, tag.URI),
			Language: tag.Language,
			Name:     tag.Name,
			GroupID:  tag.GroupID,
			Default:  tag.Default,
		}
		if r.Language == "" {
			r.Language = "und"
		}
		if r.Name == "" {
			r.Name = r.Language
		}
		switch tag.Type {
		case "AUDIO":
			master.AudioGroups[tag.GroupID] = append(master.AudioGroups[tag.GroupID], r)
		case "SUBTITLES":
			master.SubtitleGroups[tag.GroupID] = append(master.SubtitleGroups[tag.GroupID], r)
		}
	}

	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "#EXT-X-STREAM-INF:") {
			continue
		}
		tag := parseStreamInf(lines[i][len("#EXT-X-STREAM-INF:"):])

		// The variant URI is the next non-comment line; a dangling
		// STREAM-INF entry is skipped.
		uri := ""
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(lines[j], "#") {
				continue
			}
			uri = lines[j]
			break
		}
		if uri == "" {
			continue
		}

		master.Variants = append(master.Variants, Variant{
			URL:        ResolveURL(manifestURL, uri),
			Bandwidth:  tag.Bandwidth,
			Resolution: tag.Resolution,
			Codecs:     tag.Codecs,
			AudioGroup: tag.AudioGroup,
			SubGroup:   tag.SubGroup,
		})
	}

	sort.SliceStable(master.Variants, func(i, j int) bool {
		a, b := master.Variants[i], master.Variants[j]
		if a.Bandwidth != b.Bandwidth {
			return a.Bandwidth > b.Bandwidth
		}
		return a.Height() > b.Height()
	})

	return master, nil
}

// ParseMedia parses a media playlist into an ordered segment list. An
// EXT-X-KEY line activates its key for all following segments until the
// next EXT-X-KEY; METHOD=NONE clears it.
func ParseMedia(text, manifestURL string) (*MediaPlaylist, error) {
	if !IsHLS(text) {
		return nil, types.NewError(types.KindInvalidManifest, "not a valid playlist")
	}

	media := &MediaPlaylist{}
	var currentKey *EncryptionKey
	pendingDuration := -1.0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			tag := parseKeyTag(line[len("#EXT-X-KEY:"):])
			if tag.Method == "" || tag.Method == "NONE" {
				currentKey = nil
				continue
			}
			key := &EncryptionKey{Method: tag.Method, IVHex: tag.IVHex}
			if tag.URI != "" {
				key.URI = ResolveURL(manifestURL, tag.URI)
			}
			currentKey = key

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			tag := parseMapTag(line[len("#EXT-X-MAP:"):])
			if tag.URI != "" {
				media.Init = &InitSegment{
					URL:       ResolveURL(manifestURL, tag.URI),
					ByteRange: tag.ByteRange,
				}
			}

		case strings.HasPrefix(line, "#EXTINF:"):
			raw := strings.TrimSuffix(line[len("#EXTINF:"):], ",")
			if comma := strings.IndexByte(raw, ','); comma >= 0 {
				raw = raw[:comma]
			}
			if d, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				pendingDuration = d
			} else {
				pendingDuration = 0
			}

		case strings.HasPrefix(line, "#"):
			// Other tags carry no segment state we need.

		default:
			if pendingDuration < 0 {
				continue
			}
			media.Segments = append(media.Segments, Segment{
				URL:      ResolveURL(manifestURL, line),
				Duration: pendingDuration,
				Key:      currentKey,
			})
			pendingDuration = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.WrapError(types.KindInvalidManifest, "reading playlist", err)
	}

	return media, nil
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
