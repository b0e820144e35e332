// Package catalog normalizes parser output into the client-facing list of
// selectable qualities and audio/subtitle tracks.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vidgrab/vidgrab/internal/manifest"
)

// Quality is one selectable entry handed to a client. Immutable once built.
type Quality struct {
	Label          string `json:"label"`
	URL            string `json:"url"`
	Bandwidth      int    `json:"bandwidth"`
	Resolution     string `json:"resolution"`
	AudioURL       string `json:"audioUrl,omitempty"`
	AudioGroupID   string `json:"audioGroupId,omitempty"`
	DashVideoIndex *int   `json:"dashVideoIndex,omitempty"`
	DashAudioIndex *int   `json:"dashAudioIndex,omitempty"`
	Format         string `json:"format"`
}

// Track is one audio or subtitle entry offered for separate selection.
type Track struct {
	URL            string `json:"url"`
	Language       string `json:"language"`
	Name           string `json:"name"`
	IsDefault      bool   `json:"isDefault"`
	GroupID        string `json:"groupId,omitempty"`
	DashAudioIndex *int   `json:"dashAudioIndex,omitempty"`
}

// Catalog is the full probe result for one candidate URL.
type Catalog struct {
	Qualities      []Quality                    `json:"qualities"`
	AudioTracks    []Track                      `json:"audioTracks"`
	AudioGroupMap  map[string]map[string]string `json:"audioGroupMap"`
	SubtitleTracks []Track                      `json:"subtitleTracks"`
}

// Default returns the single-entry catalog used when the source offers only
// one media playlist (or is not a recognizable manifest at all).
func Default(url string) *Catalog {
	return &Catalog{
		Qualities: []Quality{{Label: "Default", URL: url, Resolution: "unknown", Format: "hls"}},
	}
}

// FromMaster builds a catalog from a parsed HLS master playlist. Variant
// order is preserved (the parser already sorted by descending bandwidth).
// Audio and subtitle tracks are deduplicated by language-or-name across
// groups, first occurrence winning.
func FromMaster(m *manifest.MasterPlaylist, url string) *Catalog {
	c := &Catalog{}

	for _, v := range m.Variants {
		q := Quality{
			Label:        fmt.Sprintf("%s (%d kbps)", bucketLabel(v.Height()), (v.Bandwidth+500)/1000),
			URL:          v.URL,
			Bandwidth:    v.Bandwidth,
			Resolution:   v.Resolution,
			AudioGroupID: v.AudioGroup,
			Format:       "hls",
		}
		if q.Resolution == "" {
			q.Resolution = "unknown"
		}
		if group, ok := m.AudioGroups[v.AudioGroup]; ok && len(group) > 0 {
			def := group[0]
			for _, r := range group {
				if r.Default {
					def = r
					break
				}
			}
			q.AudioURL = def.URL
		}
		c.Qualities = append(c.Qualities, q)
	}

	if len(c.Qualities) == 0 {
		return Default(url)
	}

	c.AudioTracks = dedupeTracks(m.AudioGroups)
	c.SubtitleTracks = dedupeTracks(m.SubtitleGroups)

	if len(m.AudioGroups) > 0 {
		c.AudioGroupMap = make(map[string]map[string]string, len(m.AudioGroups))
		for gid, group := range m.AudioGroups {
			byLang := make(map[string]string, len(group))
			for _, r := range group {
				key := r.Language
				if key == "" {
					key = r.Name
				}
				if _, ok := byLang[key]; !ok {
					byLang[key] = r.URL
				}
			}
			c.AudioGroupMap[gid] = byLang
		}
	}

	return c
}

// FromDASH builds a catalog from a parsed MPD. Each video Representation
// becomes one quality addressed by dashVideoIndex; every quality is
// cross-linked to the first audio Representation when one exists. An MPD
// with no video Representations yields the synthetic DASH default entry.
func FromDASH(d *manifest.DashManifest) *Catalog {
	c := &Catalog{}

	for i, v := range d.Video {
		idx := i
		label := "Unknown"
		if v.Height > 0 {
			label = fmt.Sprintf("%dp", v.Height)
		}
		resolution := "unknown"
		if v.Width > 0 && v.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}
		q := Quality{
			Label:          fmt.Sprintf("DASH %s (%d kbps)", label, (v.Bandwidth+500)/1000),
			URL:            d.URL,
			Bandwidth:      v.Bandwidth,
			Resolution:     resolution,
			DashVideoIndex: &idx,
			Format:         v.Container,
		}
		if len(d.Audio) > 0 {
			zero := 0
			q.DashAudioIndex = &zero
		}
		c.Qualities = append(c.Qualities, q)
	}

	if len(c.Qualities) == 0 {
		return &Catalog{
			Qualities: []Quality{{Label: "DASH Default", URL: d.URL, Resolution: "unknown", Format: "mp4"}},
		}
	}

	for i, a := range d.Audio {
		idx := i
		c.AudioTracks = append(c.AudioTracks, Track{
			URL:            d.URL,
			Language:       a.Language,
			Name:           strings.ToUpper(a.Language),
			IsDefault:      a.Default,
			DashAudioIndex: &idx,
		})
	}

	return c
}

// Score ranks catalogs that may describe the same logical stream: a large
// bonus for having real alternatives, then resolution, quality count, and
// audio count. Callers probing several candidate URLs keep the highest
// score, first-probed winning ties.
func Score(c *Catalog) int {
	if c == nil {
		return 0
	}
	score := 0
	real := 0
	maxHeight := 0
	for _, q := range c.Qualities {
		if q.Label != "Default" && q.Label != "DASH Default" {
			real++
		}
		if h := heightOf(q.Resolution); h > maxHeight {
			maxHeight = h
		}
	}
	if real > 1 {
		score += 100000
	}
	score += 100 * maxHeight
	score += 10 * len(c.Qualities)
	score += len(c.AudioTracks)
	return score
}

// Best returns the highest-scoring catalog; earlier entries win ties.
func Best(candidates []*Catalog) *Catalog {
	var best *Catalog
	bestScore := -1
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if s := Score(c); s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best
}

func dedupeTracks(groups map[string][]manifest.Rendition) []Track {
	gids := make([]string, 0, len(groups))
	for gid := range groups {
		gids = append(gids, gid)
	}
	sort.Strings(gids)

	var out []Track
	seen := make(map[string]bool)
	for _, gid := range gids {
		for _, r := range groups[gid] {
			key := r.Language
			if key == "" {
				key = r.Name
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Track{
				URL:       r.URL,
				Language:  r.Language,
				Name:      r.Name,
				IsDefault: r.Default,
				GroupID:   gid,
			})
		}
	}
	return out
}

func bucketLabel(height int) string {
	switch {
	case height >= 2160:
		return "2160p"
	case height >= 1440:
		return "1440p"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	case height >= 240:
		return "240p"
	default:
		return "unknown"
	}
}

func heightOf(resolution string) int {
	parts := strings.SplitN(resolution, "x", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[1])
	return h
}
