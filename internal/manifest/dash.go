package manifest

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/vidgrab/vidgrab/internal/types"
)

// DashVideo is one video Representation. DASH qualities are selected by
// index into the same manifest rather than by a distinct URL, so the entry
// carries no URL of its own.
type DashVideo struct {
	ID        string
	Bandwidth int
	Width     int
	Height    int
	Container string // "mp4" or "webm"
}

// DashAudio is one audio Representation, addressed by index.
type DashAudio struct {
	ID       string
	Language string
	Default  bool
}

// DashManifest is the parsed, classified form of an MPD. The slice index of
// a video entry is its dashVideoIndex; likewise for audio.
type DashManifest struct {
	URL   string
	Video []DashVideo
	Audio []DashAudio
}

var mpdRootPattern = regexp.MustCompile(`(?i)<\s*MPD\b`)

// IsDASH reports whether text looks like an MPD document.
func IsDASH(text string) bool {
	return mpdRootPattern.MatchString(text)
}

type mpdXML struct {
	XMLName xml.Name    `xml:"MPD"`
	Period  []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	AdaptationSet []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ContentType    string              `xml:"contentType,attr"`
	MimeType       string              `xml:"mimeType,attr"`
	Lang           string              `xml:"lang,attr"`
	Representation []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID        string `xml:"id,attr"`
	Bandwidth int    `xml:"bandwidth,attr"`
	Width     int    `xml:"width,attr"`
	Height    int    `xml:"height,attr"`
	MimeType  string `xml:"mimeType,attr"`
	Codecs    string `xml:"codecs,attr"`
}

// ParseDASH walks the MPD's AdaptationSets and classifies Representations
// into video qualities and audio tracks. An MPD with no video
// Representations yields an empty Video slice, not an error: segment-index
// only manifests are treated as already playable further up.
func ParseDASH(text, mpdURL string) (*DashManifest, error) {
	var doc mpdXML
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, types.WrapError(types.KindInvalidManifest, "parsing MPD", err)
	}

	out := &DashManifest{URL: mpdURL}
	for _, period := range doc.Period {
		for _, set := range period.AdaptationSet {
			mime := strings.ToLower(set.MimeType)
			contentType := strings.ToLower(set.ContentType)
			isVideo := contentType == "video" || strings.HasPrefix(mime, "video/")
			isAudio := contentType == "audio" || strings.HasPrefix(mime, "audio/")
			if !isVideo && !isAudio {
				continue
			}

			for _, rep := range set.Representation {
				if isVideo {
					container := "mp4"
					repMime := strings.ToLower(rep.MimeType)
					if strings.Contains(repMime, "webm") || strings.Contains(mime, "webm") {
						container = "webm"
					}
					out.Video = append(out.Video, DashVideo{
						ID:        rep.ID,
						Bandwidth: rep.Bandwidth,
						Width:     rep.Width,
						Height:    rep.Height,
						Container: container,
					})
					continue
				}
				lang := set.Lang
				if lang == "" {
					lang = "und"
				}
				out.Audio = append(out.Audio, DashAudio{
					ID:       rep.ID,
					Language: lang,
					Default:  len(out.Audio) == 0,
				})
			}
		}
	}
	return out, nil
}
