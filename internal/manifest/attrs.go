package manifest

import (
	"strconv"
	"strings"
)

// parseAttributeList splits an HLS attribute list ("KEY=value,URI="...")
// into a map. Quoted values may contain commas; quotes are stripped.
func parseAttributeList(raw string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < len(raw); {
		eq := strings.IndexByte(raw[i:], '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(raw[i : i+eq])
		i += eq + 1

		var value string
		if i < len(raw) && raw[i] == '"' {
			end := strings.IndexByte(raw[i+1:], '"')
			if end < 0 {
				value = raw[i+1:]
				i = len(raw)
			} else {
				value = raw[i+1 : i+1+end]
				i += end + 2
			}
			// Skip the comma after the closing quote.
			if i < len(raw) && raw[i] == ',' {
				i++
			}
		} else {
			end := strings.IndexByte(raw[i:], ',')
			if end < 0 {
				value = raw[i:]
				i = len(raw)
			} else {
				value = raw[i : i+end]
				i += end + 1
			}
		}
		if key != "" {
			out[key] = value
		}
	}
	return out
}

// streamInfTag is a typed #EXT-X-STREAM-INF line.
type streamInfTag struct {
	Bandwidth  int
	Resolution string
	Codecs     string
	AudioGroup string
	SubGroup   string
}

func parseStreamInf(raw string) streamInfTag {
	attrs := parseAttributeList(raw)
	bw, _ := strconv.Atoi(attrs["BANDWIDTH"])
	return streamInfTag{
		Bandwidth:  bw,
		Resolution: attrs["RESOLUTION"],
		Codecs:     attrs["CODECS"],
		AudioGroup: attrs["AUDIO"],
		SubGroup:   attrs["SUBTITLES"],
	}
}

// mediaTag is a typed #EXT-X-MEDIA line.
type mediaTag struct {
	Type     string
	GroupID  string
	URI      string
	Language string
	Name     string
	Default  bool
}

func parseMediaTag(raw string) mediaTag {
	attrs := parseAttributeList(raw)
	return mediaTag{
		Type:     strings.ToUpper(attrs["TYPE"]),
		GroupID:  attrs["GROUP-ID"],
		URI:      attrs["URI"],
		Language: attrs["LANGUAGE"],
		Name:     attrs["NAME"],
		Default:  strings.EqualFold(attrs["DEFAULT"], "YES"),
	}
}

// keyTag is a typed #EXT-X-KEY line.
type keyTag struct {
	Method string
	URI    string
	IVHex  string
}

func parseKeyTag(raw string) keyTag {
	attrs := parseAttributeList(raw)
	return keyTag{
		Method: strings.ToUpper(attrs["METHOD"]),
		URI:    attrs["URI"],
		IVHex:  attrs["IV"],
	}
}

// mapTag is a typed #EXT-X-MAP line.
type mapTag struct {
	URI       string
	ByteRange string
}

func parseMapTag(raw string) mapTag {
	attrs := parseAttributeList(raw)
	return mapTag{
		URI:       attrs["URI"],
		ByteRange: attrs["BYTERANGE"],
	}
}
