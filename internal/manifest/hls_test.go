package manifest

import (
	"strings"
	"testing"

	"github.com/vidgrab/vidgrab/internal/types"
)

const masterFixture = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English",DEFAULT=YES,URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="fr",NAME="French",URI="audio/fr.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="en",NAME="English",URI="subs/en.m3u8"
#EXT-X-MEDIA:TYPE=CLOSED-CAPTIONS,GROUP-ID="cc",NAME="CC",URI="cc/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720,AUDIO="aud",SUBTITLES="subs"
720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,AUDIO="aud",SUBTITLES="subs"
1080.m3u8
`

func TestParseMaster_SortsByDescendingBandwidth(t *testing.T) {
	m, err := ParseMaster(masterFixture, "https://cdn.example.com/v/master.m3u8")
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	if len(m.Variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(m.Variants))
	}
	for i := 1; i < len(m.Variants); i++ {
		if m.Variants[i].Bandwidth > m.Variants[i-1].Bandwidth {
			t.Errorf("variants not sorted: %d before %d",
				m.Variants[i-1].Bandwidth, m.Variants[i].Bandwidth)
		}
	}
	if m.Variants[0].Resolution != "1920x1080" {
		t.Errorf("top variant resolution = %q, want 1920x1080", m.Variants[0].Resolution)
	}
	for _, v := range m.Variants {
		if !strings.HasPrefix(v.URL, "https://cdn.example.com/v/") {
			t.Errorf("variant URL not absolute: %q", v.URL)
		}
	}
}

func TestParseMaster_RenditionGroups(t *testing.T) {
	m, err := ParseMaster(masterFixture, "https://cdn.example.com/v/master.m3u8")
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	aud := m.AudioGroups["aud"]
	if len(aud) != 2 {
		t.Fatalf("got %d audio renditions, want 2", len(aud))
	}
	if !aud[0].Default || aud[0].Language != "en" {
		t.Errorf("first rendition = %+v, want default english", aud[0])
	}
	if aud[1].URL != "https://cdn.example.com/v/audio/fr.m3u8" {
		t.Errorf("french URL = %q", aud[1].URL)
	}
	if len(m.SubtitleGroups["subs"]) != 1 {
		t.Errorf("got %d subtitle renditions, want 1", len(m.SubtitleGroups["subs"]))
	}
	// CLOSED-CAPTIONS entries are neither audio nor subtitles.
	if len(m.AudioGroups)+len(m.SubtitleGroups) != 2 {
		t.Errorf("unexpected extra groups: audio=%v subs=%v", m.AudioGroups, m.SubtitleGroups)
	}
}

func TestParseMaster_RejectsNonPlaylist(t *testing.T) {
	_, err := ParseMaster("<!DOCTYPE html><html></html>", "https://example.com/x")
	if err == nil {
		t.Fatal("expected error for non-playlist content")
	}
	if types.KindOf(err) != types.KindInvalidManifest {
		t.Errorf("error kind = %q, want invalid_manifest", types.KindOf(err))
	}
}

func TestParseMaster_SkipsDanglingStreamInf(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=640x360\n"
	m, err := ParseMaster(text, "https://example.com/master.m3u8")
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	if len(m.Variants) != 0 {
		t.Errorf("got %d variants, want 0 for dangling STREAM-INF", len(m.Variants))
	}
}

func TestParseMaster_EqualBandwidthKeepsSourceOrder(t *testing.T) {
	text := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=640x360\nfirst.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=640x360\nsecond.m3u8\n"
	m, err := ParseMaster(text, "https://example.com/master.m3u8")
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	if len(m.Variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(m.Variants))
	}
	if !strings.HasSuffix(m.Variants[0].URL, "first.m3u8") {
		t.Errorf("equal variants reordered: first is %q", m.Variants[0].URL)
	}
}

func TestParseMedia_KeyActivationBoundary(t *testing.T) {
	text := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x00000000000000000000000000000001
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:6.0,
seg2.ts
#EXT-X-ENDLIST
`
	media, err := ParseMedia(text, "https://cdn.example.com/v/index.m3u8")
	if err != nil {
		t.Fatalf("ParseMedia: %v", err)
	}
	if len(media.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(media.Segments))
	}
	for i := 0; i < 2; i++ {
		key := media.Segments[i].Key
		if key == nil {
			t.Fatalf("segment %d missing key", i)
		}
		if key.URI != "https://cdn.example.com/v/key.bin" {
			t.Errorf("segment %d key URI = %q", i, key.URI)
		}
		if key.IVHex != "0x00000000000000000000000000000001" {
			t.Errorf("segment %d IV = %q", i, key.IVHex)
		}
	}
	if media.Segments[2].Key != nil {
		t.Error("segment after METHOD=NONE still carries a key")
	}
}

func TestParseMedia_InitSegmentAndDurations(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MAP:URI="init.mp4"
#EXTINF:4.004,
seg0.m4s
#EXTINF:3.2,title here
seg1.m4s
#EXT-X-ENDLIST
`
	media, err := ParseMedia(text, "https://cdn.example.com/v/index.m3u8?token=abc")
	if err != nil {
		t.Fatalf("ParseMedia: %v", err)
	}
	if media.Init == nil {
		t.Fatal("init segment not parsed")
	}
	if media.Init.URL != "https://cdn.example.com/v/init.mp4?token=abc" {
		t.Errorf("init URL = %q", media.Init.URL)
	}
	if len(media.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(media.Segments))
	}
	if media.Segments[0].Duration != 4.004 {
		t.Errorf("segment 0 duration = %v", media.Segments[0].Duration)
	}
	if media.Segments[1].Duration != 3.2 {
		t.Errorf("segment 1 duration = %v", media.Segments[1].Duration)
	}
}

func TestIsMaster(t *testing.T) {
	if IsMaster("#EXTM3U\n#EXTINF:6.0,\nseg.ts\n") {
		t.Error("media playlist classified as master")
	}
	if !IsMaster(masterFixture) {
		t.Error("master playlist not recognized")
	}
}
