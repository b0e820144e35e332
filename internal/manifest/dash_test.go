package manifest

import (
	"testing"

	"github.com/vidgrab/vidgrab/internal/types"
)

const mpdFixture = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v0" bandwidth="5000000" width="1920" height="1080"/>
      <Representation id="v1" bandwidth="2500000" width="1280" height="720"/>
      <Representation id="v2" bandwidth="1000000" width="854" height="480"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      <Representation id="a0" bandwidth="128000"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="fr">
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseDASH_ClassifiesRepresentations(t *testing.T) {
	d, err := ParseDASH(mpdFixture, "https://cdn.example.com/v/manifest.mpd")
	if err != nil {
		t.Fatalf("ParseDASH: %v", err)
	}
	if len(d.Video) != 3 {
		t.Fatalf("got %d video representations, want 3", len(d.Video))
	}
	if d.Video[0].Height != 1080 || d.Video[0].Bandwidth != 5000000 {
		t.Errorf("video[0] = %+v", d.Video[0])
	}
	if d.Video[0].Container != "mp4" {
		t.Errorf("container = %q, want mp4", d.Video[0].Container)
	}
	if len(d.Audio) != 2 {
		t.Fatalf("got %d audio representations, want 2", len(d.Audio))
	}
	if !d.Audio[0].Default || d.Audio[1].Default {
		t.Errorf("default flags = %v %v, want first only", d.Audio[0].Default, d.Audio[1].Default)
	}
	if d.Audio[1].Language != "fr" {
		t.Errorf("audio[1] language = %q", d.Audio[1].Language)
	}
}

func TestParseDASH_WebmContainer(t *testing.T) {
	text := `<MPD><Period>
		<AdaptationSet contentType="video" mimeType="video/webm">
			<Representation id="v0" bandwidth="900000" width="640" height="360"/>
		</AdaptationSet>
	</Period></MPD>`
	d, err := ParseDASH(text, "https://example.com/m.mpd")
	if err != nil {
		t.Fatalf("ParseDASH: %v", err)
	}
	if len(d.Video) != 1 || d.Video[0].Container != "webm" {
		t.Errorf("video = %+v, want one webm entry", d.Video)
	}
}

func TestParseDASH_NoVideoIsNotAnError(t *testing.T) {
	text := `<MPD><Period>
		<AdaptationSet contentType="text" mimeType="text/vtt">
			<Representation id="t0"/>
		</AdaptationSet>
	</Period></MPD>`
	d, err := ParseDASH(text, "https://example.com/m.mpd")
	if err != nil {
		t.Fatalf("ParseDASH: %v", err)
	}
	if len(d.Video) != 0 || len(d.Audio) != 0 {
		t.Errorf("got video=%d audio=%d, want none", len(d.Video), len(d.Audio))
	}
}

func TestParseDASH_MalformedXML(t *testing.T) {
	_, err := ParseDASH("<MPD><Period>", "https://example.com/m.mpd")
	if err == nil {
		t.Fatal("expected error for truncated XML")
	}
	if types.KindOf(err) != types.KindInvalidManifest {
		t.Errorf("error kind = %q, want invalid_manifest", types.KindOf(err))
	}
}

func TestIsDASH(t *testing.T) {
	if !IsDASH(mpdFixture) {
		t.Error("MPD not recognized")
	}
	if !IsDASH(`<mpd type="static">`) {
		t.Error("case-insensitive match failed")
	}
	if IsDASH(masterFixture) {
		t.Error("HLS playlist classified as DASH")
	}
}
