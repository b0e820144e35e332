package segment

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/vidgrab/vidgrab/internal/manifest"
	"github.com/vidgrab/vidgrab/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func segmentPayload(i int) []byte {
	return bytes.Repeat([]byte{byte('a' + i%26)}, 512)
}

func playlistOf(baseURL string, n int, key *manifest.EncryptionKey) *manifest.MediaPlaylist {
	pl := &manifest.MediaPlaylist{}
	for i := 0; i < n; i++ {
		pl.Segments = append(pl.Segments, manifest.Segment{
			URL:      fmt.Sprintf("%s/seg%d.ts", baseURL, i),
			Duration: 6.0,
			Key:      key,
		})
	}
	return pl
}

func never() bool { return false }

func TestAcquire_DownloadsAllSegmentsInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var i int
		if _, err := fmt.Sscanf(r.URL.Path, "/seg%d.ts", &i); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Write(segmentPayload(i))
	}))
	defer server.Close()

	dir := t.TempDir()
	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	res, err := a.Acquire(context.Background(), playlistOf(server.URL, 12, nil),
		types.RequestHeaders{}, dir, "video", never, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(res.Files) != 12 || res.Dropped != 0 {
		t.Fatalf("got %d files (%d dropped), want 12/0", len(res.Files), res.Dropped)
	}
	for i, f := range res.Files {
		if f.Index != i {
			t.Errorf("file %d has index %d, order not preserved", i, f.Index)
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			t.Fatalf("reading %s: %v", f.Path, err)
		}
		if !bytes.Equal(data, segmentPayload(i)) {
			t.Errorf("file %d holds wrong payload", i)
		}
	}
	if filepath.Base(res.Files[3].Path) != "video_00003.ts" {
		t.Errorf("file naming = %q", filepath.Base(res.Files[3].Path))
	}
}

func TestAcquire_KeyFetchFailureIsFatal(t *testing.T) {
	var segmentCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/key.bin" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		segmentCalls.Add(1)
		w.Write(segmentPayload(0))
	}))
	defer server.Close()

	key := &manifest.EncryptionKey{Method: "AES-128", URI: server.URL + "/key.bin"}
	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	_, err := a.Acquire(context.Background(), playlistOf(server.URL, 3, key),
		types.RequestHeaders{}, t.TempDir(), "video", never, nil)
	if err == nil {
		t.Fatal("expected failure when key fetch fails")
	}
	if types.KindOf(err) != types.KindKeyUnavailable {
		t.Errorf("error kind = %q, want key_unavailable", types.KindOf(err))
	}
	if got := segmentCalls.Load(); got != 0 {
		t.Errorf("%d segments fetched before key failure, want 0", got)
	}
}

func TestAcquire_KeyCachedOnce(t *testing.T) {
	var keyCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/key.bin" {
			keyCalls.Add(1)
			w.Write([]byte("0123456789abcdef"))
			return
		}
		w.Write(segmentPayload(1))
	}))
	defer server.Close()

	key := &manifest.EncryptionKey{
		Method: "AES-128",
		URI:    server.URL + "/key.bin",
		IVHex:  "0x0000000000000000000000000000002a",
	}
	dir := t.TempDir()
	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	res, err := a.Acquire(context.Background(), playlistOf(server.URL, 8, key),
		types.RequestHeaders{}, dir, "video", never, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if keyCalls.Load() != 1 {
		t.Errorf("key fetched %d times, want once", keyCalls.Load())
	}
	if res.Key == nil {
		t.Fatal("key file missing from result")
	}
	if res.Key.IVHex != key.IVHex || res.Key.Method != "AES-128" {
		t.Errorf("key metadata = %+v", res.Key)
	}
	data, err := os.ReadFile(res.Key.Path)
	if err != nil || string(data) != "0123456789abcdef" {
		t.Errorf("cached key payload = %q, err=%v", data, err)
	}
}

func TestAcquire_InvalidFirstSegmentFailsFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html>Access denied</html>"))
	}))
	defer server.Close()

	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	_, err := a.Acquire(context.Background(), playlistOf(server.URL, 10, nil),
		types.RequestHeaders{}, t.TempDir(), "video", never, nil)
	if err == nil {
		t.Fatal("expected failure for invalid first segment")
	}
	if types.KindOf(err) != types.KindUnavailableQuality {
		t.Errorf("error kind = %q, want unavailable_quality", types.KindOf(err))
	}
}

func TestAcquire_SurvivesPartialBatchFailure(t *testing.T) {
	// 20 segments in batches of 5; segments 10..14 (the third batch) all
	// fail. The remaining 15 must survive in order.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var i int
		if _, err := fmt.Sscanf(r.URL.Path, "/seg%d.ts", &i); err != nil {
			http.NotFound(w, r)
			return
		}
		if i >= 10 && i < 15 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(segmentPayload(i))
	}))
	defer server.Close()

	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	res, err := a.Acquire(context.Background(), playlistOf(server.URL, 20, nil),
		types.RequestHeaders{}, t.TempDir(), "video", never, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(res.Files) != 15 || res.Dropped != 5 {
		t.Fatalf("got %d files (%d dropped), want 15/5", len(res.Files), res.Dropped)
	}
	prev := -1
	for _, f := range res.Files {
		if f.Index <= prev {
			t.Errorf("files out of order: %d after %d", f.Index, prev)
		}
		if f.Index >= 10 && f.Index < 15 {
			t.Errorf("failed segment %d present in result", f.Index)
		}
		prev = f.Index
	}
}

func TestAcquire_AllSegmentsInvalid(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First segment passes the probe, everything after fails.
		if calls.Add(1) == 1 {
			w.Write(segmentPayload(0))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	res, err := a.Acquire(context.Background(), playlistOf(server.URL, 11, nil),
		types.RequestHeaders{}, t.TempDir(), "video", never, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// One valid survivor is enough to proceed.
	if len(res.Files) != 1 || res.Dropped != 10 {
		t.Errorf("got %d files (%d dropped), want 1/10", len(res.Files), res.Dropped)
	}

	_, err = a.Acquire(context.Background(), &manifest.MediaPlaylist{},
		types.RequestHeaders{}, t.TempDir(), "video", never, nil)
	if types.KindOf(err) != types.KindAllSegmentsInvalid {
		t.Errorf("empty playlist error kind = %q, want all_segments_invalid", types.KindOf(err))
	}
}

func TestAcquire_CancellationStopsBatches(t *testing.T) {
	var fetched atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched.Add(1)
		w.Write(segmentPayload(0))
	}))
	defer server.Close()

	// Cancel after the first progress report (probe + batch 1).
	var cancelled atomic.Bool
	onProgress := func(done, total int) {
		if done >= 6 {
			cancelled.Store(true)
		}
	}

	a := NewAcquirer(manifest.NewFetcher(server.Client()), testLogger(), 5)
	_, err := a.Acquire(context.Background(), playlistOf(server.URL, 20, nil),
		types.RequestHeaders{}, t.TempDir(), "video", cancelled.Load, onProgress)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if types.KindOf(err) != types.KindCancelled {
		t.Errorf("error kind = %q, want cancelled", types.KindOf(err))
	}
	// Probe (1) plus batch one (5); batches two through four must not run.
	if got := fetched.Load(); got > 6 {
		t.Errorf("%d fetches after cancellation, want at most 6", got)
	}
}

func TestValidPayload(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"real segment", segmentPayload(0), true},
		{"too small", []byte("tiny"), false},
		{"html error page", append([]byte("<!DOCTYPE html>"), bytes.Repeat([]byte{'x'}, 512)...), false},
		{"json error body", append([]byte(`{"error":"denied"}`), bytes.Repeat([]byte{' '}, 512)...), false},
		{"leading whitespace html", append([]byte("\n\t<html>"), bytes.Repeat([]byte{'x'}, 512)...), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPayload(tt.data, MinSegmentSize); got != tt.want {
				t.Errorf("ValidPayload = %v, want %v", got, tt.want)
			}
		})
	}
}
