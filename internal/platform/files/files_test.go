package files

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Movie.mp4", "My Movie.mp4"},
		{`bad<>:"/\|?*name`, "bad_________name"},
		{"  spaced  ", "spaced"},
		{"trailing dots...", "trailing dots"},
		{"", "download"},
		{"...", "download"},
		{"tab\there", "tab_here"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")

	if got := UniquePath(path); got != path {
		t.Errorf("fresh path changed: %q", got)
	}

	for _, name := range []string{"movie.mp4", "movie (1).mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	want := filepath.Join(dir, "movie (2).mp4")
	if got := UniquePath(path); got != want {
		t.Errorf("UniquePath = %q, want %q", got, want)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "cfg", "settings.json"))

	if got := store.DownloadDir("/fallback"); got != "/fallback" {
		t.Errorf("empty store returned %q, want fallback", got)
	}

	target := filepath.Join(dir, "media")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.SetDownloadDir(target); err != nil {
		t.Fatalf("SetDownloadDir: %v", err)
	}
	if got := store.DownloadDir("/fallback"); got != target {
		t.Errorf("DownloadDir = %q, want %q", got, target)
	}

	// A fresh store over the same file sees the persisted value.
	again := NewStore(store.Path)
	if got := again.DownloadDir("/fallback"); got != target {
		t.Errorf("reloaded DownloadDir = %q, want %q", got, target)
	}
}

func TestStore_RejectsMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if err := store.SetDownloadDir("/no/such/dir/exists/here"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestStore_IgnoresStaleDir(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "settings.json"))
	gone := filepath.Join(dir, "gone")
	if err := os.MkdirAll(gone, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.SetDownloadDir(gone); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(gone); err != nil {
		t.Fatal(err)
	}
	if got := store.DownloadDir("/fallback"); got != "/fallback" {
		t.Errorf("stale dir returned %q, want fallback", got)
	}
}
