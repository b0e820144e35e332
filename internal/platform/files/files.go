// Package files covers the engine's filesystem surface: output naming,
// the persisted download directory setting, and handing files to the
// desktop shell.
package files

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// invalidNameChars are characters that are unusable in filenames on at
// least one supported platform.
const invalidNameChars = `<>:"/\|?*`

// SanitizeFilename replaces characters no target filesystem accepts and
// trims surrounding whitespace and dots. An empty result falls back to
// "download".
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidNameChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		out = "download"
	}
	return out
}

// UniquePath returns path unchanged if nothing exists there, otherwise the
// first "name (N).ext" variant that is free.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// DefaultDownloadDir returns the user's Downloads directory, falling back
// to the working directory when the home directory is unknown.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

// Store persists the user-chosen download directory across restarts as a
// small JSON file.
type Store struct {
	Path string
}

type storedSettings struct {
	DownloadDir string `json:"downloadDir"`
}

// NewStore returns a Store writing to path, defaulting to
// "vidgrab/settings.json" under the OS config directory.
func NewStore(path string) *Store {
	if path == "" {
		if cfgDir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(cfgDir, "vidgrab", "settings.json")
		} else {
			path = "vidgrab-settings.json"
		}
	}
	return &Store{Path: path}
}

// DownloadDir returns the persisted download directory, or fallback when
// nothing valid is stored.
func (s *Store) DownloadDir(fallback string) string {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return fallback
	}
	var settings storedSettings
	if err := json.Unmarshal(data, &settings); err != nil || settings.DownloadDir == "" {
		return fallback
	}
	if info, err := os.Stat(settings.DownloadDir); err != nil || !info.IsDir() {
		return fallback
	}
	return settings.DownloadDir
}

// SetDownloadDir validates dir exists and persists it.
func (s *Store) SetDownloadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	data, err := json.Marshal(storedSettings{DownloadDir: dir})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o644)
}

// RevealInFolder opens the platform file manager with path selected where
// the platform supports selection, or its parent directory otherwise.
func RevealInFolder(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", "-R", abs).Run()
	case "windows":
		// explorer exits nonzero even on success, ignore its status.
		_ = exec.Command("explorer", "/select,"+abs).Run()
		return nil
	default:
		return exec.Command("xdg-open", filepath.Dir(abs)).Run()
	}
}

// OpenWithDefaultApp hands path to the desktop's default handler.
func OpenWithDefaultApp(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", abs).Run()
	case "windows":
		return exec.Command("cmd", "/c", "start", "", abs).Run()
	default:
		return exec.Command("xdg-open", abs).Run()
	}
}
