// Package session holds the per-download unit of work: its status, live
// progress snapshot, cancellation flag, and the process-wide registry that
// tracks sessions from job start to terminal state.
package session

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vidgrab/vidgrab/internal/types"
)

// Session is one acquisition-and-remux job. Status and progress are
// mutated only by the pipeline stage currently executing; Cancel may be
// called from any goroutine and is idempotent.
type Session struct {
	ID         string
	Filename   string
	SourceURL  string
	OutputPath string
	TempDir    string

	mu       sync.Mutex
	status   types.Status
	progress types.Progress

	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// New returns a queued session. cancel tears down the session's in-flight
// HTTP requests and any live subprocess when invoked.
func New(id, filename, sourceURL, outputPath, tempDir string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:         id,
		Filename:   filename,
		SourceURL:  sourceURL,
		OutputPath: outputPath,
		TempDir:    tempDir,
		status:     types.StatusQueued,
		cancel:     cancel,
		progress: types.Progress{
			CurrentTime: "0:00",
			TotalTime:   "--:--",
			Speed:       "--",
			ETA:         "--",
		},
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus records a state transition.
func (s *Session) SetStatus(status types.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Progress returns the live progress snapshot.
func (s *Session) Progress() types.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SetProgress replaces the live progress snapshot.
func (s *Session) SetProgress(p types.Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// Cancel sets the cancellation flag and tears down in-flight work. The
// second and later calls are no-ops.
func (s *Session) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		if s.cancel != nil {
			s.cancel()
		}
	}
}

// Cancelled reports whether cancellation has been requested.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Cleanup removes the session's temp directory. Safe to call on every
// terminal path.
func (s *Session) Cleanup() {
	if s.TempDir != "" {
		_ = os.RemoveAll(s.TempDir)
	}
}

// ActiveDownload is the external snapshot of a session, served by
// /active-downloads so a restarted client can resynchronize.
type ActiveDownload struct {
	DownloadID  string       `json:"downloadId"`
	Filename    string       `json:"filename"`
	SourceURL   string       `json:"sourceUrl"`
	Status      types.Status `json:"status"`
	Percent     int          `json:"percent"`
	CurrentTime string       `json:"currentTime"`
	TotalTime   string       `json:"totalTime"`
	Speed       string       `json:"speed"`
	ETA         string       `json:"eta"`
}

// Snapshot returns the external view of the session.
func (s *Session) Snapshot() ActiveDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ActiveDownload{
		DownloadID:  s.ID,
		Filename:    s.Filename,
		SourceURL:   s.SourceURL,
		Status:      s.status,
		Percent:     s.progress.Percent,
		CurrentTime: s.progress.CurrentTime,
		TotalTime:   s.progress.TotalTime,
		Speed:       s.progress.Speed,
		ETA:         s.progress.ETA,
	}
}

// Registry is the process-wide table of live sessions. Entries are created
// on job start and reaped on any terminal state; each entry is owned by
// its session's pipeline goroutine.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove reaps a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Active returns snapshots of all live sessions.
func (r *Registry) Active() []ActiveDownload {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]ActiveDownload, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
