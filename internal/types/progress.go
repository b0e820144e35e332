package types

import (
	"fmt"
	"math"
)

// Status is the lifecycle state of a download session.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Progress is the live snapshot mutated by the pipeline stage currently
// executing and read by /active-downloads.
type Progress struct {
	Percent     int    `json:"percent"`
	CurrentTime string `json:"currentTime"`
	TotalTime   string `json:"totalTime"`
	Speed       string `json:"speed"`
	ETA         string `json:"eta"`
}

// Event is one message on the subscribable progress channel. Every status
// transition produces exactly one event; downloading additionally emits
// events at bounded intervals.
type Event struct {
	Type        string `json:"type"`
	DownloadID  string `json:"downloadId"`
	Status      Status `json:"status"`
	Percent     int    `json:"percent"`
	CurrentTime string `json:"currentTime,omitempty"`
	TotalTime   string `json:"totalTime,omitempty"`
	Speed       string `json:"speed,omitempty"`
	ETA         string `json:"eta,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        string `json:"size,omitempty"`
	Error       string `json:"error,omitempty"`
}

// FormatBytes renders a byte count as a short human string ("1.5 MB").
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

// FormatClock renders seconds as m:ss or h:mm:ss.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	ss := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, ss)
	}
	return fmt.Sprintf("%d:%02d", m, ss)
}
