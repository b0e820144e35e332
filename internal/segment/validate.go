package segment

import "bytes"

// MinSegmentSize is the smallest payload accepted as a real media segment.
// CDN error bodies ("Access denied" pages, JSON error envelopes) are small
// and text-shaped; real segments are neither.
const MinSegmentSize = 256

var errorBodyPrefixes = [][]byte{
	[]byte("<!DOCTYPE"),
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<HTML"),
	[]byte("<?xml"),
	[]byte("{"),
	[]byte("["),
}

// ValidPayload reports whether data looks like a usable media segment:
// non-empty, above the minimum size, and not an HTML/JSON error body.
func ValidPayload(data []byte, minSize int) bool {
	if minSize <= 0 {
		minSize = MinSegmentSize
	}
	if len(data) < minSize {
		return false
	}
	head := bytes.TrimLeft(data, " \t\r\n")
	for _, prefix := range errorBodyPrefixes {
		if bytes.HasPrefix(head, prefix) {
			return false
		}
	}
	return true
}
