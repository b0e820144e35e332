package types

import "net/http"

// DefaultUserAgent is sent when the capture side did not provide one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

// RequestHeaders carries the browser-captured headers that must accompany
// every manifest, key, and segment request. CDNs routinely reject requests
// whose Referer/Origin/Cookie do not match the capturing page.
type RequestHeaders struct {
	Referer   string `json:"referer"`
	Origin    string `json:"origin"`
	Cookie    string `json:"cookie"`
	UserAgent string `json:"userAgent"`
}

// Apply sets the captured headers on req. The User-Agent always gets a
// value so CDN heuristics see a real browser.
func (h RequestHeaders) Apply(req *http.Request) {
	if h.Referer != "" {
		req.Header.Set("Referer", h.Referer)
	}
	if h.Origin != "" {
		req.Header.Set("Origin", h.Origin)
	}
	if h.Cookie != "" {
		req.Header.Set("Cookie", h.Cookie)
	}
	ua := h.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
}

// FFmpegHeaderBlock renders the captured headers in the CRLF-joined form
// ffmpeg's -headers flag expects, or "" when nothing was captured.
func (h RequestHeaders) FFmpegHeaderBlock() string {
	var block string
	if h.Referer != "" {
		block += "Referer: " + h.Referer + "\r\n"
	}
	if h.Origin != "" {
		block += "Origin: " + h.Origin + "\r\n"
	}
	if h.Cookie != "" {
		block += "Cookie: " + h.Cookie + "\r\n"
	}
	if h.UserAgent != "" {
		block += "User-Agent: " + h.UserAgent + "\r\n"
	}
	return block
}
