package metrics

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestRequestMiddleware_ForwardsHijack(t *testing.T) {
	handler := RequestMiddleware(New())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer lost http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("Hijack: %v", err)
		}
	}))

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !rec.hijacked {
		t.Error("Hijack did not reach the underlying writer")
	}
}
