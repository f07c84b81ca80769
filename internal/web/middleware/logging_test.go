package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{name: "ok", path: "/api/staging", status: http.StatusOK, wantLevel: "level=INFO"},
		{name: "client error", path: "/api/sessions/x", status: http.StatusNotFound, wantLevel: "level=WARN"},
		{name: "server error", path: "/api/staging", status: http.StatusInternalServerError, wantLevel: "level=ERROR"},
		{name: "health", path: "/health", status: http.StatusOK, wantLevel: "level=DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)

			h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("hello"))
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			out := buf.String()
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log %q missing %s", out, tt.wantLevel)
			}
			if !strings.Contains(out, "bytes=5") {
				t.Errorf("log %q missing byte count", out)
			}
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestLoggerKeepsFlusher(t *testing.T) {
	captureLogs(t)

	var flushable bool
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !flushable {
		t.Error("wrapped writer does not implement http.Flusher")
	}
}
