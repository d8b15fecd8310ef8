package server_test

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/example/go-graphbridge/internal/server"
)

// capturingHandler captures all slog records during a test.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *capturingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (c *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}
func (c *capturingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return c }
func (c *capturingHandler) WithGroup(_ string) slog.Handler      { return c }

func (c *capturingHandler) find(msg string) (map[string]any, slog.Level, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Message != msg {
			continue
		}
		m := make(map[string]any)
		r.Attrs(func(a slog.Attr) bool {
			m[a.Key] = a.Value.Any()
			return true
		})
		return m, r.Level, true
	}
	return nil, 0, false
}

func TestRequestLogCarriesIDAndStatus(t *testing.T) {
	cap := &capturingHandler{}
	h := server.NewHandler(&stubModel{}, server.WithLogger(slog.New(cap)))

	rec := do(t, h, http.MethodGet, "/health", "")
	attrs, _, ok := cap.find("request")
	if !ok {
		t.Fatal("want a request log record")
	}
	if attrs["request_id"] != rec.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %v, header = %q", attrs["request_id"], rec.Header().Get("X-Request-ID"))
	}
	if attrs["status"] != int64(http.StatusOK) {
		t.Errorf("status = %v (%T)", attrs["status"], attrs["status"])
	}
	if attrs["path"] != "/health" {
		t.Errorf("path = %v", attrs["path"])
	}
	if _, ok := attrs["duration_ms"]; !ok {
		t.Error("want duration_ms attribute")
	}
}

func TestRunFailureLoggedAsWarning(t *testing.T) {
	cap := &capturingHandler{}
	h := server.NewHandler(openLinear(t), server.WithLogger(slog.New(cap)))

	rec := do(t, h, http.MethodPost, "/run", `{"inputs":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
	attrs, level, ok := cap.find("run failed")
	if !ok {
		t.Fatal("want a run failed record")
	}
	if level != slog.LevelWarn {
		t.Errorf("level = %s; want WARN for a caller error", level)
	}
	if attrs["error"] == "" {
		t.Error("want error attribute")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		got, err := server.ParseLogLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): want error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
