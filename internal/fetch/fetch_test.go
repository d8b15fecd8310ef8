package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileFetch(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "model.onnx")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	for _, loc := range []string{p, "file://" + p} {
		got, err := File{}.Fetch(context.Background(), loc)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", loc, err)
		}
		if string(got) != "hello" {
			t.Fatalf("Fetch(%q) = %q", loc, got)
		}
	}

	_, err := File{}.Fetch(context.Background(), filepath.Join(tmp, "missing.onnx"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (File{}).Fetch(ctx, "whatever"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte("hello"))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	tests := []struct {
		name    string
		fetcher HTTP
		path    string
		wantErr error
	}{
		{name: "ok", fetcher: HTTP{Token: "tok"}, path: "/model"},
		{name: "pinned", fetcher: HTTP{Token: "tok", SHA256: strings.ToUpper(helloSHA)}, path: "/model"},
		{name: "pin mismatch", fetcher: HTTP{Token: "tok", SHA256: strings.Repeat("0", 64)}, path: "/model", wantErr: ErrChecksumMismatch},
		{name: "forbidden", fetcher: HTTP{}, path: "/model", wantErr: ErrNetwork},
		{name: "not found", fetcher: HTTP{}, path: "/nope", wantErr: ErrNotFound},
		{name: "server error", fetcher: HTTP{}, path: "/broken", wantErr: ErrNetwork},
		{name: "too large", fetcher: HTTP{Token: "tok", MaxBytes: 3}, path: "/model", wantErr: ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fetcher.Fetch(context.Background(), srv.URL+tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if string(got) != "hello" {
				t.Fatalf("body = %q", got)
			}
		})
	}
}

func TestHTTPFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := HTTP{}.Fetch(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T %v", err, err)
	}
	if se.Code != http.StatusBadGateway {
		t.Fatalf("code = %d", se.Code)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("502 must not match ErrNotFound")
	}
}

func TestHTTPFetchCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := HTTP{}.Fetch(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestHTTPRejectsMalformedPin(t *testing.T) {
	_, err := HTTP{SHA256: "abc"}.Fetch(context.Background(), "http://127.0.0.1:1/")
	if err == nil || !strings.Contains(err.Error(), "invalid sha256 pin") {
		t.Fatalf("expected invalid pin error, got %v", err)
	}
}

func TestAutoDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	tmp := t.TempDir()
	p := filepath.Join(tmp, "m.bin")
	if err := os.WriteFile(p, []byte("local"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var a Auto
	for loc, want := range map[string]string{srv.URL: "remote", p: "local"} {
		got, err := a.Fetch(context.Background(), loc)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", loc, err)
		}
		if string(got) != want {
			t.Fatalf("Fetch(%q) = %q, want %q", loc, got, want)
		}
	}
}

func TestDigest(t *testing.T) {
	if got := Digest([]byte("hello")); got != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("Digest = %s", got)
	}
}
