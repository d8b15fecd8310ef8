// Package fetch retrieves model bytes from a locator. Retrieval is the only
// suspension point of model loading and honours context cancellation.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
)

var (
	ErrNotFound         = errors.New("model bytes not found")
	ErrNetwork          = errors.New("network failure")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Fetcher returns the full contents behind locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
}

// Is makes a 404 match ErrNotFound and every other status match ErrNetwork.
func (e *StatusError) Is(target error) bool {
	if e.Code == http.StatusNotFound {
		return target == ErrNotFound
	}
	return target == ErrNetwork
}

// File reads from the local filesystem. A "file://" prefix is stripped.
type File struct{}

func (File) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(locator, "file://")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return data, nil
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// HTTP downloads over http(s). When SHA256 is set the body must hash to it.
type HTTP struct {
	Client   *http.Client
	Token    string
	SHA256   string
	MaxBytes int64
}

func (h HTTP) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if h.SHA256 != "" && !shaHexPattern.MatchString(h.SHA256) {
		return nil, fmt.Errorf("invalid sha256 pin %q", h.SHA256)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: locator, Code: resp.StatusCode, Status: resp.Status}
	}

	var body io.Reader = resp.Body
	if h.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, h.MaxBytes+1)
	}
	sum := sha256.New()
	data, err := io.ReadAll(io.TeeReader(body, sum))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	if h.MaxBytes > 0 && int64(len(data)) > h.MaxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrNetwork, h.MaxBytes)
	}

	if h.SHA256 != "" {
		actual := hex.EncodeToString(sum.Sum(nil))
		if !strings.EqualFold(actual, h.SHA256) {
			return nil, fmt.Errorf("%w for %s: expected %s got %s", ErrChecksumMismatch, locator, strings.ToLower(h.SHA256), actual)
		}
	}
	return data, nil
}

// Auto dispatches on the locator scheme: http and https go to HTTP,
// everything else to File.
type Auto struct {
	File File
	HTTP HTTP
}

func (a Auto) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if IsRemote(locator) {
		return a.HTTP.Fetch(ctx, locator)
	}
	return a.File.Fetch(ctx, locator)
}

func IsRemote(locator string) bool {
	lower := strings.ToLower(locator)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
