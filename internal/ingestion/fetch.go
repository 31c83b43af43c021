package ingestion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/54b3r/semsearch/internal/rag"
)

// DefaultMaxBytes caps the size of fetched content.
const DefaultMaxBytes = 10 << 20

// Fetcher retrieves the raw text behind a source location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, error)
}

// LocationFetcher resolves http(s)://, file://, data: and bare filesystem
// path locations. Failures wrap rag.ErrFetch unless ctx was cancelled.
type LocationFetcher struct {
	// client is used for http(s) locations.
	client *http.Client
	// userAgent is sent with http(s) requests.
	userAgent string
	// maxBytes bounds the content size for every scheme.
	maxBytes int64
}

// FetcherConfig configures a LocationFetcher.
type FetcherConfig struct {
	// HTTPTimeout bounds each http(s) fetch. Defaults to 30s.
	HTTPTimeout time.Duration
	// UserAgent defaults to "semsearch/1.0".
	UserAgent string
	// MaxBytes defaults to DefaultMaxBytes.
	MaxBytes int64
}

// NewLocationFetcher builds a LocationFetcher from cfg.
func NewLocationFetcher(cfg FetcherConfig) *LocationFetcher {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "semsearch/1.0 (content indexing)"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &LocationFetcher{
		client:    &http.Client{Timeout: cfg.HTTPTimeout},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
	}
}

// Fetch returns the UTF-8 text at location.
func (f *LocationFetcher) Fetch(ctx context.Context, location string) (string, error) {
	var (
		body []byte
		err  error
	)
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		body, err = f.fetchHTTP(ctx, location)
	case strings.HasPrefix(location, "data:"):
		body, err = decodeDataURI(location)
	default:
		var path string
		path, err = LocalPath(location)
		if err == nil {
			body, err = f.readFile(path)
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("fetch %s: %w", Redact(location), ctxErr)
		}
		return "", fmt.Errorf("%w: %s: %w", rag.ErrFetch, Redact(location), err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w: %s: content exceeds %d bytes", rag.ErrFetch, Redact(location), f.maxBytes)
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: %s: content is not valid UTF-8 text", rag.ErrFetch, Redact(location))
	}
	return string(body), nil
}

func (f *LocationFetcher) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", withoutURL(err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", withoutURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Read one byte past the cap so oversize content is detected, not truncated.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// withoutURL drops the request URL a *url.Error prints, since it can carry
// credentials in its query string. The cause is kept for errors.Is.
func withoutURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", strings.ToLower(ue.Op), ue.Err)
	}
	return err
}

func (f *LocationFetcher) readFile(path string) ([]byte, error) {
	fh, err := os.Open(path) //nolint:gosec // locations are registered by administrators
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return io.ReadAll(io.LimitReader(fh, f.maxBytes+1))
}

// LocalPath returns the filesystem path for a file:// URI or bare path, or
// an error for any other scheme.
func LocalPath(location string) (string, error) {
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("parsing file uri: %w", err)
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("remote file host %q is not supported", u.Host)
		}
		return u.Path, nil
	}
	if i := strings.Index(location, "://"); i > 0 {
		return "", fmt.Errorf("unsupported scheme %q", location[:i])
	}
	if location == "" {
		return "", errors.New("empty location")
	}
	return location, nil
}

// decodeDataURI decodes an RFC 2397 data: URI.
func decodeDataURI(location string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(location, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data uri: missing comma")
	}
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 data uri: %w", err)
		}
		return b, nil
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("unescaping data uri: %w", err)
	}
	return []byte(s), nil
}

// Redact drops userinfo and query strings from URLs and shortens data URIs
// so error messages recorded on a source never carry credentials or payloads.
func Redact(location string) string {
	if strings.HasPrefix(location, "data:") {
		return "data:…"
	}
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return location
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
