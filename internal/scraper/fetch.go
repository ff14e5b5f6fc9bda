package scraper

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
)

const (
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	Timeout   = 30 * time.Second

	// maxBodySize caps how much of a response is read.
	maxBodySize = 32 << 20
)

// DefaultHeaders are sent with every request.
var DefaultHeaders = map[string]string{
	"User-Agent":      UserAgent,
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Accept-Encoding": "gzip, deflate, br",
	"Connection":      "keep-alive",
}

// FetchError reports a failed page retrieval. StatusCode is zero for
// transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves regional listing pages.
type Fetcher struct {
	client  *http.Client
	headers map[string]string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.headers["User-Agent"] = ua
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewFetcher creates a Fetcher with the default headers and timeout.
func NewFetcher(opts ...Option) *Fetcher {
	headers := make(map[string]string, len(DefaultHeaders))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	f := &Fetcher{
		client:  &http.Client{Timeout: Timeout},
		headers: headers,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs a single GET of url and returns the page as UTF-8 text.
// There is no retry; any non-2xx status is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Message: "creating request", Err: err}
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Message: "reading body", Err: err}
	}

	// The transport only decodes gzip on its own when it set Accept-Encoding
	// itself, which it does not here.
	body, err := decompress(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Message: "decoding body", Err: err}
	}

	text, err := toUTF8(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Message: "decoding charset", Err: err}
	}
	return text, nil
}

func decompress(contentEncoding string, body []byte) ([]byte, error) {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fl := flate.NewReader(bytes.NewReader(body))
		defer fl.Close()
		r = fl
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		// Unknown encodings are passed through as-is.
		return body, nil
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", contentEncoding, err)
	}
	return out, nil
}

func toUTF8(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
