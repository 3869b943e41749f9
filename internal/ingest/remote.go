package ingest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/resilience"
)

// HTTPOptions configures the remote fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps a downloaded body; 0 means 64 MiB.
	MaxBytes int64
	// RateLimit is requests per second per host; 0 means unlimited.
	RateLimit float64
	Retry     resilience.RetryConfig
}

const defaultMaxDownload = 64 << 20

// Fetcher downloads record files published over HTTP.
type Fetcher struct {
	opts   HTTPOptions
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher with the given options.
func NewFetcher(opts HTTPOptions) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "tariff-cli/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxDownload
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("ingest download")
	}
	return &Fetcher{
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	limit := rate.Inf
	if f.opts.RateLimit > 0 {
		limit = rate.Limit(f.opts.RateLimit)
	}
	lim := rate.NewLimiter(limit, 1)
	f.limiters[host] = lim
	return lim
}

// Download fetches rawURL and returns the body. 429 and 5xx responses are
// retried; other non-200 statuses fail immediately.
func (f *Fetcher) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse url %s", rawURL)
	}
	lim := f.limiterFor(u.Host)

	return resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) ([]byte, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: get %s", rawURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, resilience.NewTransientError(eris.Errorf("ingest: http %d from %s", resp.StatusCode, rawURL))
		case resp.StatusCode != http.StatusOK:
			return nil, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read body from %s", rawURL)
		}
		if int64(len(data)) > f.opts.MaxBytes {
			return nil, eris.Errorf("ingest: %s exceeds %d bytes", rawURL, f.opts.MaxBytes)
		}
		return data, nil
	})
}

// Load downloads rawURL and decodes it by the extension of the URL path.
// Spreadsheets are staged in a temp file for the XLSX reader.
func (f *Fetcher) Load(ctx context.Context, rawURL string, opts Options) ([]model.RateRecord, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse url %s", rawURL)
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !Supported(u.Path) {
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}

	data, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("ingest: downloaded", zap.String("url", rawURL), zap.Int("bytes", len(data)))

	if ext != ".xlsx" {
		return decode(ext, data)
	}

	tmp, err := os.CreateTemp("", "tariff-*.xlsx")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, eris.Wrap(err, "ingest: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "ingest: close temp file")
	}
	return ReadXLSX(tmp.Name(), opts.SheetName)
}

// LoadLocation loads from an http(s) URL through f, or from a local file
// or directory.
func LoadLocation(ctx context.Context, location string, opts Options, f *Fetcher) ([]model.RateRecord, error) {
	if IsRemote(location) {
		if f == nil {
			f = NewFetcher(HTTPOptions{})
		}
		return f.Load(ctx, location, opts)
	}
	return LoadPath(location, opts)
}
