package fetcher

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tariff-map/internal/resilience"
)

// HTTPOptions configures a Localizer.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Retry     resilience.RetryConfig
	// Limiter paces requests across all hosts. Nil means 5 req/s.
	Limiter *rate.Limiter
}

// Localizer turns file references that may be http(s) URLs into local
// paths. Downloads are cached in a directory and revalidated by ETag, so a
// reload re-fetches only files that changed.
type Localizer struct {
	dir    string
	client *http.Client
	opts   HTTPOptions

	mu    sync.Mutex
	etags map[string]string
}

// NewLocalizer caches downloads under dir.
func NewLocalizer(dir string, opts HTTPOptions) *Localizer {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tariff-map/1.0"
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(5, 5)
	}
	return &Localizer{
		dir:    dir,
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		etags:  make(map[string]string),
	}
}

// IsURL reports whether ref is an http(s) or ftp URL.
func IsURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp"
}

// Localize returns ref unchanged when it is not a URL, otherwise a local
// copy of it.
func (l *Localizer) Localize(ctx context.Context, ref string) (string, error) {
	if !IsURL(ref) {
		return ref, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create cache dir")
	}
	dest := filepath.Join(l.dir, cacheName(ref))

	cfg := l.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(ref)
	}
	download := l.download
	if strings.HasPrefix(ref, "ftp://") {
		download = l.downloadFTP
	}
	_, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, download(ctx, ref, dest)
	})
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", ref)
	}
	return dest, nil
}

func (l *Localizer) download(ctx context.Context, ref, dest string) error {
	if err := l.opts.Limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)

	l.mu.Lock()
	etag := l.etags[ref]
	l.mu.Unlock()
	if etag != "" {
		if _, statErr := os.Stat(dest); statErr == nil {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotModified:
		zap.L().Debug("fetcher: cached copy is current", zap.String("url", ref))
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resilience.Transient(eris.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return eris.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp) //nolint:gosec
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return resilience.Transient(eris.Wrap(err, "write file"))
	}
	if err := out.Close(); err != nil {
		return eris.Wrap(err, "close file")
	}
	if err := os.Rename(tmp, dest); err != nil {
		return eris.Wrap(err, "rename file")
	}

	l.mu.Lock()
	l.etags[ref] = resp.Header.Get("ETag")
	l.mu.Unlock()
	return nil
}

// cacheName keeps the URL's base name, for extension sniffing, behind a
// hash prefix that keeps distinct URLs apart.
func cacheName(ref string) string {
	sum := sha1.Sum([]byte(ref)) //nolint:gosec
	base := "download"
	if u, err := url.Parse(ref); err == nil {
		if b := path.Base(u.Path); b != "." && b != "/" {
			base = b
		}
	}
	return hex.EncodeToString(sum[:6]) + "-" + strings.ReplaceAll(base, string(os.PathSeparator), "_")
}
