package fetch

import (
	"context"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
)

func init() {
	// Container images often lack /etc/mime.types; the primary source
	// format must always resolve.
	_ = mime.AddExtensionType(".csv", "text/csv")
}

// Config controls fetcher behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher retrieves artifacts using the Colly collector for http(s) and
// direct reads for file URLs.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Idempotent re-ingest hits the same URL again; revisits must not
	// be refused.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single GET. The scheme must be http, https or file.
func (f *Fetcher) Fetch(ctx context.Context, request Request) (Response, error) {
	parsed, err := url.Parse(request.URL)
	if err != nil {
		return Response{}, eris.Wrapf(err, "fetch: parse url %q", request.URL)
	}
	switch parsed.Scheme {
	case "file":
		return fetchFile(parsed)
	case "http", "https":
		return f.fetchHTTP(ctx, request)
	default:
		return Response{}, eris.Errorf("fetch: unsupported scheme %q", parsed.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, request Request) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	// Robots enforcement is an explicit policy check before Fetch is
	// called; the transport must not probe a second time.
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = eris.Wrapf(err, "fetch: http status %d", r.StatusCode)
			return
		}
		fetchErr = eris.Wrap(err, "fetch: request failed")
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return Response{}, eris.Wrap(ctx.Err(), "fetch: canceled")
	case err := <-done:
		if fetchErr != nil {
			return Response{}, fetchErr
		}
		if err != nil {
			return Response{}, eris.Wrap(err, "fetch: visit failed")
		}
		return result, nil
	}
}

func fetchFile(parsed *url.URL) (Response, error) {
	start := time.Now()
	path := parsed.Path
	if parsed.Host != "" {
		// file://host/path is not meaningful here; refuse rather than guess.
		return Response{}, eris.Errorf("fetch: file url with host %q", parsed.Host)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Response{}, eris.Wrapf(err, "fetch: read file %q", path)
	}

	headers := make(http.Header)
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		headers.Set("Content-Type", byExt)
	} else {
		headers.Set("Content-Type", "application/octet-stream")
	}
	return Response{
		URL:        parsed.String(),
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
