// Package fetch retrieves source artifacts.
//
// HTTP and HTTPS go through a gocolly-backed fetcher; file:// URLs are
// read straight from disk (fixtures, offline re-ingest). Politeness —
// robots.txt and the per-source minimum delay — lives in this package
// too, but is applied by the collector, not buried in the transport.
package fetch

import (
	"mime"
	"net/http"
	"time"
)

// Request names one artifact to retrieve.
type Request struct {
	SourceID string
	URL      string
	Headers  http.Header
}

// Response carries the origin bytes exactly as received.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// MIMEType extracts the media type from the Content-Type header,
// without parameters. Unknown or malformed types degrade to
// application/octet-stream.
func (r Response) MIMEType() string {
	ct := r.Headers.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
