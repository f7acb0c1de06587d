// Package source fetches raw RSS content from arXiv feed endpoints.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/scipush/scipush/internal/core/errors"
)

const (
	defaultTimeout  = 30 * time.Second
	maxFeedBytes    = 10 * 1024 * 1024 // 10MB
	headerUserAgent = "User-Agent"
	unknownSourceID = "arxiv.unknown"
	sourceIDPrefix  = "arxiv."
)

var errHTTPStatus = errors.New("unexpected HTTP status")

// Feed fetches raw RSS XML for a single arXiv category feed.
type Feed struct {
	url        string
	sourceID   string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Feed.
type Option func(*Feed)

// WithTimeout overrides the default fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Feed) { f.httpClient.Timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Feed) { f.userAgent = ua }
}

// WithSourceID overrides the URL-derived source identifier.
func WithSourceID(id string) Option {
	return func(f *Feed) { f.sourceID = id }
}

// NewFeed creates a feed source for the given URL. The source identifier
// defaults to the URL's category segment, e.g.
// https://rss.arxiv.org/rss/cs.AI -> arxiv.cs.AI.
func NewFeed(url string, opts ...Option) *Feed {
	f := &Feed{
		url:        url,
		sourceID:   deriveSourceID(url),
		userAgent:  "scipush/1.0 (arXiv RSS reader)",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// SourceID returns the unique identifier for this feed.
func (f *Feed) SourceID() string { return f.sourceID }

// URL returns the feed URL.
func (f *Feed) URL() string { return f.url }

// FetchRaw downloads the raw feed XML. Failures are returned as a typed
// FetchError carrying the source identifier; there is no retry here.
func (f *Feed) FetchRaw(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", apperrors.NewFetchError(f.sourceID, err)
	}

	req.Header.Set(headerUserAgent, f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewFetchError(f.sourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewFetchError(f.sourceID, fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", apperrors.NewFetchError(f.sourceID, err)
	}

	return string(body), nil
}

func deriveSourceID(url string) string {
	trimmed := strings.TrimRight(url, "/")

	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return unknownSourceID
	}

	return sourceIDPrefix + trimmed[idx+1:]
}
