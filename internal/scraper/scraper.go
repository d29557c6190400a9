package scraper

import (
	"context"
	"errors"
	"net/url"

	"github.com/maltedev/yellowpages-scraper/internal/fetch"
	"github.com/maltedev/yellowpages-scraper/internal/session"
)

var ErrInvalidQuery = errors.New("invalid search query")

// Fetcher is the session-aware HTTP client the driver pages through.
type Fetcher interface {
	WarmUp(ctx context.Context, target string) session.Identity
	Fetch(ctx context.Context, rawURL string, params url.Values, allowFallback bool) (string, error)
	Stats() fetch.Stats
}

// Pacer spaces page fetches and reacts to blocking.
type Pacer interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordBlock()
}

// Options configures a SearchScraper. MaxPages bounds what a single search
// may request.
type Options struct {
	BaseURL  string
	MaxPages int
}
