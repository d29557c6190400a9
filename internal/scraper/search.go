package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/identity"
	"github.com/maltedev/yellowpages-scraper/internal/models"
	"github.com/maltedev/yellowpages-scraper/internal/parser"
	"github.com/maltedev/yellowpages-scraper/internal/ratelimit"
)

const defaultMaxPages = 100

// BuildSearchURL returns the canonical search URL. Both values are
// form-encoded, spaces as '+'.
func BuildSearchURL(baseURL, terms, location string) string {
	if baseURL == "" {
		baseURL = identity.DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/search?search_terms=" + url.QueryEscape(terms) +
		"&geo_location_terms=" + url.QueryEscape(location)
}

// PageParams returns the query parameters selecting page n. Page 1 has none.
func PageParams(n int) url.Values {
	if n < 2 {
		return nil
	}
	return url.Values{"page": {strconv.Itoa(n)}}
}

type SearchScraper struct {
	fetcher Fetcher
	parser  parser.Parser
	pacer   Pacer
	opts    Options
	logger  *slog.Logger
}

func NewSearchScraper(f Fetcher, p parser.Parser, pacer Pacer, opts Options, logger *slog.Logger) *SearchScraper {
	if p == nil {
		p = parser.NewYellowPagesParser()
	}
	if pacer == nil {
		pacer = ratelimit.NewAdaptiveRateLimiter(0, 0)
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchScraper{
		fetcher: f,
		parser:  p,
		pacer:   pacer,
		opts:    opts,
		logger:  logger.With("component", "search"),
	}
}

// Search warms up once against the search URL, then fetches pages 1..pages.
// The pagination total on page 1 is recorded but does not shorten the run,
// since the site only links a window of pages. On failure the listings
// collected so far are returned together with the error.
func (s *SearchScraper) Search(ctx context.Context, terms, location string, pages int) (*models.SearchResult, error) {
	terms = strings.TrimSpace(terms)
	location = strings.TrimSpace(location)
	if terms == "" || location == "" {
		return nil, fmt.Errorf("%w: terms and location are required", ErrInvalidQuery)
	}
	if pages < 1 || pages > s.opts.MaxPages {
		return nil, fmt.Errorf("%w: pages must be between 1 and %d", ErrInvalidQuery, s.opts.MaxPages)
	}

	searchURL := BuildSearchURL(s.opts.BaseURL, terms, location)
	result := models.NewSearchResult(s.fetcher.Stats().RunID, terms, location, searchURL, pages)
	defer s.finish(result)

	s.logger.Info("starting search", "terms", terms, "location", location, "pages", pages)
	s.fetcher.WarmUp(ctx, searchURL)

	for page := 1; page <= pages; page++ {
		if err := s.pacer.Wait(ctx); err != nil {
			return result, err
		}

		fallbacks := s.fetcher.Stats().TotalFallbacks
		html, err := s.fetcher.Fetch(ctx, searchURL, PageParams(page), true)
		if err != nil {
			return result, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		if s.fetcher.Stats().TotalFallbacks > fallbacks {
			s.pacer.RecordBlock()
		} else {
			s.pacer.RecordSuccess()
		}

		if page == 1 {
			total, err := s.parser.ExtractTotalPages(html)
			if err != nil {
				s.logger.Warn("failed to read pagination", "error", err)
			}
			result.TotalPages = total
			s.logger.Info("pages available", "total", total)
			if total < pages {
				s.logger.Debug("pagination shows fewer pages than requested, fetching all requested",
					"shown", total, "requested", pages)
			}
		}

		listings, err := s.parser.ParseSearchResults(html)
		if err != nil {
			return result, fmt.Errorf("failed to parse page %d: %w", page, err)
		}
		for i := range listings {
			listings[i].Page = page
		}

		result.Listings = append(result.Listings, listings...)
		result.PagesFetched++
		s.logger.Info("page processed", "page", page, "listings", len(listings))
	}

	return result, nil
}

func (s *SearchScraper) finish(result *models.SearchResult) {
	stats := s.fetcher.Stats()
	result.Requests = stats.TotalRequests
	result.Fallbacks = stats.TotalFallbacks
	result.FinishedAt = time.Now()
	s.logger.Info("search finished",
		"listings", len(result.Listings),
		"pages", result.PagesFetched,
		"requests", stats.TotalRequests,
		"fallbacks", stats.TotalFallbacks,
		"duration", result.Duration(),
	)
}
