package models

import (
	"time"
)

// Listing is one business card from a search results page. A field is nil
// when its markup node is absent.
type Listing struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
	Locality *string `json:"locality"`
	Page     int     `json:"page"`
}

type SearchResult struct {
	RunID          string    `json:"run_id"`
	Terms          string    `json:"terms"`
	Location       string    `json:"location"`
	URL            string    `json:"url"`
	PagesRequested int       `json:"pages_requested"`
	PagesFetched   int       `json:"pages_fetched"`
	TotalPages     int       `json:"total_pages"`
	Listings       []Listing `json:"listings"`
	Requests       int64     `json:"requests"`
	Fallbacks      int64     `json:"fallbacks"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

func NewSearchResult(runID, terms, location, url string, pages int) *SearchResult {
	return &SearchResult{
		RunID:          runID,
		Terms:          terms,
		Location:       location,
		URL:            url,
		PagesRequested: pages,
		Listings:       make([]Listing, 0),
		StartedAt:      time.Now(),
	}
}

func (r *SearchResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func StringPtr(s string) *string {
	return &s
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (l Listing) IsEmpty() bool {
	return l.Name == nil && l.Phone == nil && l.Address == nil && l.Locality == nil
}
