package parser

import (
	"github.com/maltedev/yellowpages-scraper/internal/models"
)

type Parser interface {
	ParseSearchResults(html string) ([]models.Listing, error)
	ExtractTotalPages(html string) (int, error)
}
