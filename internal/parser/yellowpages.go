package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/yellowpages-scraper/internal/models"
)

const (
	resultSelector     = ".result"
	nameSelector       = "a.business-name span"
	phoneSelector      = ".phones"
	addressSelector    = ".street-address"
	localitySelector   = ".locality"
	paginationSelector = ".pagination li a"
)

type YellowPagesParser struct{}

func NewYellowPagesParser() *YellowPagesParser {
	return &YellowPagesParser{}
}

// ParseSearchResults returns one listing per result card in document order.
func (p *YellowPagesParser) ParseSearchResults(html string) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	listings := make([]models.Listing, 0)
	doc.Find(resultSelector).Each(func(_ int, card *goquery.Selection) {
		listings = append(listings, models.Listing{
			Name:     p.text(card, nameSelector),
			Phone:    p.text(card, phoneSelector),
			Address:  p.text(card, addressSelector),
			Locality: p.text(card, localitySelector),
		})
	})

	return listings, nil
}

// ExtractTotalPages returns the highest numeric pagination link, or 1 when
// there is none.
func (p *YellowPagesParser) ExtractTotalPages(html string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 1, fmt.Errorf("failed to parse HTML: %w", err)
	}

	last := 1
	doc.Find(paginationSelector).Each(func(_ int, link *goquery.Selection) {
		n, err := strconv.Atoi(strings.TrimSpace(link.Text()))
		if err != nil {
			return
		}
		if n > last {
			last = n
		}
	})

	return last, nil
}

// text returns the trimmed text of the first match, nil when absent.
func (p *YellowPagesParser) text(s *goquery.Selection, selector string) *string {
	node := s.Find(selector).First()
	if node.Length() == 0 {
		return nil
	}
	return models.StringPtr(strings.TrimSpace(node.Text()))
}
