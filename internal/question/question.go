// Package question handles market ticker parsing and validation.
//
// ForecastHer markets are identified by a ticker that encodes the category,
// a short slug, and the close date:
//
//	FH-{CATEGORY}-{SLUG}-{YYYYMMDD}
//
// Example: FH-CULTURE-GRAMMYAOTY-20260201
package question

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Supported market categories.
const (
	CategoryCulture  = "CULTURE"
	CategorySports   = "SPORTS"
	CategoryPolitics = "POLITICS"
	CategoryMusic    = "MUSIC"
	CategoryTech     = "TECH"
)

var validCategories = map[string]bool{
	CategoryCulture:  true,
	CategorySports:   true,
	CategoryPolitics: true,
	CategoryMusic:    true,
	CategoryTech:     true,
}

// tickerRegex matches: FH-{CATEGORY}-{SLUG}-{YYYYMMDD}
var tickerRegex = regexp.MustCompile(`^FH-([A-Z]+)-([A-Z0-9]+)-(\d{8})$`)

var (
	ErrInvalidTicker   = errors.New("question: invalid ticker format")
	ErrInvalidCategory = errors.New("question: unsupported category")
)

// Question is a parsed market ticker.
type Question struct {
	Ticker   string    `json:"ticker"`
	Category string    `json:"category"`
	Slug     string    `json:"slug"`
	ClosesAt time.Time `json:"closes_at"`
}

// ParseTicker parses and validates a market ticker string.
// Format: FH-{CATEGORY}-{SLUG}-{YYYYMMDD}
func ParseTicker(ticker string) (*Question, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected FH-{CATEGORY}-{SLUG}-{YYYYMMDD})",
			ErrInvalidTicker, ticker)
	}

	category := matches[1]
	slug := matches[2]
	dateStr := matches[3]

	if !validCategories[category] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}

	closesAt, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, dateStr)
	}

	return &Question{
		Ticker:   ticker,
		Category: category,
		Slug:     slug,
		ClosesAt: closesAt,
	}, nil
}
