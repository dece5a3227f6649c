package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Supported market categories.
const (
	CategoryCrypto   = "CRYPTO"
	CategoryMacro    = "MACRO"
	CategoryElection = "ELECTION"
	CategorySports   = "SPORTS"
)

var validCategories = map[string]bool{
	CategoryCrypto:   true,
	CategoryMacro:    true,
	CategoryElection: true,
	CategorySports:   true,
}

// tickerRegex matches: ATMX-{category}-{slug}-{YYYYMMDD}
// Example: ATMX-CRYPTO-BTC100K-20260131
var tickerRegex = regexp.MustCompile(
	`^ATMX-([A-Z]+)-([0-9A-Z]+)-(\d{8})$`,
)

var (
	ErrInvalidTicker   = errors.New("model: invalid ticker format")
	ErrInvalidCategory = errors.New("model: unsupported market category")
)

// Instrument is a parsed market ticker.
type Instrument struct {
	Ticker     string    `json:"ticker"`
	Category   string    `json:"category"`
	Slug       string    `json:"slug"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// ParseTicker parses and validates a market ticker string.
// Format: ATMX-{category}-{slug}-{YYYYMMDD}
func ParseTicker(ticker string) (*Instrument, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected ATMX-{category}-{slug}-{YYYYMMDD})",
			ErrInvalidTicker, ticker)
	}

	category := matches[1]
	slug := matches[2]
	dateStr := matches[3]

	if !validCategories[category] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}

	expiry, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, dateStr)
	}

	return &Instrument{
		Ticker:     ticker,
		Category:   category,
		Slug:       slug,
		ExpiryDate: expiry,
	}, nil
}
