package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseTicker_Valid(t *testing.T) {
	inst, err := ParseTicker("ATMX-CRYPTO-BTC100K-20260131")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Category != CategoryCrypto {
		t.Errorf("category = %s, want CRYPTO", inst.Category)
	}
	if inst.Slug != "BTC100K" {
		t.Errorf("slug = %s, want BTC100K", inst.Slug)
	}
	want := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	if !inst.ExpiryDate.Equal(want) {
		t.Errorf("expiry = %v, want %v", inst.ExpiryDate, want)
	}
}

func TestParseTicker_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		ticker string
		err    error
	}{
		{"missing prefix", "CRYPTO-BTC100K-20260131", ErrInvalidTicker},
		{"lowercase slug", "ATMX-CRYPTO-btc100k-20260131", ErrInvalidTicker},
		{"bad date length", "ATMX-CRYPTO-BTC100K-2026013", ErrInvalidTicker},
		{"unknown category", "ATMX-WEATHER-RAIN25MM-20260131", ErrInvalidCategory},
		{"impossible date", "ATMX-MACRO-CPI3PCT-20261345", ErrInvalidTicker},
		{"empty", "", ErrInvalidTicker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTicker(tt.ticker)
			if !errors.Is(err, tt.err) {
				t.Errorf("ParseTicker(%q) error = %v, want %v", tt.ticker, err, tt.err)
			}
		})
	}
}

func TestDirection_Sign(t *testing.T) {
	if DirectionLong.Sign().IntPart() != 1 {
		t.Error("long sign should be +1")
	}
	if DirectionShort.Sign().IntPart() != -1 {
		t.Error("short sign should be -1")
	}
}

func TestDirection_Valid(t *testing.T) {
	if !DirectionLong.Valid() || !DirectionShort.Valid() {
		t.Error("known directions should be valid")
	}
	if Direction("SIDEWAYS").Valid() {
		t.Error("unknown direction should be invalid")
	}
}
