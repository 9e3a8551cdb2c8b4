package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one record reported by the quote source.
type Asset struct {
	Code     string
	IsCrypto bool
	PriceUSD decimal.Decimal
}

// Listable reports whether the asset belongs in the offerings listing.
func (a Asset) Listable() bool {
	return a.IsCrypto && !a.PriceUSD.IsZero()
}

// Quote is a price observation for one asset code.
type Quote struct {
	Code      string
	Price     decimal.Decimal
	FetchedAt time.Time
}
