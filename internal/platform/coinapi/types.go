package coinapi

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// APIAsset is an asset record as returned by GET /assets.
type APIAsset struct {
	AssetID      string          `json:"asset_id"`
	Name         string          `json:"name"`
	TypeIsCrypto int             `json:"type_is_crypto"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
}

// ToDomainAsset converts the API record.
func (a APIAsset) ToDomainAsset() domain.Asset {
	return domain.Asset{
		Code:     strings.ToUpper(a.AssetID),
		IsCrypto: a.TypeIsCrypto == 1,
		PriceUSD: a.PriceUSD,
	}
}
