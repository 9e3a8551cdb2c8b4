package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Valuation is a position marked to a current price.
type Valuation struct {
	domain.Position
	Value decimal.Decimal
	// Percent is the magnitude of the gain or loss relative to cost basis.
	Percent decimal.Decimal
	Loss    bool
}

// Value marks pos to price. A zero cost basis reports a 0% gain.
func Value(pos domain.Position, price decimal.Decimal) Valuation {
	v := Valuation{Position: pos, Value: pos.Quantity.Mul(price)}
	if pos.CostBasis.IsZero() {
		return v
	}
	ratio := v.Value.Div(pos.CostBasis).Mul(hundred)
	if v.Value.LessThan(pos.CostBasis) {
		v.Loss = true
		v.Percent = hundred.Sub(ratio)
	} else {
		v.Percent = ratio.Sub(hundred)
	}
	return v
}

// Summary renders the balance and open positions of acct.
func Summary(acct *domain.Account) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet summary of %s:\n", acct.Username)
	fmt.Fprintf(&b, "Current balance: $%s\n", acct.Balance.StringFixed(4))
	if acct.Holdings.Len() == 0 {
		b.WriteString("There are currently no active investments in your account.\n")
		return b.String()
	}
	for i, pos := range acct.Holdings.Positions() {
		writePosition(&b, i+1, pos)
		b.WriteByte('\n')
	}
	return b.String()
}

// OverallSummary renders Summary plus a valuation of each position. prices
// must hold a price for every held code.
func OverallSummary(acct *domain.Account, prices map[string]decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Complete wallet summary of %s:\n", acct.Username)
	fmt.Fprintf(&b, "Current balance: $%s\n", acct.Balance.StringFixed(4))
	if acct.Holdings.Len() == 0 {
		b.WriteString("There are currently no active investments in your account.\n")
		return b.String()
	}
	for i, pos := range acct.Holdings.Positions() {
		writePosition(&b, i+1, pos)
		v := Value(pos, prices[pos.Code])
		label := "Gain"
		if v.Loss {
			label = "Loss"
		}
		fmt.Fprintf(&b, ", Can sell for: $%s, %s: %s%%\n",
			v.Value.StringFixed(4), label, v.Percent.StringFixed(6))
	}
	return b.String()
}

func writePosition(b *strings.Builder, index int, pos domain.Position) {
	fmt.Fprintf(b, "%2d) Offering code: %4s, Amount purchased: %s, Money invested: $%s",
		index, pos.Code, pos.Quantity.StringFixed(4), pos.CostBasis.StringFixed(4))
}
