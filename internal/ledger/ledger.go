// Package ledger applies wallet operations to accounts. Callers own the
// account and must not share it across goroutines while an operation runs.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// Purchase describes a completed buy.
type Purchase struct {
	Code     string
	Quantity decimal.Decimal
	Spent    decimal.Decimal
	Price    decimal.Decimal
}

// Sale describes a completed sell.
type Sale struct {
	Code     string
	Quantity decimal.Decimal
	Proceeds decimal.Decimal
	Price    decimal.Decimal
}

// Deposit credits amount to the account balance.
func Deposit(acct *domain.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	acct.Balance = acct.Balance.Add(amount)
	return nil
}

// Buy spends amount USD on code at price. The balance is debited by amount
// and the position for code grows by amount/price units and amount of cost
// basis.
func Buy(acct *domain.Account, code string, amount, price decimal.Decimal) (Purchase, error) {
	if code == "" {
		return Purchase{}, domain.ErrAssetNotFound
	}
	if !amount.IsPositive() {
		return Purchase{}, domain.ErrInvalidAmount
	}
	if !price.IsPositive() {
		return Purchase{}, domain.ErrInvalidPrice
	}
	if amount.GreaterThan(acct.Balance) {
		return Purchase{}, domain.ErrInsufficientFunds
	}

	qty := amount.Div(price)
	acct.Balance = acct.Balance.Sub(amount)
	acct.Holdings.Add(code, qty, amount)

	return Purchase{Code: code, Quantity: qty, Spent: amount, Price: price}, nil
}

// Sell liquidates the whole position in code at price and credits the
// proceeds to the balance.
func Sell(acct *domain.Account, code string, price decimal.Decimal) (Sale, error) {
	pos, ok := acct.Holdings.Get(code)
	if !ok {
		return Sale{}, domain.ErrNotInvested
	}
	if !price.IsPositive() {
		return Sale{}, domain.ErrInvalidPrice
	}

	acct.Holdings.Remove(code)
	proceeds := pos.Quantity.Mul(price)
	acct.Balance = acct.Balance.Add(proceeds)

	return Sale{Code: code, Quantity: pos.Quantity, Proceeds: proceeds, Price: price}, nil
}
