package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/ledger"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
)

func (d *Dispatcher) register(ctx context.Context, username, password string) Response {
	acct, err := d.accounts.Register(username, password)
	switch {
	case errors.Is(err, domain.ErrUsernameTaken):
		return fail(domain.Guest, msgUsernameTaken)
	case errors.Is(err, domain.ErrIllegalUsername):
		return fail(domain.Guest, msgUsernameIllegal)
	case err != nil:
		d.logger.ErrorContext(ctx, "register failed", slog.String("error", err.Error()))
		return fail(domain.Guest, msgUnknownCommand)
	}

	d.logger.InfoContext(ctx, "account registered", slog.String("username", acct.Username))
	d.audit(ctx, EventRegistered, map[string]any{"username": acct.Username})
	return succeed(acct.Username, fmt.Sprintf(msgRegistered, acct.Username))
}

func (d *Dispatcher) login(username, password string) Response {
	acct, err := d.accounts.Login(username, password)
	if err != nil {
		d.logger.Debug("login rejected", slog.String("username", username))
		return fail(domain.Guest, msgBadCredentials)
	}
	d.logger.Debug("login",
		slog.String("username", acct.Username),
		slog.Int("sessions", d.accounts.Sessions(acct.Username)),
	)
	return succeed(acct.Username, fmt.Sprintf(msgLoggedIn, acct.Username))
}

func (d *Dispatcher) logout(acct *domain.Account) Response {
	if err := d.accounts.Logout(acct.Username); err != nil {
		return fail(domain.Guest, msgAlreadyLoggedOut)
	}
	return succeed(domain.Guest, msgLoggedOut)
}

func (d *Dispatcher) quit(acct *domain.Account) Response {
	if d.accounts.IsLoggedIn(acct.Username) {
		_ = d.accounts.Logout(acct.Username)
	}
	return succeed(domain.Guest, msgDisconnected)
}

func (d *Dispatcher) deposit(ctx context.Context, acct *domain.Account, raw string) Response {
	amount, msg := parseAmount(raw, msgDepositNotNumber, msgDepositNotPositive)
	if msg != "" {
		return fail(acct.Username, msg)
	}
	if err := ledger.Deposit(acct, amount); err != nil {
		return fail(acct.Username, msgDepositNotPositive)
	}

	d.audit(ctx, EventDeposited, map[string]any{
		"username": acct.Username,
		"amount":   amount.String(),
		"balance":  acct.Balance.String(),
	})
	return succeed(acct.Username, fmt.Sprintf(msgDeposited, acct.Balance.StringFixed(4)))
}

func (d *Dispatcher) listOfferings(ctx context.Context, acct *domain.Account, quotes quote.Quotes) Response {
	offerings, err := quotes.Offerings(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "listing offerings failed", slog.String("error", err.Error()))
		return fail(acct.Username, msgSourceUnavailable)
	}

	var b strings.Builder
	b.WriteString(msgListingHeader)
	for i, q := range offerings {
		fmt.Fprintf(&b, msgListingLine, i+1, q.Code, q.Price.StringFixed(6))
	}
	return succeed(acct.Username, b.String())
}

func (d *Dispatcher) buy(ctx context.Context, acct *domain.Account, code, raw string, quotes quote.Quotes) Response {
	amount, msg := parseAmount(raw, msgPurchaseNotNumber, msgPurchaseNotPositive)
	if msg != "" {
		return fail(acct.Username, msg)
	}

	price, err := quotes.Price(ctx, code)
	if err != nil {
		return fail(acct.Username, d.quoteFailure(ctx, code, err))
	}

	purchase, err := ledger.Buy(acct, code, amount, price)
	if err != nil {
		return fail(acct.Username, ledgerFailure(err))
	}

	d.audit(ctx, EventBought, map[string]any{
		"username": acct.Username,
		"code":     purchase.Code,
		"quantity": purchase.Quantity.String(),
		"spent":    purchase.Spent.String(),
		"price":    purchase.Price.String(),
	})
	return succeed(acct.Username, fmt.Sprintf(msgPurchased,
		purchase.Quantity.StringFixed(4), purchase.Code, purchase.Spent.StringFixed(6)))
}

func (d *Dispatcher) sell(ctx context.Context, acct *domain.Account, code string, quotes quote.Quotes) Response {
	if _, held := acct.Holdings.Get(code); !held {
		return fail(acct.Username, msgNotInvested)
	}

	price, err := quotes.Price(ctx, code)
	if err != nil {
		return fail(acct.Username, d.quoteFailure(ctx, code, err))
	}

	sale, err := ledger.Sell(acct, code, price)
	if err != nil {
		return fail(acct.Username, ledgerFailure(err))
	}

	d.audit(ctx, EventSold, map[string]any{
		"username": acct.Username,
		"code":     sale.Code,
		"quantity": sale.Quantity.String(),
		"proceeds": sale.Proceeds.String(),
		"price":    sale.Price.String(),
	})
	return succeed(acct.Username, fmt.Sprintf(msgSold,
		sale.Quantity.StringFixed(4), sale.Code, sale.Proceeds.StringFixed(6)))
}

func (d *Dispatcher) summary(acct *domain.Account) Response {
	return succeed(acct.Username, ledger.Summary(acct))
}

func (d *Dispatcher) overallSummary(ctx context.Context, acct *domain.Account, quotes quote.Quotes) Response {
	prices := make(map[string]decimal.Decimal, acct.Holdings.Len())
	if acct.Holdings.Len() > 0 {
		quoted, err := quotes.Prices(ctx, acct.Holdings.Codes())
		if err != nil {
			return fail(acct.Username, d.quoteFailure(ctx, "", err))
		}
		for _, q := range quoted {
			prices[q.Code] = q.Price
		}
	}
	return succeed(acct.Username, ledger.OverallSummary(acct, prices))
}

func (d *Dispatcher) saveUsers(ctx context.Context, acct *domain.Account) Response {
	if d.saver == nil {
		return fail(acct.Username, msgSaveFailed)
	}

	snapshot := d.accounts.Snapshot()
	if err := d.saver.SaveUsers(ctx, snapshot); err != nil {
		d.logger.ErrorContext(ctx, "saving users failed",
			slog.String("requested_by", acct.Username),
			slog.String("error", err.Error()),
		)
		return fail(acct.Username, msgSaveFailed)
	}

	d.logger.InfoContext(ctx, "users saved",
		slog.String("requested_by", acct.Username),
		slog.Int("accounts", len(snapshot)),
	)
	d.audit(ctx, EventUsersSaved, map[string]any{
		"requested_by": acct.Username,
		"accounts":     len(snapshot),
	})
	return succeed(acct.Username, msgSaved)
}

// Amounts are bounded before any arithmetic: rescaling a decimal with an
// extreme exponent costs time proportional to the exponent, and it would
// run on the control loop.
const (
	maxAmountLen      = 40
	maxAmountExponent = 18
)

// parseAmount returns the amount or the message to reject it with.
func parseAmount(raw, notNumber, notPositive string) (decimal.Decimal, string) {
	if len(raw) > maxAmountLen {
		return decimal.Zero, notNumber
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, notNumber
	}
	if exp := amount.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return decimal.Zero, notNumber
	}
	if !amount.IsPositive() {
		return decimal.Zero, notPositive
	}
	return amount, ""
}

func (d *Dispatcher) quoteFailure(ctx context.Context, code string, err error) string {
	if errors.Is(err, domain.ErrAssetNotFound) {
		return msgCurrencyNotFound
	}
	if errors.Is(err, domain.ErrInvalidPrice) {
		return msgInvalidPrice
	}
	d.logger.WarnContext(ctx, "quote lookup failed",
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	return msgSourceUnavailable
}

func ledgerFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return msgInsufficientFunds
	case errors.Is(err, domain.ErrNotInvested):
		return msgNotInvested
	case errors.Is(err, domain.ErrInvalidPrice):
		return msgInvalidPrice
	case errors.Is(err, domain.ErrInvalidAmount):
		return msgPurchaseNotPositive
	default:
		return msgCurrencyNotFound
	}
}
