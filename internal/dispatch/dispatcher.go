// Package dispatch turns command lines into wallet operations.
//
// A Dispatcher is not safe for concurrent use. It mutates the identity
// store and the accounts it holds, so the server calls it from one
// goroutine only.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/identity"
	"github.com/alanyoungcy/cryptowallet/internal/quote"
)

// Request is one command sent by a client. The JSON names are part of the
// wire contract.
type Request struct {
	Sender  string `json:"sender"`
	Command string `json:"command"`
}

// Response is the reply to a Request. Recipient is the identity the session
// carries after the command.
type Response struct {
	Successful bool   `json:"isSuccessful"`
	Recipient  string `json:"recipient"`
	Message    string `json:"resultMessage"`
}

// Saver persists a snapshot of every account.
type Saver interface {
	SaveUsers(ctx context.Context, accounts []domain.Account) error
}

// Auditor records account mutations. Implementations must not block.
type Auditor interface {
	Record(ctx context.Context, event string, detail map[string]any)
}

// Audit event names.
const (
	EventRegistered = "registered"
	EventDeposited  = "deposited"
	EventBought     = "bought"
	EventSold       = "sold"
	EventUsersSaved = "users_saved"
)

// Options tunes a Dispatcher.
type Options struct {
	// Operators may run save-users. Empty means every logged in account.
	Operators []string
}

// Dispatcher routes commands for guests and logged in accounts.
type Dispatcher struct {
	accounts  *identity.Store
	saver     Saver
	auditor   Auditor
	operators map[string]struct{}
	logger    *slog.Logger
}

// New creates a Dispatcher. saver and auditor may be nil.
func New(accounts *identity.Store, saver Saver, auditor Auditor, opts Options, logger *slog.Logger) *Dispatcher {
	ops := make(map[string]struct{}, len(opts.Operators))
	for _, name := range opts.Operators {
		ops[name] = struct{}{}
	}
	return &Dispatcher{
		accounts:  accounts,
		saver:     saver,
		auditor:   auditor,
		operators: ops,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch runs one command. quotes resolves any prices the command reads.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, quotes quote.Quotes) Response {
	args := strings.Fields(req.Command)
	if len(args) == 0 {
		return fail(d.identityOf(req.Sender), msgUnknownCommand)
	}

	acct, ok := d.user(req.Sender)
	if !ok {
		return d.dispatchGuest(ctx, args)
	}
	return d.dispatchUser(ctx, acct, args, quotes)
}

// QuoteNeeds reports the quotes Dispatch would read for req. It has no side
// effects.
func (d *Dispatcher) QuoteNeeds(req Request) quote.Need {
	acct, ok := d.user(req.Sender)
	if !ok {
		return quote.Need{}
	}
	args := strings.Fields(req.Command)
	if len(args) == 0 {
		return quote.Need{}
	}

	switch args[0] {
	case "list-offerings":
		if len(args) == 1 {
			return quote.Need{Listing: true}
		}
	case "buy":
		if len(args) != 3 {
			return quote.Need{}
		}
		if _, msg := parseAmount(args[2], msgPurchaseNotNumber, msgPurchaseNotPositive); msg != "" {
			return quote.Need{}
		}
		return quote.Need{Codes: []string{strings.ToUpper(args[1])}}
	case "sell":
		if len(args) != 2 {
			return quote.Need{}
		}
		code := strings.ToUpper(args[1])
		if _, held := acct.Holdings.Get(code); held {
			return quote.Need{Codes: []string{code}}
		}
	case "get-wallet-overall-summary":
		if len(args) == 1 && acct.Holdings.Len() > 0 {
			return quote.Need{Codes: acct.Holdings.Codes()}
		}
	}
	return quote.Need{}
}

// Disconnect releases the session of a client that went away without
// quitting.
func (d *Dispatcher) Disconnect(identity string) {
	if _, ok := d.user(identity); !ok {
		return
	}
	d.accounts.Release(identity)
	d.logger.Debug("session released", slog.String("username", identity))
}

func (d *Dispatcher) user(sender string) (*domain.Account, bool) {
	if sender == "" || sender == domain.Guest {
		return nil, false
	}
	return d.accounts.Account(sender)
}

func (d *Dispatcher) identityOf(sender string) string {
	if _, ok := d.user(sender); ok {
		return sender
	}
	return domain.Guest
}

func (d *Dispatcher) dispatchGuest(ctx context.Context, args []string) Response {
	switch args[0] {
	case "register":
		if len(args) != 3 {
			break
		}
		return d.register(ctx, args[1], args[2])
	case "login":
		if len(args) != 3 {
			break
		}
		return d.login(args[1], args[2])
	case "help":
		return help(domain.Guest, args)
	case "quit":
		if len(args) != 1 {
			break
		}
		return succeed(domain.Guest, msgDisconnected)
	}
	return fail(domain.Guest, msgUnknownCommand)
}

func (d *Dispatcher) dispatchUser(ctx context.Context, acct *domain.Account, args []string, quotes quote.Quotes) Response {
	switch verb := args[0]; verb {
	case "deposit-money":
		if len(args) != 2 {
			break
		}
		return d.deposit(ctx, acct, args[1])
	case "list-offerings":
		if len(args) != 1 {
			break
		}
		return d.listOfferings(ctx, acct, quotes)
	case "buy":
		if len(args) != 3 {
			break
		}
		return d.buy(ctx, acct, strings.ToUpper(args[1]), args[2], quotes)
	case "sell":
		if len(args) != 2 {
			break
		}
		return d.sell(ctx, acct, strings.ToUpper(args[1]), quotes)
	case "get-wallet-summary":
		if len(args) != 1 {
			break
		}
		return d.summary(acct)
	case "get-wallet-overall-summary":
		if len(args) != 1 {
			break
		}
		return d.overallSummary(ctx, acct, quotes)
	case "logout":
		if len(args) != 1 {
			break
		}
		return d.logout(acct)
	case "quit":
		if len(args) != 1 {
			break
		}
		return d.quit(acct)
	case "help":
		return help(acct.Username, args)
	case "save-users":
		if len(args) != 1 || !d.isOperator(acct.Username) {
			break
		}
		return d.saveUsers(ctx, acct)
	}
	return fail(acct.Username, msgUnknownCommand)
}

func (d *Dispatcher) isOperator(username string) bool {
	if len(d.operators) == 0 {
		return true
	}
	_, ok := d.operators[username]
	return ok
}

func (d *Dispatcher) audit(ctx context.Context, event string, detail map[string]any) {
	if d.auditor == nil {
		return
	}
	d.auditor.Record(ctx, event, detail)
}

func help(recipient string, args []string) Response {
	if len(args) != 2 {
		return fail(recipient, msgUnknownCommand)
	}
	text, found := Help(args[1])
	if !found {
		return fail(recipient, msgHelpUnknownTopic)
	}
	return succeed(recipient, text)
}

func succeed(recipient, msg string) Response {
	return Response{Successful: true, Recipient: recipient, Message: msg}
}

func fail(recipient, msg string) Response {
	return Response{Successful: false, Recipient: recipient, Message: msg}
}
