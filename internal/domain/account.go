package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Guest is the identity carried by unauthenticated sessions.
const Guest = "guest"

// Account is a registered wallet. The JSON field names match the users file
// written by earlier releases so existing files keep loading.
type Account struct {
	Username       string          `json:"username"`
	PasswordDigest string          `json:"password"`
	Holdings       Holdings        `json:"portfolio"`
	Balance        decimal.Decimal `json:"balance"`
}

// MarshalJSON writes the balance as a bare JSON number, as the users file
// always has.
func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username       string      `json:"username"`
		PasswordDigest string      `json:"password"`
		Holdings       Holdings    `json:"portfolio"`
		Balance        json.Number `json:"balance"`
	}{
		Username:       a.Username,
		PasswordDigest: a.PasswordDigest,
		Holdings:       a.Holdings,
		Balance:        json.Number(a.Balance.String()),
	})
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() Account {
	return Account{
		Username:       a.Username,
		PasswordDigest: a.PasswordDigest,
		Holdings:       a.Holdings.Clone(),
		Balance:        a.Balance,
	}
}

// Position is a held quantity of one asset plus the USD paid for it.
type Position struct {
	Code      string          `json:"code"`
	Quantity  decimal.Decimal `json:"cryptoAmount"`
	CostBasis decimal.Decimal `json:"totalPrice"`
}

// MarshalJSON writes the amounts as bare JSON numbers.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code      string      `json:"code"`
		Quantity  json.Number `json:"cryptoAmount"`
		CostBasis json.Number `json:"totalPrice"`
	}{
		Code:      p.Code,
		Quantity:  json.Number(p.Quantity.String()),
		CostBasis: json.Number(p.CostBasis.String()),
	})
}

// Holdings maps asset codes to positions, preserving first-purchase order.
// The zero value is an empty set of holdings.
type Holdings struct {
	order  []string
	byCode map[string]*Position
}

// Len returns the number of open positions.
func (h *Holdings) Len() int {
	return len(h.order)
}

// Get returns the position for code.
func (h *Holdings) Get(code string) (Position, bool) {
	p, ok := h.byCode[code]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Add accumulates qty and cost into the position for code, opening it if
// needed, and returns the updated position.
func (h *Holdings) Add(code string, qty, cost decimal.Decimal) Position {
	if h.byCode == nil {
		h.byCode = make(map[string]*Position)
	}
	p, ok := h.byCode[code]
	if !ok {
		p = &Position{Code: code}
		h.byCode[code] = p
		h.order = append(h.order, code)
	}
	p.Quantity = p.Quantity.Add(qty)
	p.CostBasis = p.CostBasis.Add(cost)
	return *p
}

// Remove closes the position for code and returns what it held.
func (h *Holdings) Remove(code string) (Position, bool) {
	p, ok := h.byCode[code]
	if !ok {
		return Position{}, false
	}
	delete(h.byCode, code)
	for i, c := range h.order {
		if c == code {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return *p, true
}

// Codes returns the held asset codes in first-purchase order.
func (h *Holdings) Codes() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Positions returns copies of the open positions in first-purchase order.
func (h *Holdings) Positions() []Position {
	out := make([]Position, 0, len(h.order))
	for _, code := range h.order {
		out = append(out, *h.byCode[code])
	}
	return out
}

// Clone returns an independent copy.
func (h *Holdings) Clone() Holdings {
	var c Holdings
	for _, p := range h.Positions() {
		c.Add(p.Code, p.Quantity, p.CostBasis)
	}
	return c
}

// MarshalJSON writes the holdings as an object keyed by code, in
// first-purchase order.
func (h Holdings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, code := range h.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(code)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(h.byCode[code])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keyed by code, keeping the key order of the
// document as the purchase order.
func (h *Holdings) UnmarshalJSON(data []byte) error {
	*h = Holdings{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("holdings: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("holdings: expected string key, got %v", tok)
		}
		var p Position
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("holdings: position %s: %w", key, err)
		}
		if p.Code == "" {
			p.Code = key
		}
		h.Add(p.Code, p.Quantity, p.CostBasis)
	}
	_, err = dec.Token()
	return err
}
