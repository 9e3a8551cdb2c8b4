package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")

	// Identity.
	ErrUsernameTaken      = errors.New("username already taken")
	ErrIllegalUsername    = errors.New("username contains illegal characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotLoggedIn        = errors.New("account has no active sessions")

	// Ledger.
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotInvested       = errors.New("no open position")

	// Quote source.
	ErrAssetNotFound     = errors.New("asset not found")
	ErrSourceUnavailable = errors.New("quote source unavailable")
)
