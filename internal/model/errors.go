package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every ledger failure unwraps to exactly one of these.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidTrader     = errors.New("invalid trader")
	ErrInvalidCaller     = errors.New("invalid caller")
	ErrInvalidAsset      = errors.New("invalid asset")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrAlreadyRegistered = errors.New("trader already registered")
	ErrNotRegistered     = errors.New("trader not registered")
	ErrVaultNotFound     = errors.New("vault not found")
)

// Error describes a rejected ledger call: which operation, which kind of
// failure and which input or state field caused it.
type Error struct {
	Op     string // e.g. "vault.deposit"
	Kind   error  // one of the Err* kinds above
	Field  string // offending field, e.g. "caller", "amount", "status"
	Detail string
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// Fail builds an *Error.
func Fail(op string, kind error, field, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind of err, or nil if err is not a ledger error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// KindName returns a short label for the kind of err, used as a metric label.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalidState:
		return "invalid_state"
	case ErrInvalidAmount:
		return "invalid_amount"
	case ErrInvalidTrader:
		return "invalid_trader"
	case ErrInvalidCaller:
		return "invalid_caller"
	case ErrInvalidAsset:
		return "invalid_asset"
	case ErrInsufficientFunds:
		return "insufficient_funds"
	case ErrNothingToWithdraw:
		return "nothing_to_withdraw"
	case ErrAlreadyRegistered:
		return "already_registered"
	case ErrNotRegistered:
		return "not_registered"
	case ErrVaultNotFound:
		return "vault_not_found"
	}
	return "other"
}
