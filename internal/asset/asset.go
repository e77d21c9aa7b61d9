// Package asset defines the fungible-token capability the ledger consumes.
// The token itself lives outside the ledger; MemoryToken is a stand-in for
// tests and local simulation.
package asset

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance   = errors.New("asset: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
	ErrInvalidAmount         = errors.New("asset: amount must be positive")
	ErrZeroAddress           = errors.New("asset: transfer involving the zero address")
)

// FungibleAsset is an account-based balance store with escrow semantics.
type FungibleAsset interface {
	// Address identifies the token.
	Address() common.Address

	// Decimals is the fixed precision of the token.
	Decimals() int32

	// BalanceOf returns the balance held by id.
	BalanceOf(ctx context.Context, id common.Address) (decimal.Decimal, error)

	// Allowance returns how much spender may pull from owner.
	Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error)

	// Pull moves amount from owner to spender, consuming allowance.
	Pull(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error

	// Push moves amount from one holder to another.
	Push(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}

// Directory maps token addresses to the assets the ledger may escrow.
// It is populated at startup and read-only afterwards.
type Directory struct {
	assets map[common.Address]FungibleAsset
}

// NewDirectory returns a directory holding the given assets.
func NewDirectory(assets ...FungibleAsset) *Directory {
	d := &Directory{assets: make(map[common.Address]FungibleAsset, len(assets))}
	for _, a := range assets {
		d.assets[a.Address()] = a
	}
	return d
}

// Lookup returns the asset registered under addr.
func (d *Directory) Lookup(addr common.Address) (FungibleAsset, bool) {
	if d == nil {
		return nil, false
	}
	a, ok := d.assets[addr]
	return a, ok
}
