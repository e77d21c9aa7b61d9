package asset

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MemoryToken implements FungibleAsset with in-memory maps. Used for testing
// and simulation. Amounts finer than the token precision are rejected.
type MemoryToken struct {
	mu         sync.RWMutex
	address    common.Address
	symbol     string
	decimals   int32
	supply     decimal.Decimal
	balances   map[common.Address]decimal.Decimal
	allowances map[common.Address]map[common.Address]decimal.Decimal

	// FailPush, when set, is returned by the next Push and then cleared.
	FailPush error
}

// NewMemoryToken creates an empty token.
func NewMemoryToken(address common.Address, symbol string, decimals int32) *MemoryToken {
	return &MemoryToken{
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]decimal.Decimal),
	}
}

func (t *MemoryToken) Address() common.Address { return t.address }
func (t *MemoryToken) Decimals() int32         { return t.decimals }
func (t *MemoryToken) Symbol() string          { return t.symbol }

// TotalSupply returns the sum of all minted tokens.
func (t *MemoryToken) TotalSupply() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply
}

// Mint credits amount to the holder.
func (t *MemoryToken) Mint(to common.Address, amount decimal.Decimal) error {
	if err := t.check(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = t.balances[to].Add(amount)
	t.supply = t.supply.Add(amount)
	return nil
}

// Approve sets the allowance spender may pull from owner.
func (t *MemoryToken) Approve(owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
	return nil
}

func (t *MemoryToken) BalanceOf(_ context.Context, id common.Address) (decimal.Decimal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[id], nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender], nil
}

func (t *MemoryToken) Pull(_ context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	if err := t.check(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowances[owner][spender]
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: allowed %s, requested %s", ErrInsufficientAllowance, allowed, amount)
	}
	if err := t.move(owner, spender, amount); err != nil {
		return err
	}
	t.allowances[owner][spender] = allowed.Sub(amount)
	return nil
}

func (t *MemoryToken) Push(_ context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := t.check(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailPush != nil {
		err := t.FailPush
		t.FailPush = nil
		return err
	}
	return t.move(from, to, amount)
}

// move transfers between holders. Caller holds t.mu.
func (t *MemoryToken) move(from, to common.Address, amount decimal.Decimal) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	bal := t.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, bal, amount)
	}
	t.balances[from] = bal.Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}

func (t *MemoryToken) check(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(t.decimals)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}
