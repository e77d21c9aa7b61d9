// Package model defines the core domain types shared across the vault ledger.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// VaultStatus is the lifecycle state of a vault.
type VaultStatus string

const (
	StatusActive    VaultStatus = "Active"
	StatusCompleted VaultStatus = "Completed"
	StatusPaused    VaultStatus = "Paused"
)

// Terminal reports whether the status permits withdrawal.
func (s VaultStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusPaused
}

// Vault is one escrow position: a single deposit owned by Owner and traded
// by Trader. The trade log is stored separately, keyed by ID.
type Vault struct {
	ID             uint64          `json:"id" db:"id"`
	Address        common.Address  `json:"address" db:"address"`
	Owner          common.Address  `json:"owner" db:"owner"`
	Trader         common.Address  `json:"trader" db:"trader"`
	Asset          common.Address  `json:"asset" db:"asset"`
	InitialAmount  decimal.Decimal `json:"initial_amount" db:"initial_amount"`   // zero until the first deposit
	CurrentBalance decimal.Decimal `json:"current_balance" db:"current_balance"` // never negative
	Status         VaultStatus     `json:"status" db:"status"`
	StartTime      time.Time       `json:"start_time" db:"start_time"`
	EndTime        time.Time       `json:"end_time" db:"end_time"`
	TotalReturns   decimal.Decimal `json:"total_returns" db:"total_returns"` // signed, set on completion
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Funded reports whether the vault has taken its deposit.
func (v *Vault) Funded() bool {
	return v.InitialAmount.IsPositive()
}

// Returns is the signed profit or loss against the initial deposit.
func (v *Vault) Returns() decimal.Decimal {
	return v.CurrentBalance.Sub(v.InitialAmount)
}

// Trade is an immutable record of one trader action against a vault.
// IDs are sequential per vault, starting at 0.
type Trade struct {
	VaultID   uint64          `json:"vault_id" db:"vault_id"`
	ID        uint64          `json:"id" db:"id"`
	IsBuy     bool            `json:"is_buy" db:"is_buy"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Side returns "buy" or "sell".
func (t Trade) Side() string {
	if t.IsBuy {
		return "buy"
	}
	return "sell"
}

// Trader is the reputation record of one trader identity.
type Trader struct {
	Address          common.Address  `json:"address" db:"address"`
	ReputationScore  uint64          `json:"reputation_score" db:"reputation_score"`
	TotalVaults      uint64          `json:"total_vaults" db:"total_vaults"`
	CompletedVaults  uint64          `json:"completed_vaults" db:"completed_vaults"`
	TotalVolume      decimal.Decimal `json:"total_volume" db:"total_volume"`
	AverageReturns   decimal.Decimal `json:"average_returns" db:"average_returns"` // signed running mean
	IsRegistered     bool            `json:"is_registered" db:"is_registered"`
	RegistrationDate time.Time       `json:"registration_date" db:"registration_date"`
}

// OwnerSummary aggregates every vault held by one owner.
type OwnerSummary struct {
	Owner           common.Address  `json:"owner"`
	VaultCount      int             `json:"vault_count"`
	ActiveVaults    int             `json:"active_vaults"`
	TotalInvestment decimal.Decimal `json:"total_investment"` // Σ initial amounts
	CurrentBalance  decimal.Decimal `json:"current_balance"`  // Σ current balances
	TotalReturns    decimal.Decimal `json:"total_returns"`    // Σ (current − initial)
}

// ValidAmount reports whether a is positive and representable with the
// given number of decimal places.
func ValidAmount(a decimal.Decimal, decimals int32) bool {
	if !a.IsPositive() {
		return false
	}
	return a.Equal(a.Truncate(decimals))
}
