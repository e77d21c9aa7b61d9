// Package store defines the persistence interface for the vault ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradevault/ledger/internal/model"
)

var (
	// ErrNotFound is returned when a vault or trader record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a record with the same key already exists.
	ErrConflict = errors.New("store: already exists")
)

// Store is the persistence interface. It holds three indexed stores: vaults
// by id (with their trade logs), owner/trader indices, and traders.
type Store interface {
	// WithinTx runs fn against a transactional view of the store. Either
	// every write made through tx commits or none does. Calling WithinTx on
	// tx itself runs fn in the same transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// --- Vaults ---

	// CreateVault persists a new vault and appends it to the owner and
	// trader indices. The vault ID must equal the current vault count.
	CreateVault(ctx context.Context, v *model.Vault) error

	// GetVault retrieves a vault by its ID.
	GetVault(ctx context.Context, id uint64) (*model.Vault, error)

	// GetVaultByAddress retrieves a vault by its derived address.
	GetVaultByAddress(ctx context.Context, addr common.Address) (*model.Vault, error)

	// UpdateVault overwrites the mutable fields of a vault.
	UpdateVault(ctx context.Context, v *model.Vault) error

	// CountVaults returns the number of vaults ever created.
	CountVaults(ctx context.Context) (uint64, error)

	// CountVaultsByStatus returns the number of vaults currently in status.
	CountVaultsByStatus(ctx context.Context, status model.VaultStatus) (uint64, error)

	// VaultIDsByOwner returns the owner's vault IDs in creation order.
	VaultIDsByOwner(ctx context.Context, owner common.Address) ([]uint64, error)

	// VaultIDsByTrader returns the trader's vault IDs in creation order.
	VaultIDsByTrader(ctx context.Context, trader common.Address) ([]uint64, error)

	// --- Append-only trade log ---

	// AppendTrade appends an immutable trade record to its vault's log.
	AppendTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns a vault's trades in execution order.
	ListTrades(ctx context.Context, vaultID uint64) ([]model.Trade, error)

	// CountTrades returns the length of a vault's trade log.
	CountTrades(ctx context.Context, vaultID uint64) (uint64, error)

	// --- Traders ---

	// CreateTrader persists a new trader record.
	CreateTrader(ctx context.Context, t *model.Trader) error

	// GetTrader retrieves a trader record by address.
	GetTrader(ctx context.Context, addr common.Address) (*model.Trader, error)

	// UpdateTrader overwrites a trader record.
	UpdateTrader(ctx context.Context, t *model.Trader) error
}
