// Package factory mints vaults: it assigns sequential ids, derives each
// vault's address from the factory address, and keeps the owner and
// trader indices.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/asset"
	"github.com/tradevault/ledger/internal/events"
	"github.com/tradevault/ledger/internal/metrics"
	"github.com/tradevault/ledger/internal/model"
	"github.com/tradevault/ledger/internal/store"
	"github.com/tradevault/ledger/internal/vault"
)

// Registry is what the factory and its vaults need from the trader
// registry. *registry.Registry satisfies it.
type Registry interface {
	vault.Reputation
	RecordVaultAssigned(ctx context.Context, tx store.Store, trader common.Address) error
}

// Factory creates and indexes vaults. Its mutex is the ledger lock: every
// vault handle it returns serializes on the same lock.
type Factory struct {
	mu       sync.Mutex
	next     uint64 // id of the next vault; never reused
	address  common.Address
	guardian common.Address
	store    store.Store
	assets   *asset.Directory
	registry Registry
	events   events.Sink
	now      func() time.Time
}

// Option configures a Factory.
type Option func(*Factory)

// WithAddress sets the factory address vault addresses are derived from.
func WithAddress(addr common.Address) Option {
	return func(f *Factory) { f.address = addr }
}

// WithGuardian allows addr to pause any vault.
func WithGuardian(addr common.Address) Option {
	return func(f *Factory) { f.guardian = addr }
}

// WithRegistry connects vault creation and completion to the trader
// registry.
func WithRegistry(r Registry) Option {
	return func(f *Factory) { f.registry = r }
}

// WithEvents sets the sink for factory and vault events.
func WithEvents(sink events.Sink) Option {
	return func(f *Factory) { f.events = sink }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// New creates a factory over st that accepts the assets in dir. The id
// counter resumes from the number of vaults already stored, and the active
// vault gauge is reset from the stored statuses.
func New(ctx context.Context, st store.Store, dir *asset.Directory, opts ...Option) (*Factory, error) {
	f := &Factory{
		store:  st,
		assets: dir,
		events: events.Discard{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}

	n, err := st.CountVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("count vaults: %w", err)
	}
	f.next = n

	active, err := st.CountVaultsByStatus(ctx, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("count active vaults: %w", err)
	}
	metrics.ActiveVaults.Set(float64(active))
	return f, nil
}

// Address returns the factory address.
func (f *Factory) Address() common.Address { return f.address }

// CreateVault mints a vault owned by caller and managed by trader over the
// given asset.
func (f *Factory) CreateVault(ctx context.Context, caller, trader, assetAddr common.Address) (_ *vault.Vault, err error) {
	const op = "factory.create_vault"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	if trader == (common.Address{}) {
		return nil, model.Fail(op, model.ErrInvalidTrader, "trader", "zero address")
	}
	if caller == (common.Address{}) {
		return nil, model.Fail(op, model.ErrInvalidCaller, "caller", "zero address")
	}
	if assetAddr == (common.Address{}) {
		return nil, model.Fail(op, model.ErrInvalidAsset, "asset", "zero address")
	}
	a, ok := f.assets.Lookup(assetAddr)
	if !ok {
		return nil, model.Fail(op, model.ErrInvalidAsset, "asset", "%s is not accepted", assetAddr.Hex())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	v := &model.Vault{
		ID:             id,
		Address:        f.vaultAddress(id),
		Owner:          caller,
		Trader:         trader,
		Asset:          assetAddr,
		InitialAmount:  decimal.Zero,
		CurrentBalance: decimal.Zero,
		Status:         model.StatusActive,
		TotalReturns:   decimal.Zero,
		CreatedAt:      f.now(),
	}

	err = f.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateVault(ctx, v); err != nil {
			return fmt.Errorf("create vault %d: %w", id, err)
		}
		if f.registry == nil {
			return nil
		}
		return f.registry.RecordVaultAssigned(ctx, tx, trader)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			f.resync(ctx)
		}
		return nil, err
	}
	f.next++

	metrics.VaultsCreated.Inc()
	metrics.ActiveVaults.Inc()
	slog.Info("vault created",
		"vault_id", id,
		"address", v.Address.Hex(),
		"owner", caller.Hex(),
		"trader", trader.Hex(),
		"asset", assetAddr.Hex(),
	)

	e := events.New(events.TypeVaultCreated, v.CreatedAt)
	e.VaultID = id
	e.Vault = v.Address
	e.Owner = caller
	e.Trader = trader
	e.Asset = assetAddr
	e.Caller = caller
	f.events.Publish(ctx, e)

	return f.handle(v, a), nil
}

// resync reloads the id counter after another writer took the expected id.
func (f *Factory) resync(ctx context.Context) {
	n, err := f.store.CountVaults(ctx)
	if err != nil {
		slog.Error("vault counter resync failed", "err", err)
		return
	}
	slog.Warn("vault counter resynced", "from", f.next, "to", n)
	f.next = n
}

// GetVaultAddress returns the address of vault id, or the zero address if
// id has not been assigned.
func (f *Factory) GetVaultAddress(ctx context.Context, id uint64) (common.Address, error) {
	v, err := f.store.GetVault(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("get vault %d: %w", id, err)
	}
	return v.Address, nil
}

// Vault opens a handle on vault id.
func (f *Factory) Vault(ctx context.Context, id uint64) (*vault.Vault, error) {
	v, err := f.store.GetVault(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.Fail("factory.vault", model.ErrVaultNotFound, "id", "%d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get vault %d: %w", id, err)
	}
	return f.open(v)
}

// VaultAt opens a handle on the vault at addr.
func (f *Factory) VaultAt(ctx context.Context, addr common.Address) (*vault.Vault, error) {
	v, err := f.store.GetVaultByAddress(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.Fail("factory.vault_at", model.ErrVaultNotFound, "address", "%s", addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get vault at %s: %w", addr.Hex(), err)
	}
	return f.open(v)
}

// GetVaultsByUser returns the owner's vault ids in creation order.
func (f *Factory) GetVaultsByUser(ctx context.Context, owner common.Address) ([]uint64, error) {
	ids, err := f.store.VaultIDsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("vaults by owner: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// GetVaultsByTrader returns the trader's vault ids in creation order.
func (f *Factory) GetVaultsByTrader(ctx context.Context, trader common.Address) ([]uint64, error) {
	ids, err := f.store.VaultIDsByTrader(ctx, trader)
	if err != nil {
		return nil, fmt.Errorf("vaults by trader: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// VaultCount returns the number of vaults created so far.
func (f *Factory) VaultCount(ctx context.Context) (uint64, error) {
	return f.store.CountVaults(ctx)
}

// OwnerSummary aggregates every vault held by owner.
func (f *Factory) OwnerSummary(ctx context.Context, owner common.Address) (*model.OwnerSummary, error) {
	ids, err := f.GetVaultsByUser(ctx, owner)
	if err != nil {
		return nil, err
	}

	sum := &model.OwnerSummary{
		Owner:           owner,
		VaultCount:      len(ids),
		TotalInvestment: decimal.Zero,
		CurrentBalance:  decimal.Zero,
		TotalReturns:    decimal.Zero,
	}
	for _, id := range ids {
		v, err := f.store.GetVault(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get vault %d: %w", id, err)
		}
		if v.Status == model.StatusActive {
			sum.ActiveVaults++
		}
		sum.TotalInvestment = sum.TotalInvestment.Add(v.InitialAmount)
		sum.CurrentBalance = sum.CurrentBalance.Add(v.CurrentBalance)
		sum.TotalReturns = sum.TotalReturns.Add(v.Returns())
	}
	return sum, nil
}

func (f *Factory) vaultAddress(id uint64) common.Address {
	return crypto.CreateAddress(f.address, id)
}

func (f *Factory) open(v *model.Vault) (*vault.Vault, error) {
	a, ok := f.assets.Lookup(v.Asset)
	if !ok {
		return nil, fmt.Errorf("vault %d: asset %s is not configured", v.ID, v.Asset.Hex())
	}
	return f.handle(v, a), nil
}

func (f *Factory) handle(v *model.Vault, a asset.FungibleAsset) *vault.Vault {
	deps := vault.Deps{
		Store:    f.store,
		Asset:    a,
		Events:   f.events,
		Lock:     &f.mu,
		Now:      f.now,
		Guardian: f.guardian,
	}
	if f.registry != nil {
		deps.Reputation = f.registry
	}
	return vault.New(v.ID, v.Address, deps)
}
