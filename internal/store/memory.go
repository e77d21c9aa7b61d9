package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradevault/ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions are serialized and work on a private copy that replaces the
// committed data on success, so readers outside the transaction never see
// a half-applied call. Writes made outside WithinTx while a transaction is
// open are lost when it commits. The ledger performs every write inside a
// transaction.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	vaults    []model.Vault // index == vault ID
	byAddress map[common.Address]uint64
	byOwner   map[common.Address][]uint64
	byTrader  map[common.Address][]uint64
	trades    map[uint64][]model.Trade
	traders   map[common.Address]model.Trader
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func newMemoryData() memoryData {
	return memoryData{
		byAddress: make(map[common.Address]uint64),
		byOwner:   make(map[common.Address][]uint64),
		byTrader:  make(map[common.Address][]uint64),
		trades:    make(map[uint64][]model.Trade),
		traders:   make(map[common.Address]model.Trader),
	}
}

// clone deep-copies the data set. Vault, Trade and Trader values hold no
// shared mutable state, so copying the containers is enough.
func (d memoryData) clone() memoryData {
	c := newMemoryData()
	c.vaults = append([]model.Vault(nil), d.vaults...)
	for k, v := range d.byAddress {
		c.byAddress[k] = v
	}
	for k, v := range d.byOwner {
		c.byOwner[k] = append([]uint64(nil), v...)
	}
	for k, v := range d.byTrader {
		c.byTrader[k] = append([]uint64(nil), v...)
	}
	for k, v := range d.trades {
		c.trades[k] = append([]model.Trade(nil), v...)
	}
	for k, v := range d.traders {
		c.traders[k] = v
	}
	return c
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := &MemoryStore{data: s.data.clone()}
	s.mu.RUnlock()

	if err := fn(memoryTx{work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work.data
	s.mu.Unlock()
	return nil
}

// memoryTx is the working copy handed to WithinTx callbacks; nested
// WithinTx calls join the open transaction.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (s *MemoryStore) CreateVault(_ context.Context, v *model.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID != uint64(len(s.data.vaults)) {
		return fmt.Errorf("%w: vault %d (next id is %d)", ErrConflict, v.ID, len(s.data.vaults))
	}
	if _, ok := s.data.byAddress[v.Address]; ok {
		return fmt.Errorf("%w: vault address %s", ErrConflict, v.Address.Hex())
	}

	s.data.vaults = append(s.data.vaults, *v)
	s.data.byAddress[v.Address] = v.ID
	s.data.byOwner[v.Owner] = append(s.data.byOwner[v.Owner], v.ID)
	s.data.byTrader[v.Trader] = append(s.data.byTrader[v.Trader], v.ID)
	return nil
}

func (s *MemoryStore) GetVault(_ context.Context, id uint64) (*model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= uint64(len(s.data.vaults)) {
		return nil, fmt.Errorf("%w: vault %d", ErrNotFound, id)
	}
	v := s.data.vaults[id]
	return &v, nil
}

func (s *MemoryStore) GetVaultByAddress(_ context.Context, addr common.Address) (*model.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.data.byAddress[addr]
	if !ok {
		return nil, fmt.Errorf("%w: vault at %s", ErrNotFound, addr.Hex())
	}
	v := s.data.vaults[id]
	return &v, nil
}

func (s *MemoryStore) UpdateVault(_ context.Context, v *model.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID >= uint64(len(s.data.vaults)) {
		return fmt.Errorf("%w: vault %d", ErrNotFound, v.ID)
	}
	s.data.vaults[v.ID] = *v
	return nil
}

func (s *MemoryStore) CountVaults(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data.vaults)), nil
}

func (s *MemoryStore) CountVaultsByStatus(_ context.Context, status model.VaultStatus) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n uint64
	for _, v := range s.data.vaults {
		if v.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) VaultIDsByOwner(_ context.Context, owner common.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64{}, s.data.byOwner[owner]...), nil
}

func (s *MemoryStore) VaultIDsByTrader(_ context.Context, trader common.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64{}, s.data.byTrader[trader]...), nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.VaultID >= uint64(len(s.data.vaults)) {
		return fmt.Errorf("%w: vault %d", ErrNotFound, t.VaultID)
	}
	log := s.data.trades[t.VaultID]
	if t.ID != uint64(len(log)) {
		return fmt.Errorf("%w: trade %d on vault %d", ErrConflict, t.ID, t.VaultID)
	}
	s.data.trades[t.VaultID] = append(log, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, vaultID uint64) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Trade{}, s.data.trades[vaultID]...), nil
}

func (s *MemoryStore) CountTrades(_ context.Context, vaultID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data.trades[vaultID])), nil
}

func (s *MemoryStore) CreateTrader(_ context.Context, t *model.Trader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.traders[t.Address]; ok {
		return fmt.Errorf("%w: trader %s", ErrConflict, t.Address.Hex())
	}
	s.data.traders[t.Address] = *t
	return nil
}

func (s *MemoryStore) GetTrader(_ context.Context, addr common.Address) (*model.Trader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data.traders[addr]
	if !ok {
		return nil, fmt.Errorf("%w: trader %s", ErrNotFound, addr.Hex())
	}
	return &t, nil
}

func (s *MemoryStore) UpdateTrader(_ context.Context, t *model.Trader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.traders[t.Address]; !ok {
		return fmt.Errorf("%w: trader %s", ErrNotFound, t.Address.Hex())
	}
	s.data.traders[t.Address] = *t
	return nil
}
