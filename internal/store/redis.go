package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/tradevault/ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for vault and trader records. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the primary.
//
// Inside a transaction reads bypass Redis and invalidations are deferred
// until the transaction has finished.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration

	// pending collects keys to invalidate when a transaction ends; nil
	// outside a transaction.
	pending *[]string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pending != nil {
		return fn(s)
	}
	var keys []string
	err := s.primary.WithinTx(ctx, func(ptx Store) error {
		keys = keys[:0]
		return fn(&CachedStore{primary: ptx, rdb: s.rdb, ttl: s.ttl, pending: &keys})
	})
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return err
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateVault(ctx context.Context, v *model.Vault) error {
	if err := s.primary.CreateVault(ctx, v); err != nil {
		return err
	}
	s.invalidate(ctx, vaultKey(v.ID), vaultAddrKey(v.Address))
	return nil
}

func (s *CachedStore) UpdateVault(ctx context.Context, v *model.Vault) error {
	if err := s.primary.UpdateVault(ctx, v); err != nil {
		return err
	}
	s.invalidate(ctx, vaultKey(v.ID))
	return nil
}

func (s *CachedStore) CreateTrader(ctx context.Context, t *model.Trader) error {
	if err := s.primary.CreateTrader(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, traderKey(t.Address))
	return nil
}

func (s *CachedStore) UpdateTrader(ctx context.Context, t *model.Trader) error {
	if err := s.primary.UpdateTrader(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, traderKey(t.Address))
	return nil
}

func (s *CachedStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.AppendTrade(ctx, t)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetVault(ctx context.Context, id uint64) (*model.Vault, error) {
	if s.pending != nil {
		return s.primary.GetVault(ctx, id)
	}

	data, err := s.rdb.Get(ctx, vaultKey(id)).Bytes()
	if err == nil {
		var v model.Vault
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	// Cache miss: read from primary.
	v, err := s.primary.GetVault(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, vaultKey(id), v)
	return v, nil
}

func (s *CachedStore) GetVaultByAddress(ctx context.Context, addr common.Address) (*model.Vault, error) {
	if s.pending != nil {
		return s.primary.GetVaultByAddress(ctx, addr)
	}

	// Try cache via address→ID mapping.
	if idS, err := s.rdb.Get(ctx, vaultAddrKey(addr)).Result(); err == nil {
		if id, err := strconv.ParseUint(idS, 10, 64); err == nil {
			return s.GetVault(ctx, id)
		}
	}

	v, err := s.primary.GetVaultByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, vaultKey(v.ID), v)
	s.rdb.Set(ctx, vaultAddrKey(addr), strconv.FormatUint(v.ID, 10), s.ttl)
	return v, nil
}

func (s *CachedStore) GetTrader(ctx context.Context, addr common.Address) (*model.Trader, error) {
	if s.pending != nil {
		return s.primary.GetTrader(ctx, addr)
	}

	data, err := s.rdb.Get(ctx, traderKey(addr)).Bytes()
	if err == nil {
		var t model.Trader
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTrader(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, traderKey(addr), t)
	return t, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CountVaults(ctx context.Context) (uint64, error) {
	return s.primary.CountVaults(ctx)
}

func (s *CachedStore) CountVaultsByStatus(ctx context.Context, status model.VaultStatus) (uint64, error) {
	return s.primary.CountVaultsByStatus(ctx, status)
}

func (s *CachedStore) VaultIDsByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
	return s.primary.VaultIDsByOwner(ctx, owner)
}

func (s *CachedStore) VaultIDsByTrader(ctx context.Context, trader common.Address) ([]uint64, error) {
	return s.primary.VaultIDsByTrader(ctx, trader)
}

func (s *CachedStore) ListTrades(ctx context.Context, vaultID uint64) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, vaultID)
}

func (s *CachedStore) CountTrades(ctx context.Context, vaultID uint64) (uint64, error) {
	return s.primary.CountTrades(ctx, vaultID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if s.pending != nil {
		*s.pending = append(*s.pending, keys...)
		return
	}
	s.rdb.Del(ctx, keys...)
}

func vaultKey(id uint64) string { return fmt.Sprintf("vault:%d", id) }
func vaultAddrKey(a common.Address) string { return fmt.Sprintf("vault-addr:%s", a.Hex()) }
func traderKey(a common.Address) string { return fmt.Sprintf("trader:%s", a.Hex()) }
