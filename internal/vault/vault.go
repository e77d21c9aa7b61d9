// Package vault implements one escrowed trading position: the owner funds
// it once, the trader books trades against its balance, and after
// completion or a pause the owner takes the balance back.
//
// All monetary values use shopspring/decimal. Every mutation runs under the
// ledger lock shared with the factory, inside one store transaction, and
// emits its event only after that transaction commits.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/asset"
	"github.com/tradevault/ledger/internal/events"
	"github.com/tradevault/ledger/internal/metrics"
	"github.com/tradevault/ledger/internal/model"
	"github.com/tradevault/ledger/internal/registry"
	"github.com/tradevault/ledger/internal/store"
)

// Reputation receives completed-vault results. *registry.Registry
// satisfies it.
type Reputation interface {
	RecordCompletion(ctx context.Context, tx store.Store, caller, trader common.Address, performance, volume decimal.Decimal) (registry.Update, error)
	Announce(ctx context.Context, u registry.Update)
}

// Deps are the collaborators a vault handle works against. The factory
// builds them once and shares them between handles.
type Deps struct {
	Store      store.Store
	Asset      asset.FungibleAsset
	Reputation Reputation
	Events     events.Sink
	Lock       sync.Locker
	Now        func() time.Time
	Guardian   common.Address // may also pause; zero disables
}

// Vault is a handle on one stored vault. Handles are cheap; the state
// lives in the store.
type Vault struct {
	id      uint64
	address common.Address
	deps    Deps
}

// New returns a handle for the vault with the given id and address.
func New(id uint64, address common.Address, deps Deps) *Vault {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Lock == nil {
		deps.Lock = &sync.Mutex{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Vault{id: id, address: address, deps: deps}
}

// ID returns the vault's sequential id.
func (v *Vault) ID() uint64 { return v.id }

// Address returns the vault's derived address, which also holds its asset
// balance.
func (v *Vault) Address() common.Address { return v.address }

// Deposit funds the vault. Only the owner may deposit, once, while the
// vault is Active. The amount is pulled from the owner's asset balance
// using a prior allowance to the vault address.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount decimal.Decimal) (err error) {
	const op = "vault.deposit"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	v.deps.Lock.Lock()
	defer v.deps.Lock.Unlock()

	now := v.deps.Now()
	cur, err := v.load(ctx, v.deps.Store, op)
	if err != nil {
		return err
	}
	if _, err := applyDeposit(*cur, caller, amount, v.deps.Asset.Decimals(), now); err != nil {
		return err
	}

	if err := v.deps.Asset.Pull(ctx, caller, v.address, amount); err != nil {
		return err
	}

	var next model.Vault
	err = v.deps.Store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := v.load(ctx, tx, op)
		if err != nil {
			return err
		}
		next, err = applyDeposit(*cur, caller, amount, v.deps.Asset.Decimals(), now)
		if err != nil {
			return err
		}
		return tx.UpdateVault(ctx, &next)
	})
	if err != nil {
		if rerr := v.deps.Asset.Push(ctx, v.address, caller, amount); rerr != nil {
			slog.Error("deposit refund failed",
				"vault_id", v.id,
				"owner", caller.Hex(),
				"amount", amount.String(),
				"err", rerr,
			)
			return errors.Join(err, fmt.Errorf("refund deposit: %w", rerr))
		}
		return err
	}

	metrics.Deposits.Inc()
	slog.Info("vault funded",
		"vault_id", v.id,
		"owner", caller.Hex(),
		"amount", amount.String(),
	)

	e := v.event(events.TypeDeposited, &next, now)
	e.Caller = caller
	e.Amount = amount
	v.deps.Events.Publish(ctx, e)
	return nil
}

// ExecuteTrade books one trade. Only the trader may trade, while the vault
// is Active and funded. A buy may not exceed the current balance. No asset
// moves; the balance change is bookkeeping only.
func (v *Vault) ExecuteTrade(ctx context.Context, caller common.Address, isBuy bool, amount, price decimal.Decimal) (_ *model.Trade, err error) {
	const op = "vault.execute_trade"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	v.deps.Lock.Lock()
	defer v.deps.Lock.Unlock()

	now := v.deps.Now()
	var (
		next  model.Vault
		trade model.Trade
	)
	err = v.deps.Store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := v.load(ctx, tx, op)
		if err != nil {
			return err
		}
		n, err := tx.CountTrades(ctx, v.id)
		if err != nil {
			return err
		}
		next, trade, err = applyTrade(*cur, n, caller, isBuy, amount, price, v.deps.Asset.Decimals(), now)
		if err != nil {
			return err
		}
		if err := tx.UpdateVault(ctx, &next); err != nil {
			return err
		}
		return tx.AppendTrade(ctx, &trade)
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(trade.Side()).Inc()
	slog.Info("trade executed",
		"vault_id", v.id,
		"trade_id", trade.ID,
		"side", trade.Side(),
		"amount", amount.String(),
		"price", price.String(),
		"balance", next.CurrentBalance.String(),
	)

	e := v.event(events.TypeTradeExecuted, &next, now)
	e.Caller = caller
	e.TradeID = trade.ID
	e.IsBuy = isBuy
	e.Amount = amount
	e.Price = price
	v.deps.Events.Publish(ctx, e)
	return &trade, nil
}

// CompleteVault closes trading and fixes TotalReturns. In the same
// transaction the result is recorded against the trader's reputation, with
// the vault itself as the authorized caller. An unregistered trader skips
// that step.
func (v *Vault) CompleteVault(ctx context.Context, caller common.Address) (err error) {
	const op = "vault.complete"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	v.deps.Lock.Lock()
	defer v.deps.Lock.Unlock()

	now := v.deps.Now()
	var (
		next     model.Vault
		update   registry.Update
		recorded bool
		skipped  bool
	)
	err = v.deps.Store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := v.load(ctx, tx, op)
		if err != nil {
			return err
		}
		next, err = applyComplete(*cur, caller, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateVault(ctx, &next); err != nil {
			return err
		}
		if v.deps.Reputation == nil {
			return nil
		}
		update, err = v.deps.Reputation.RecordCompletion(ctx, tx, v.address, next.Trader, next.TotalReturns, next.InitialAmount)
		if errors.Is(err, model.ErrNotRegistered) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ActiveVaults.Dec()
	metrics.Completions.WithLabelValues(outcome(next.TotalReturns)).Inc()
	slog.Info("vault completed",
		"vault_id", v.id,
		"trader", next.Trader.Hex(),
		"initial", next.InitialAmount.String(),
		"final", next.CurrentBalance.String(),
		"returns", next.TotalReturns.String(),
	)
	if recorded {
		v.deps.Reputation.Announce(ctx, update)
	}
	if skipped {
		slog.Warn("reputation not updated: trader not registered",
			"vault_id", v.id,
			"trader", next.Trader.Hex(),
		)
	}

	e := v.event(events.TypeVaultCompleted, &next, now)
	e.Caller = caller
	e.Amount = next.CurrentBalance
	e.Returns = next.TotalReturns
	v.deps.Events.Publish(ctx, e)
	return nil
}

// Pause halts an Active vault. The owner or the guardian may pause; the
// balance stays in place for withdrawal.
func (v *Vault) Pause(ctx context.Context, caller common.Address) (err error) {
	const op = "vault.pause"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	v.deps.Lock.Lock()
	defer v.deps.Lock.Unlock()

	now := v.deps.Now()
	var next model.Vault
	err = v.deps.Store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := v.load(ctx, tx, op)
		if err != nil {
			return err
		}
		next, err = applyPause(*cur, caller, v.deps.Guardian, now)
		if err != nil {
			return err
		}
		return tx.UpdateVault(ctx, &next)
	})
	if err != nil {
		return err
	}

	metrics.ActiveVaults.Dec()
	metrics.Pauses.Inc()
	slog.Info("vault paused", "vault_id", v.id, "caller", caller.Hex())

	e := v.event(events.TypeVaultPaused, &next, now)
	e.Caller = caller
	v.deps.Events.Publish(ctx, e)
	return nil
}

// Withdraw pays the full current balance to the owner once the vault is
// Completed or Paused. The balance is zeroed before the asset moves; if the
// transfer fails the balance is restored.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address) (_ decimal.Decimal, err error) {
	const op = "vault.withdraw"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	v.deps.Lock.Lock()
	defer v.deps.Lock.Unlock()

	var (
		next   model.Vault
		amount decimal.Decimal
	)
	err = v.deps.Store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := v.load(ctx, tx, op)
		if err != nil {
			return err
		}
		next, amount, err = applyWithdraw(*cur, caller)
		if err != nil {
			return err
		}
		return tx.UpdateVault(ctx, &next)
	})
	if err != nil {
		return decimal.Zero, err
	}

	if err := v.deps.Asset.Push(ctx, v.address, caller, amount); err != nil {
		if rerr := v.restore(ctx, amount); rerr != nil {
			slog.Error("withdraw rollback failed",
				"vault_id", v.id,
				"amount", amount.String(),
				"err", rerr,
			)
			return decimal.Zero, errors.Join(err, fmt.Errorf("restore balance: %w", rerr))
		}
		return decimal.Zero, err
	}

	metrics.Withdrawals.Inc()
	slog.Info("vault withdrawn",
		"vault_id", v.id,
		"owner", caller.Hex(),
		"amount", amount.String(),
	)

	e := v.event(events.TypeWithdrawn, &next, v.deps.Now())
	e.Caller = caller
	e.Amount = amount
	v.deps.Events.Publish(ctx, e)
	return amount, nil
}

func (v *Vault) restore(ctx context.Context, amount decimal.Decimal) error {
	return v.deps.Store.WithinTx(ctx, func(tx store.Store) error {
		cur, err := v.load(ctx, tx, "vault.withdraw")
		if err != nil {
			return err
		}
		cur.CurrentBalance = cur.CurrentBalance.Add(amount)
		return tx.UpdateVault(ctx, cur)
	})
}

// --- Queries ---

// CalculateReturns is CurrentBalance − InitialAmount, whatever the status.
func (v *Vault) CalculateReturns(ctx context.Context) (decimal.Decimal, error) {
	cur, err := v.load(ctx, v.deps.Store, "vault.returns")
	if err != nil {
		return decimal.Zero, err
	}
	return cur.Returns(), nil
}

// TradeHistory returns every trade in execution order.
func (v *Vault) TradeHistory(ctx context.Context) ([]model.Trade, error) {
	return v.deps.Store.ListTrades(ctx, v.id)
}

// TradeCount returns the length of the trade log.
func (v *Vault) TradeCount(ctx context.Context) (uint64, error) {
	return v.deps.Store.CountTrades(ctx, v.id)
}

// Data returns a snapshot of the vault record.
func (v *Vault) Data(ctx context.Context) (*model.Vault, error) {
	return v.load(ctx, v.deps.Store, "vault.data")
}

func (v *Vault) load(ctx context.Context, st store.Store, op string) (*model.Vault, error) {
	cur, err := st.GetVault(ctx, v.id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.Fail(op, model.ErrVaultNotFound, "id", "%d", v.id)
	}
	if err != nil {
		return nil, fmt.Errorf("load vault %d: %w", v.id, err)
	}
	return cur, nil
}

func (v *Vault) event(typ string, data *model.Vault, at time.Time) events.Event {
	e := events.New(typ, at)
	e.VaultID = v.id
	e.Vault = v.address
	e.Owner = data.Owner
	e.Trader = data.Trader
	e.Asset = data.Asset
	return e
}

func outcome(returns decimal.Decimal) string {
	switch {
	case returns.IsPositive():
		return "profit"
	case returns.IsNegative():
		return "loss"
	}
	return "flat"
}
