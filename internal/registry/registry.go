// Package registry tracks trader trust: registration, completed-vault
// counters, traded volume, average returns and a reputation score that
// moves with the sign of each completed vault's performance.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/events"
	"github.com/tradevault/ledger/internal/metrics"
	"github.com/tradevault/ledger/internal/model"
	"github.com/tradevault/ledger/internal/store"
)

const (
	// InitialScore is the reputation of a newly registered trader.
	InitialScore uint64 = 100

	// DefaultMaxStep bounds how far a single completion moves the score.
	DefaultMaxStep uint64 = 10
)

// Registry owns the Trader records. Consistency under concurrent callers
// comes from the store transaction each mutation runs in.
type Registry struct {
	store   store.Store
	events  events.Sink
	now     func() time.Time
	maxStep uint64
	trusted map[common.Address]bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEvents sets the sink committed registry events are published to.
func WithEvents(sink events.Sink) Option {
	return func(r *Registry) { r.events = sink }
}

// WithMaxStep sets the per-completion reputation bound. Zero keeps the
// default; values above math.MaxInt64 are clamped to it.
func WithMaxStep(step uint64) Option {
	return func(r *Registry) {
		if step > math.MaxInt64 {
			step = math.MaxInt64
		}
		if step > 0 {
			r.maxStep = step
		}
	}
}

// WithTrustedUpdaters allows the given identities to call UpdateReputation
// directly, in addition to vault addresses known to the store.
func WithTrustedUpdaters(ids ...common.Address) Option {
	return func(r *Registry) {
		for _, id := range ids {
			r.trusted[id] = true
		}
	}
}

// New creates a registry backed by st.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:   st,
		events:  events.Discard{},
		now:     func() time.Time { return time.Now().UTC() },
		maxStep: DefaultMaxStep,
		trusted: make(map[common.Address]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxStep returns the configured per-completion reputation bound.
func (r *Registry) MaxStep() uint64 { return r.maxStep }

// RegisterTrader creates the caller's trader record. Registering twice
// fails with ErrAlreadyRegistered.
func (r *Registry) RegisterTrader(ctx context.Context, caller common.Address) (_ *model.Trader, err error) {
	const op = "registry.register"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	if caller == (common.Address{}) {
		return nil, model.Fail(op, model.ErrInvalidTrader, "caller", "zero address")
	}

	t := &model.Trader{
		Address:          caller,
		ReputationScore:  InitialScore,
		TotalVolume:      decimal.Zero,
		AverageReturns:   decimal.Zero,
		IsRegistered:     true,
		RegistrationDate: r.now(),
	}
	err = r.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.CreateTrader(ctx, t); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return model.Fail(op, model.ErrAlreadyRegistered, "caller", "%s", caller.Hex())
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RegisteredTraders.Inc()
	slog.Info("trader registered", "trader", caller.Hex())

	e := events.New(events.TypeTraderRegistered, t.RegistrationDate)
	e.Trader = caller
	e.Score = t.ReputationScore
	r.events.Publish(ctx, e)
	return t, nil
}

// GetTraderInfo returns the trader's record, or ErrNotRegistered.
func (r *Registry) GetTraderInfo(ctx context.Context, trader common.Address) (*model.Trader, error) {
	t, err := r.store.GetTrader(ctx, trader)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.Fail("registry.info", model.ErrNotRegistered, "trader", "%s", trader.Hex())
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update is the result of applying one completion to a trader record.
type Update struct {
	Trader        model.Trader
	PreviousScore uint64
	Performance   decimal.Decimal
	Volume        decimal.Decimal
}

// UpdateReputation applies one completed vault's result to a trader.
// caller must be a vault known to the store whose trader is trader and
// which has completed, or an identity trusted at construction.
func (r *Registry) UpdateReputation(ctx context.Context, caller, trader common.Address, performance, volume decimal.Decimal) (_ *model.Trader, err error) {
	const op = "registry.update_reputation"
	defer func(start time.Time) { metrics.Observe(op, start, err, model.KindName) }(time.Now())

	var u Update
	err = r.store.WithinTx(ctx, func(tx store.Store) error {
		var err error
		u, err = r.RecordCompletion(ctx, tx, caller, trader, performance, volume)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.Announce(ctx, u)
	return &u.Trader, nil
}

// RecordCompletion is UpdateReputation inside the caller's transaction. It
// writes nothing on error. Call Announce once tx has committed.
func (r *Registry) RecordCompletion(ctx context.Context, tx store.Store, caller, trader common.Address, performance, volume decimal.Decimal) (Update, error) {
	const op = "registry.update_reputation"

	if err := r.authorize(ctx, tx, caller, trader); err != nil {
		return Update{}, err
	}
	if volume.IsNegative() {
		return Update{}, model.Fail(op, model.ErrInvalidAmount, "volume", "%s", volume)
	}

	t, err := tx.GetTrader(ctx, trader)
	if errors.Is(err, store.ErrNotFound) {
		return Update{}, model.Fail(op, model.ErrNotRegistered, "trader", "%s", trader.Hex())
	}
	if err != nil {
		return Update{}, err
	}

	u := Update{PreviousScore: t.ReputationScore, Performance: performance, Volume: volume}

	t.TotalVolume = t.TotalVolume.Add(volume)
	t.CompletedVaults++
	n := decimal.NewFromInt(int64(t.CompletedVaults))
	t.AverageReturns = t.AverageReturns.Mul(n.Sub(decimal.NewFromInt(1))).Add(performance).DivRound(n, 18)
	t.ReputationScore = ApplyStep(t.ReputationScore, Step(performance, volume, r.maxStep))

	if err := tx.UpdateTrader(ctx, t); err != nil {
		return Update{}, err
	}
	u.Trader = *t
	return u, nil
}

// Announce publishes the event and metrics for a committed Update.
func (r *Registry) Announce(ctx context.Context, u Update) {
	direction := "flat"
	switch {
	case u.Trader.ReputationScore > u.PreviousScore:
		direction = "up"
	case u.Trader.ReputationScore < u.PreviousScore:
		direction = "down"
	}
	metrics.ReputationUpdates.WithLabelValues(direction).Inc()

	slog.Info("reputation updated",
		"trader", u.Trader.Address.Hex(),
		"performance", u.Performance.String(),
		"volume", u.Volume.String(),
		"score", u.Trader.ReputationScore,
		"previous_score", u.PreviousScore,
		"completed_vaults", u.Trader.CompletedVaults,
	)

	e := events.New(events.TypeReputationUpdated, r.now())
	e.Trader = u.Trader.Address
	e.Amount = u.Volume
	e.Returns = u.Performance
	e.Score = u.Trader.ReputationScore
	r.events.Publish(ctx, e)
}

// RecordVaultAssigned counts a new vault against a registered trader inside
// the caller's transaction. Unregistered traders are left alone.
func (r *Registry) RecordVaultAssigned(ctx context.Context, tx store.Store, trader common.Address) error {
	t, err := tx.GetTrader(ctx, trader)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	t.TotalVaults++
	return tx.UpdateTrader(ctx, t)
}

func (r *Registry) authorize(ctx context.Context, tx store.Store, caller, trader common.Address) error {
	const op = "registry.update_reputation"

	if r.trusted[caller] {
		return nil
	}
	v, err := tx.GetVaultByAddress(ctx, caller)
	if errors.Is(err, store.ErrNotFound) {
		return model.Fail(op, model.ErrUnauthorized, "caller", "%s is not a vault", caller.Hex())
	}
	if err != nil {
		return err
	}
	if v.Trader != trader {
		return model.Fail(op, model.ErrUnauthorized, "trader", "vault %d is not managed by %s", v.ID, trader.Hex())
	}
	if v.Status != model.StatusCompleted {
		return model.Fail(op, model.ErrUnauthorized, "caller", "vault %d has not completed", v.ID)
	}
	return nil
}
