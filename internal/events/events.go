// Package events carries ledger events out of the ledger once a mutation
// has committed. Sinks never influence the outcome of the call that
// emitted the event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types.
const (
	TypeVaultCreated      = "vault_created"
	TypeDeposited         = "deposited"
	TypeTradeExecuted     = "trade_executed"
	TypeVaultCompleted    = "vault_completed"
	TypeVaultPaused       = "vault_paused"
	TypeWithdrawn         = "withdrawn"
	TypeTraderRegistered  = "trader_registered"
	TypeReputationUpdated = "reputation_updated"
)

// Event is a committed ledger fact. Fields not relevant to Type are zero.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	VaultID   uint64          `json:"vault_id"`
	Vault     common.Address  `json:"vault,omitempty"`
	Owner     common.Address  `json:"owner,omitempty"`
	Trader    common.Address  `json:"trader,omitempty"`
	Asset     common.Address  `json:"asset,omitempty"`
	Caller    common.Address  `json:"caller,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	IsBuy     bool            `json:"is_buy,omitempty"`
	TradeID   uint64          `json:"trade_id,omitempty"`
	Returns   decimal.Decimal `json:"returns"`
	Score     uint64          `json:"score,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New stamps an event with a fresh ID.
func New(typ string, at time.Time) Event {
	return Event{ID: uuid.New().String(), Type: typ, Timestamp: at}
}

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

// Logger writes events to a structured logger.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Publish(ctx context.Context, e Event) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "ledger event",
		"event_id", e.ID,
		"type", e.Type,
		"vault_id", e.VaultID,
		"amount", e.Amount.String(),
	)
}

// Recorder keeps every event in memory. Used in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
