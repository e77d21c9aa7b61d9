// Package sim replays a full vault lifecycle against the ledger: mock
// stablecoins are deployed to an owner, a trader registers, the owner
// creates and funds a vault, the trader books a trade plan and completes,
// and the owner withdraws what is left.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/asset"
	"github.com/tradevault/ledger/internal/factory"
	"github.com/tradevault/ledger/internal/model"
	"github.com/tradevault/ledger/internal/registry"
)

// MockSupply is minted to the deployer of each mock stablecoin.
var MockSupply = decimal.NewFromInt(10_000_000)

// MockSymbols are the stablecoins deployed by MockTokens, in deployment order.
var MockSymbols = []string{"USDC", "USDT", "DAI"}

// MockTokens deploys one in-memory token per MockSymbols entry. Token
// addresses are derived from the deployer and deployment nonce; the whole
// supply is minted to the deployer.
func MockTokens(deployer common.Address, decimals int32) (map[string]*asset.MemoryToken, error) {
	tokens := make(map[string]*asset.MemoryToken, len(MockSymbols))
	for nonce, sym := range MockSymbols {
		t := asset.NewMemoryToken(crypto.CreateAddress(deployer, uint64(nonce)), sym, decimals)
		if err := t.Mint(deployer, MockSupply); err != nil {
			return nil, fmt.Errorf("mint %s: %w", sym, err)
		}
		tokens[sym] = t
	}
	return tokens, nil
}

// Directory returns an asset directory over tokens.
func Directory(tokens map[string]*asset.MemoryToken) *asset.Directory {
	list := make([]asset.FungibleAsset, 0, len(tokens))
	for _, sym := range MockSymbols {
		if t, ok := tokens[sym]; ok {
			list = append(list, t)
		}
	}
	return asset.NewDirectory(list...)
}

// Step is one planned trade.
type Step struct {
	IsBuy  bool
	Amount decimal.Decimal
	Price  decimal.Decimal
}

func (s Step) String() string {
	side := "sell"
	if s.IsBuy {
		side = "buy"
	}
	return fmt.Sprintf("%s:%s@%s", side, s.Amount, s.Price)
}

// ParseTrades parses a comma-separated trade plan such as
// "buy:100@1,sell:50@1.2". An empty plan is valid.
func ParseTrades(plan string) ([]Step, error) {
	steps := []Step{}
	for i, raw := range strings.Split(plan, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		side, rest, ok := strings.Cut(raw, ":")
		if !ok {
			return nil, fmt.Errorf("trade %d (%q): want side:amount@price", i, raw)
		}
		amt, px, ok := strings.Cut(rest, "@")
		if !ok {
			return nil, fmt.Errorf("trade %d (%q): missing @price", i, raw)
		}

		var s Step
		switch strings.ToLower(strings.TrimSpace(side)) {
		case "buy":
			s.IsBuy = true
		case "sell":
		default:
			return nil, fmt.Errorf("trade %d (%q): unknown side %q", i, raw, side)
		}

		var err error
		if s.Amount, err = decimal.NewFromString(strings.TrimSpace(amt)); err != nil {
			return nil, fmt.Errorf("trade %d (%q): amount: %w", i, raw, err)
		}
		if s.Price, err = decimal.NewFromString(strings.TrimSpace(px)); err != nil {
			return nil, fmt.Errorf("trade %d (%q): price: %w", i, raw, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Scenario describes one lifecycle run.
type Scenario struct {
	Owner   common.Address
	Trader  common.Address
	Asset   string // one of MockSymbols
	Deposit decimal.Decimal
	Trades  []Step
}

// Runner is the ledger a scenario runs against.
type Runner struct {
	Factory  *factory.Factory
	Registry *registry.Registry
	Tokens   map[string]*asset.MemoryToken
}

// Report is the state left behind by a scenario.
type Report struct {
	Vault        model.Vault        `json:"vault"`
	Trades       []model.Trade      `json:"trades"`
	Trader       model.Trader       `json:"trader"`
	Owner        model.OwnerSummary `json:"owner"`
	Withdrawn    decimal.Decimal    `json:"withdrawn"`
	OwnerBalance decimal.Decimal    `json:"owner_balance"`
}

// Run executes sc and reports the result. The first failing step aborts
// the run.
func (r Runner) Run(ctx context.Context, sc Scenario) (*Report, error) {
	token, ok := r.Tokens[strings.ToUpper(sc.Asset)]
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", sc.Asset)
	}

	if _, err := r.Registry.RegisterTrader(ctx, sc.Trader); err != nil {
		if !errors.Is(err, model.ErrAlreadyRegistered) {
			return nil, fmt.Errorf("register trader: %w", err)
		}
		slog.Info("trader already registered", "trader", sc.Trader.Hex())
	}

	v, err := r.Factory.CreateVault(ctx, sc.Owner, sc.Trader, token.Address())
	if err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}

	if err := token.Approve(sc.Owner, v.Address(), sc.Deposit); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	if err := v.Deposit(ctx, sc.Owner, sc.Deposit); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}

	for i, s := range sc.Trades {
		if _, err := v.ExecuteTrade(ctx, sc.Trader, s.IsBuy, s.Amount, s.Price); err != nil {
			return nil, fmt.Errorf("trade %d (%s): %w", i, s, err)
		}
	}

	if err := v.CompleteVault(ctx, sc.Trader); err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	withdrawn, err := v.Withdraw(ctx, sc.Owner)
	if errors.Is(err, model.ErrNothingToWithdraw) {
		withdrawn, err = decimal.Zero, nil
	}
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	return r.report(ctx, v.ID(), sc, token, withdrawn)
}

func (r Runner) report(ctx context.Context, id uint64, sc Scenario, token *asset.MemoryToken, withdrawn decimal.Decimal) (*Report, error) {
	v, err := r.Factory.Vault(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := v.Data(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := v.TradeHistory(ctx)
	if err != nil {
		return nil, err
	}
	trader, err := r.Registry.GetTraderInfo(ctx, sc.Trader)
	if err != nil {
		return nil, err
	}
	summary, err := r.Factory.OwnerSummary(ctx, sc.Owner)
	if err != nil {
		return nil, err
	}
	bal, err := token.BalanceOf(ctx, sc.Owner)
	if err != nil {
		return nil, err
	}

	return &Report{
		Vault:        *data,
		Trades:       trades,
		Trader:       *trader,
		Owner:        *summary,
		Withdrawn:    withdrawn,
		OwnerBalance: bal,
	}, nil
}
