package vault_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/asset"
	"github.com/tradevault/ledger/internal/events"
	"github.com/tradevault/ledger/internal/factory"
	"github.com/tradevault/ledger/internal/model"
	"github.com/tradevault/ledger/internal/registry"
	"github.com/tradevault/ledger/internal/store"
	"github.com/tradevault/ledger/internal/vault"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	owner       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	trader      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	stranger    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	guardian    = common.HexToAddress("0x4000000000000000000000000000000000000004")
	factoryAddr = common.HexToAddress("0xf000000000000000000000000000000000000000")
	tokenAddr   = common.HexToAddress("0xa000000000000000000000000000000000000000")

	epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type testEnv struct {
	st    *store.MemoryStore
	token *asset.MemoryToken
	reg   *registry.Registry
	fac   *factory.Factory
	rec   *events.Recorder
}

// newTestEnv wires a factory, registry and 6-decimal token over an
// in-memory store. The owner starts with 10000 tokens.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	clock := func() time.Time { return epoch }

	env := &testEnv{
		st:    store.NewMemoryStore(),
		token: asset.NewMemoryToken(tokenAddr, "USDC", 6),
		rec:   &events.Recorder{},
	}
	if err := env.token.Mint(owner, d(10000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.reg = registry.New(env.st, registry.WithClock(clock), registry.WithEvents(env.rec))

	fac, err := factory.New(ctx, env.st, asset.NewDirectory(env.token),
		factory.WithAddress(factoryAddr),
		factory.WithGuardian(guardian),
		factory.WithRegistry(env.reg),
		factory.WithEvents(env.rec),
		factory.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	env.fac = fac
	return env
}

func (e *testEnv) newVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := e.fac.CreateVault(context.Background(), owner, trader, tokenAddr)
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return v
}

// fundedVault creates a vault and deposits amount into it.
func (e *testEnv) fundedVault(t *testing.T, amount decimal.Decimal) *vault.Vault {
	t.Helper()
	v := e.newVault(t)
	if err := e.token.Approve(owner, v.Address(), amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := v.Deposit(context.Background(), owner, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return v
}

func (e *testEnv) register(t *testing.T, id common.Address) {
	t.Helper()
	if _, err := e.reg.RegisterTrader(context.Background(), id); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func data(t *testing.T, v *vault.Vault) *model.Vault {
	t.Helper()
	got, err := v.Data(context.Background())
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	return got
}

func balance(t *testing.T, a asset.FungibleAsset, id common.Address) decimal.Decimal {
	t.Helper()
	b, err := a.BalanceOf(context.Background(), id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

// --- Deposit ---

func TestDeposit_Success(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	got := data(t, v)
	if !got.InitialAmount.Equal(d(1000)) || !got.CurrentBalance.Equal(d(1000)) {
		t.Errorf("expected initial=current=1000, got %s/%s", got.InitialAmount, got.CurrentBalance)
	}
	if !got.StartTime.Equal(epoch) {
		t.Errorf("expected start time %v, got %v", epoch, got.StartTime)
	}
	if b := balance(t, env.token, owner); !b.Equal(d(9000)) {
		t.Errorf("owner should hold 9000, got %s", b)
	}
	if b := balance(t, env.token, v.Address()); !b.Equal(d(1000)) {
		t.Errorf("vault should hold 1000, got %s", b)
	}

	deps := env.rec.OfType(events.TypeDeposited)
	if len(deps) != 1 {
		t.Fatalf("expected 1 deposit event, got %d", len(deps))
	}
	if deps[0].Caller != owner || !deps[0].Amount.Equal(d(1000)) {
		t.Errorf("unexpected deposit event: %+v", deps[0])
	}
}

func TestDeposit_OnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	env.token.Approve(owner, v.Address(), d(500))
	err := v.Deposit(context.Background(), owner, d(500))
	wantKind(t, err, model.ErrInvalidState)

	got := data(t, v)
	if !got.InitialAmount.Equal(d(1000)) || !got.CurrentBalance.Equal(d(1000)) {
		t.Errorf("second deposit must not change balances, got %s/%s", got.InitialAmount, got.CurrentBalance)
	}
	if b := balance(t, env.token, owner); !b.Equal(d(9000)) {
		t.Errorf("second deposit must not move tokens, owner has %s", b)
	}
}

func TestDeposit_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVault(t)

	err := v.Deposit(context.Background(), trader, d(100))
	wantKind(t, err, model.ErrUnauthorized)
}

func TestDeposit_InvalidAmounts(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVault(t)
	env.token.Approve(owner, v.Address(), d(1000))

	for _, amt := range []decimal.Decimal{d(0), d(-5), decimal.RequireFromString("0.0000001")} {
		err := v.Deposit(context.Background(), owner, amt)
		wantKind(t, err, model.ErrInvalidAmount)
	}
	if got := data(t, v); got.Funded() {
		t.Error("vault should remain unfunded")
	}
}

func TestDeposit_FailedPullLeavesVaultUntouched(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVault(t)

	// No allowance granted.
	err := v.Deposit(context.Background(), owner, d(100))
	if !errors.Is(err, asset.ErrInsufficientAllowance) {
		t.Fatalf("expected asset allowance error, got %v", err)
	}
	if model.KindOf(err) != nil {
		t.Errorf("asset errors should pass through unchanged, got kind %v", model.KindOf(err))
	}

	got := data(t, v)
	if got.Funded() || !got.CurrentBalance.IsZero() {
		t.Errorf("vault should be untouched, got %s/%s", got.InitialAmount, got.CurrentBalance)
	}
	if len(env.rec.OfType(events.TypeDeposited)) != 0 {
		t.Error("no deposit event expected")
	}
}

// failingStore rejects every UpdateVault made inside a transaction.
type failingStore struct {
	store.Store
}

func (s failingStore) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx store.Store) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	store.Store
}

var errDisk = errors.New("disk full")

func (failingTx) UpdateVault(context.Context, *model.Vault) error { return errDisk }

func TestDeposit_CommitFailureRefundsOwner(t *testing.T) {
	env := newTestEnv(t)
	created := env.newVault(t)

	v := vault.New(created.ID(), created.Address(), vault.Deps{
		Store: failingStore{env.st},
		Asset: env.token,
	})
	env.token.Approve(owner, v.Address(), d(1000))

	err := v.Deposit(context.Background(), owner, d(1000))
	if !errors.Is(err, errDisk) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if b := balance(t, env.token, owner); !b.Equal(d(10000)) {
		t.Errorf("owner should be refunded to 10000, got %s", b)
	}
	if b := balance(t, env.token, v.Address()); !b.IsZero() {
		t.Errorf("vault should hold nothing, got %s", b)
	}
}

// --- Trading ---

func TestExecuteTrade_Buy(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	tr, err := v.ExecuteTrade(context.Background(), trader, true, d(100), d(1))
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if tr.ID != 0 || !tr.IsBuy || !tr.Timestamp.Equal(epoch) {
		t.Errorf("unexpected trade record: %+v", tr)
	}
	if got := data(t, v); !got.CurrentBalance.Equal(d(900)) {
		t.Errorf("expected balance 900, got %s", got.CurrentBalance)
	}
	// Trading is bookkeeping only.
	if b := balance(t, env.token, v.Address()); !b.Equal(d(1000)) {
		t.Errorf("vault token balance should stay 1000, got %s", b)
	}
}

func TestExecuteTrade_SellCreditsProceeds(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if _, err := v.ExecuteTrade(ctx, trader, true, d(100), d(1)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := v.ExecuteTrade(ctx, trader, false, d(50), d(1.2)); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if got := data(t, v); !got.CurrentBalance.Equal(d(960)) {
		t.Errorf("expected 900 + 50×1.2 = 960, got %s", got.CurrentBalance)
	}
}

func TestExecuteTrade_SellTruncatesToPrecision(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	// 1 × 0.3333333 = 0.3333333, truncated to 6 places.
	if _, err := v.ExecuteTrade(context.Background(), trader, false, d(1), decimal.RequireFromString("0.3333333")); err != nil {
		t.Fatalf("sell: %v", err)
	}
	want := decimal.RequireFromString("1000.333333")
	if got := data(t, v); !got.CurrentBalance.Equal(want) {
		t.Errorf("expected %s, got %s", want, got.CurrentBalance)
	}
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	_, err := v.ExecuteTrade(context.Background(), trader, true, d(1001), d(1))
	wantKind(t, err, model.ErrInsufficientFunds)

	n, _ := v.TradeCount(context.Background())
	if n != 0 {
		t.Errorf("rejected trade must not be logged, count=%d", n)
	}
	if got := data(t, v); !got.CurrentBalance.Equal(d(1000)) {
		t.Errorf("balance should be unchanged, got %s", got.CurrentBalance)
	}
}

func TestExecuteTrade_BuyWholeBalance(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	if _, err := v.ExecuteTrade(context.Background(), trader, true, d(1000), d(1)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	if got := data(t, v); !got.CurrentBalance.IsZero() {
		t.Errorf("expected zero balance, got %s", got.CurrentBalance)
	}
}

func TestExecuteTrade_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	_, err := v.ExecuteTrade(context.Background(), owner, true, d(10), d(1))
	wantKind(t, err, model.ErrUnauthorized)
}

func TestExecuteTrade_InvalidAmounts(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	_, err := v.ExecuteTrade(ctx, trader, true, d(0), d(1))
	wantKind(t, err, model.ErrInvalidAmount)

	_, err = v.ExecuteTrade(ctx, trader, false, d(10), d(0))
	wantKind(t, err, model.ErrInvalidAmount)

	_, err = v.ExecuteTrade(ctx, trader, false, d(-10), d(1))
	wantKind(t, err, model.ErrInvalidAmount)
}

func TestExecuteTrade_UnfundedVault(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVault(t)

	_, err := v.ExecuteTrade(context.Background(), trader, false, d(10), d(1))
	wantKind(t, err, model.ErrInvalidState)
}

func TestExecuteTrade_SequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := v.ExecuteTrade(ctx, trader, i%2 == 0, d(10), d(1)); err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
	}

	history, err := v.TradeHistory(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 trades, got %d", len(history))
	}
	for i, tr := range history {
		if tr.ID != uint64(i) {
			t.Errorf("trade %d has id %d", i, tr.ID)
		}
		if tr.IsBuy != (i%2 == 0) {
			t.Errorf("trade %d side out of order", i)
		}
	}
	if n, _ := v.TradeCount(ctx); n != 5 {
		t.Errorf("expected count 5, got %d", n)
	}
}

func TestExecuteTrade_ConcurrentBuys(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.ExecuteTrade(ctx, trader, true, d(10), d(1)); err != nil {
				t.Errorf("trade: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := data(t, v); !got.CurrentBalance.Equal(d(500)) {
		t.Errorf("expected 500 after 50 buys of 10, got %s", got.CurrentBalance)
	}
	history, _ := v.TradeHistory(ctx)
	if len(history) != 50 {
		t.Fatalf("expected 50 trades, got %d", len(history))
	}
	for i, tr := range history {
		if tr.ID != uint64(i) {
			t.Fatalf("trade ids must be dense: index %d has id %d", i, tr.ID)
		}
	}
}

// --- Completion ---

func TestCompleteVault_LossScenario(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, trader)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if _, err := v.ExecuteTrade(ctx, trader, true, d(100), d(1)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	if err := v.CompleteVault(ctx, trader); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got := data(t, v)
	if got.Status != model.StatusCompleted {
		t.Errorf("expected Completed, got %s", got.Status)
	}
	if !got.TotalReturns.Equal(d(-100)) {
		t.Errorf("expected returns -100, got %s", got.TotalReturns)
	}
	if !got.EndTime.Equal(epoch) {
		t.Errorf("expected end time %v, got %v", epoch, got.EndTime)
	}

	info, err := env.reg.GetTraderInfo(ctx, trader)
	if err != nil {
		t.Fatalf("trader info: %v", err)
	}
	if info.CompletedVaults != 1 {
		t.Errorf("expected 1 completed vault, got %d", info.CompletedVaults)
	}
	if info.ReputationScore >= registry.InitialScore {
		t.Errorf("loss should lower the score below %d, got %d", registry.InitialScore, info.ReputationScore)
	}
	if !info.TotalVolume.Equal(d(1000)) || !info.AverageReturns.Equal(d(-100)) {
		t.Errorf("unexpected volume/average: %s/%s", info.TotalVolume, info.AverageReturns)
	}

	amount, err := v.Withdraw(ctx, owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !amount.Equal(d(900)) {
		t.Errorf("expected withdrawal of 900, got %s", amount)
	}
	if b := balance(t, env.token, owner); !b.Equal(d(9900)) {
		t.Errorf("owner should hold 9900, got %s", b)
	}
	if got := data(t, v); !got.CurrentBalance.IsZero() || got.Status != model.StatusCompleted {
		t.Errorf("after withdraw expected zero balance and Completed, got %s/%s", got.CurrentBalance, got.Status)
	}

	_, err = v.Withdraw(ctx, owner)
	wantKind(t, err, model.ErrNothingToWithdraw)
}

func TestCompleteVault_ProfitRaisesScore(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, trader)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if _, err := v.ExecuteTrade(ctx, trader, false, d(50), d(1)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	if err := v.CompleteVault(ctx, trader); err != nil {
		t.Fatalf("complete: %v", err)
	}

	info, _ := env.reg.GetTraderInfo(ctx, trader)
	if info.ReputationScore != 105 {
		t.Errorf("expected score 105 for +5%%, got %d", info.ReputationScore)
	}
	if len(env.rec.OfType(events.TypeReputationUpdated)) != 1 {
		t.Error("expected one reputation event")
	}
}

func TestCompleteVault_UnregisteredTraderStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if err := v.CompleteVault(ctx, trader); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := data(t, v); got.Status != model.StatusCompleted {
		t.Errorf("expected Completed, got %s", got.Status)
	}
	if len(env.rec.OfType(events.TypeReputationUpdated)) != 0 {
		t.Error("no reputation event expected for an unregistered trader")
	}
	if _, err := v.Withdraw(ctx, owner); err != nil {
		t.Errorf("owner should still be able to withdraw: %v", err)
	}
}

func TestCompleteVault_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	err := v.CompleteVault(context.Background(), owner)
	wantKind(t, err, model.ErrUnauthorized)
}

func TestCompleteVault_Twice(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, trader)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if err := v.CompleteVault(ctx, trader); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := v.CompleteVault(ctx, trader)
	wantKind(t, err, model.ErrInvalidState)

	info, _ := env.reg.GetTraderInfo(ctx, trader)
	if info.CompletedVaults != 1 {
		t.Errorf("second completion must not count, got %d", info.CompletedVaults)
	}
}

func TestCompletedVault_RejectsTradesAndPause(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if err := v.CompleteVault(ctx, trader); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := v.ExecuteTrade(ctx, trader, true, d(10), d(1))
	wantKind(t, err, model.ErrInvalidState)

	err = v.Pause(ctx, owner)
	wantKind(t, err, model.ErrInvalidState)
}

// --- Pause ---

func TestPause_ByOwnerThenWithdraw(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	if _, err := v.ExecuteTrade(ctx, trader, true, d(200), d(1)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	if err := v.Pause(ctx, owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := data(t, v); got.Status != model.StatusPaused {
		t.Errorf("expected Paused, got %s", got.Status)
	}

	_, err := v.ExecuteTrade(ctx, trader, true, d(10), d(1))
	wantKind(t, err, model.ErrInvalidState)
	err = v.CompleteVault(ctx, trader)
	wantKind(t, err, model.ErrInvalidState)

	amount, err := v.Withdraw(ctx, owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !amount.Equal(d(800)) {
		t.Errorf("expected 800, got %s", amount)
	}
}

func TestPause_ByGuardian(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	if err := v.Pause(context.Background(), guardian); err != nil {
		t.Fatalf("guardian pause: %v", err)
	}
	if got := data(t, v); got.Status != model.StatusPaused {
		t.Errorf("expected Paused, got %s", got.Status)
	}
}

func TestPause_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	for _, caller := range []common.Address{trader, stranger} {
		err := v.Pause(context.Background(), caller)
		wantKind(t, err, model.ErrUnauthorized)
	}
}

// --- Withdraw ---

func TestWithdraw_WhileActive(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))

	_, err := v.Withdraw(context.Background(), owner)
	wantKind(t, err, model.ErrInvalidState)
}

func TestWithdraw_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	if err := v.CompleteVault(context.Background(), trader); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err := v.Withdraw(context.Background(), trader)
	wantKind(t, err, model.ErrUnauthorized)
}

func TestWithdraw_FailedPushRestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()
	if err := v.CompleteVault(ctx, trader); err != nil {
		t.Fatalf("complete: %v", err)
	}

	boom := errors.New("transfer reverted")
	env.token.FailPush = boom

	_, err := v.Withdraw(ctx, owner)
	if !errors.Is(err, boom) {
		t.Fatalf("expected push error, got %v", err)
	}
	if got := data(t, v); !got.CurrentBalance.Equal(d(1000)) {
		t.Errorf("balance should be restored to 1000, got %s", got.CurrentBalance)
	}
	if len(env.rec.OfType(events.TypeWithdrawn)) != 0 {
		t.Error("no withdrawn event expected")
	}

	amount, err := v.Withdraw(ctx, owner)
	if err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
	if !amount.Equal(d(1000)) {
		t.Errorf("expected 1000 on retry, got %s", amount)
	}
}

// --- Queries ---

func TestCalculateReturns_BeforeCompletion(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()

	r, err := v.CalculateReturns(ctx)
	if err != nil || !r.IsZero() {
		t.Fatalf("expected zero returns, got %s (%v)", r, err)
	}

	if _, err := v.ExecuteTrade(ctx, trader, true, d(250), d(1)); err != nil {
		t.Fatalf("trade: %v", err)
	}
	r, _ = v.CalculateReturns(ctx)
	if !r.Equal(d(-250)) {
		t.Errorf("expected unrealized -250, got %s", r)
	}
}

func TestQueries_AreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	v := env.fundedVault(t, d(1000))
	ctx := context.Background()
	if _, err := v.ExecuteTrade(ctx, trader, true, d(10), d(1)); err != nil {
		t.Fatalf("trade: %v", err)
	}

	a, b := data(t, v), data(t, v)
	if !a.CurrentBalance.Equal(b.CurrentBalance) || a.Status != b.Status || !a.InitialAmount.Equal(b.InitialAmount) {
		t.Errorf("repeated Data calls differ: %+v vs %+v", a, b)
	}
	h1, _ := v.TradeHistory(ctx)
	h2, _ := v.TradeHistory(ctx)
	if len(h1) != 1 || len(h2) != 1 || h1[0].ID != h2[0].ID || !h1[0].Amount.Equal(h2[0].Amount) {
		t.Error("repeated TradeHistory calls differ")
	}
	if n, _ := v.TradeCount(ctx); n != 1 {
		t.Errorf("expected count 1, got %d", n)
	}
}
