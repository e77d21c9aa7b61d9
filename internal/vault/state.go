package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/model"
)

// The apply* functions are the vault state machine. Each checks its guards
// in a fixed order against v and returns the next state; v itself is never
// modified, so a rejected call leaves no trace.

func applyDeposit(v model.Vault, caller common.Address, amount decimal.Decimal, decimals int32, now time.Time) (model.Vault, error) {
	const op = "vault.deposit"

	if caller != v.Owner {
		return v, model.Fail(op, model.ErrUnauthorized, "caller", "only the owner can deposit")
	}
	if v.Status != model.StatusActive {
		return v, model.Fail(op, model.ErrInvalidState, "status", "vault is %s", v.Status)
	}
	if v.Funded() {
		return v, model.Fail(op, model.ErrInvalidState, "initial_amount", "vault already funded with %s", v.InitialAmount)
	}
	if !model.ValidAmount(amount, decimals) {
		return v, model.Fail(op, model.ErrInvalidAmount, "amount", "%s", amount)
	}

	v.InitialAmount = amount
	v.CurrentBalance = amount
	v.StartTime = now
	return v, nil
}

// applyTrade books one trade. A buy commits amount of the balance; a sell
// credits amount × price, truncated to the asset precision.
func applyTrade(v model.Vault, nextID uint64, caller common.Address, isBuy bool, amount, price decimal.Decimal, decimals int32, now time.Time) (model.Vault, model.Trade, error) {
	const op = "vault.execute_trade"

	if caller != v.Trader {
		return v, model.Trade{}, model.Fail(op, model.ErrUnauthorized, "caller", "only the trader can execute trades")
	}
	if v.Status != model.StatusActive {
		return v, model.Trade{}, model.Fail(op, model.ErrInvalidState, "status", "vault is %s", v.Status)
	}
	if !v.Funded() {
		return v, model.Trade{}, model.Fail(op, model.ErrInvalidState, "initial_amount", "vault has no deposit")
	}
	if isBuy && amount.GreaterThan(v.CurrentBalance) {
		return v, model.Trade{}, model.Fail(op, model.ErrInsufficientFunds, "amount",
			"buy of %s exceeds balance %s", amount, v.CurrentBalance)
	}
	if !model.ValidAmount(amount, decimals) {
		return v, model.Trade{}, model.Fail(op, model.ErrInvalidAmount, "amount", "%s", amount)
	}
	if !price.IsPositive() {
		return v, model.Trade{}, model.Fail(op, model.ErrInvalidAmount, "price", "%s", price)
	}

	if isBuy {
		v.CurrentBalance = v.CurrentBalance.Sub(amount)
	} else {
		v.CurrentBalance = v.CurrentBalance.Add(amount.Mul(price).Truncate(decimals))
	}

	t := model.Trade{
		VaultID:   v.ID,
		ID:        nextID,
		IsBuy:     isBuy,
		Amount:    amount,
		Price:     price,
		Timestamp: now,
	}
	return v, t, nil
}

func applyComplete(v model.Vault, caller common.Address, now time.Time) (model.Vault, error) {
	const op = "vault.complete"

	if caller != v.Trader {
		return v, model.Fail(op, model.ErrUnauthorized, "caller", "only the trader can complete the vault")
	}
	if v.Status != model.StatusActive {
		return v, model.Fail(op, model.ErrInvalidState, "status", "vault is %s", v.Status)
	}

	v.Status = model.StatusCompleted
	v.EndTime = now
	v.TotalReturns = v.Returns()
	return v, nil
}

// applyPause halts trading. The owner may pause; so may the guardian when
// one is configured.
func applyPause(v model.Vault, caller, guardian common.Address, now time.Time) (model.Vault, error) {
	const op = "vault.pause"

	isGuardian := guardian != (common.Address{}) && caller == guardian
	if caller != v.Owner && !isGuardian {
		return v, model.Fail(op, model.ErrUnauthorized, "caller", "only the owner or guardian can pause")
	}
	if v.Status != model.StatusActive {
		return v, model.Fail(op, model.ErrInvalidState, "status", "vault is %s", v.Status)
	}

	v.Status = model.StatusPaused
	v.EndTime = now
	return v, nil
}

func applyWithdraw(v model.Vault, caller common.Address) (model.Vault, decimal.Decimal, error) {
	const op = "vault.withdraw"

	if caller != v.Owner {
		return v, decimal.Zero, model.Fail(op, model.ErrUnauthorized, "caller", "only the owner can withdraw")
	}
	if !v.Status.Terminal() {
		return v, decimal.Zero, model.Fail(op, model.ErrInvalidState, "status", "vault is %s", v.Status)
	}
	if !v.CurrentBalance.IsPositive() {
		return v, decimal.Zero, model.Fail(op, model.ErrNothingToWithdraw, "current_balance", "")
	}

	amount := v.CurrentBalance
	v.CurrentBalance = decimal.Zero
	return v, amount, nil
}
