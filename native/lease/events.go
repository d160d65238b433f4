package lease

import (
	"nhblease/finance"
	"nhblease/native/lease/loan"
	"nhblease/platform"
)

const (
	EventRequestLoan      = "ls-request-loan"
	EventOpenDexAccount   = "ls-open-dex-account"
	EventOpenSwap         = "ls-open-swap"
	EventOpen             = "ls-open"
	EventRepaySwap        = "ls-repay-swap"
	EventRepay            = "ls-repay"
	EventCloseTransferIn  = "ls-close-transfer-in"
	EventClose            = "ls-close"
	EventLiquidationWarn  = "ls-liquidation-warning"
	EventLiquidationStart = "ls-liquidation-start"
	EventLiquidationSwap  = "ls-liquidation-swap"
	EventLiquidation      = "ls-liquidation"
)

func emitter(typ string, env platform.Env) *platform.Emitter {
	return platform.NewEmitter(typ).
		EmitTxInfo(env).
		EmitAddress("id", env.Self)
}

func emitReceipt(e *platform.Emitter, receipt loan.RepayReceipt) *platform.Emitter {
	return e.
		EmitCoin("payment", receipt.Payment).
		EmitAmount("prev-margin-interest", receipt.PreviousMarginPaid.Amount).
		EmitAmount("prev-loan-interest", receipt.PreviousInterestPaid.Amount).
		EmitAmount("curr-margin-interest", receipt.CurrentMarginPaid.Amount).
		EmitAmount("curr-loan-interest", receipt.CurrentInterestPaid.Amount).
		EmitAmount("principal", receipt.PrincipalPaid.Amount).
		EmitAmount("surplus", receipt.Surplus.Amount).
		EmitBool("loan-close", receipt.Close)
}

func emitLiquidationWarning(env platform.Env, customer string, ltv finance.Percent, level uint8, asset string) *platform.Emitter {
	return emitter(EventLiquidationWarn, env).
		Emit("customer", customer).
		EmitPercent("ltv", ltv).
		EmitUint("level", uint64(level)).
		Emit("lease-asset", asset)
}
