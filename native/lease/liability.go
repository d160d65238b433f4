package lease

import (
	"errors"
	"fmt"

	"nhblease/finance"
)

// Liability bounds the loan-to-value of a lease. All levels are permille of
// the position value.
type Liability struct {
	Initial       finance.Percent  `json:"initial" toml:"initial" yaml:"initial"`
	Healthy       finance.Percent  `json:"healthy" toml:"healthy" yaml:"healthy"`
	FirstLiqWarn  finance.Percent  `json:"first_liq_warn" toml:"first_liq_warn" yaml:"first_liq_warn"`
	SecondLiqWarn finance.Percent  `json:"second_liq_warn" toml:"second_liq_warn" yaml:"second_liq_warn"`
	ThirdLiqWarn  finance.Percent  `json:"third_liq_warn" toml:"third_liq_warn" yaml:"third_liq_warn"`
	Max           finance.Percent  `json:"max" toml:"max" yaml:"max"`
	RecalcTime    finance.Duration `json:"recalc_time" toml:"recalc_time" yaml:"recalc_time"`
}

func (l Liability) Validate() error {
	switch {
	case l.Initial.IsZero():
		return fmt.Errorf("%w: zero initial ltv", ErrInvalidForm)
	case l.Initial > l.Healthy:
		return fmt.Errorf("%w: initial ltv %s above healthy %s", ErrInvalidForm, l.Initial, l.Healthy)
	case !(l.Healthy < l.FirstLiqWarn && l.FirstLiqWarn < l.SecondLiqWarn &&
		l.SecondLiqWarn < l.ThirdLiqWarn && l.ThirdLiqWarn < l.Max):
		return fmt.Errorf("%w: liability levels are not increasing", ErrInvalidForm)
	case l.Max >= finance.PercentHundred:
		return fmt.Errorf("%w: max ltv %s not below 100%%", ErrInvalidForm, l.Max)
	case l.RecalcTime == 0:
		return fmt.Errorf("%w: zero recalculation period", ErrInvalidForm)
	}
	return nil
}

// InitBorrowAmount is the loan that brings downpayment to the initial ltv.
func (l Liability) InitBorrowAmount(downpayment finance.Amount) (finance.Amount, error) {
	return finance.MulDiv(downpayment,
		finance.NewAmount(uint64(l.Initial)),
		finance.NewAmount(uint64(finance.PercentHundred-l.Initial)))
}

// WarningLevel returns 1 to 3 for an ltv in a warning zone and 0 otherwise.
func (l Liability) WarningLevel(ltv finance.Percent) uint8 {
	switch {
	case ltv >= l.ThirdLiqWarn:
		return 3
	case ltv >= l.SecondLiqWarn:
		return 2
	case ltv >= l.FirstLiqWarn:
		return 1
	default:
		return 0
	}
}

// NextLevel is the lowest level above ltv that triggers a recheck.
func (l Liability) NextLevel(ltv finance.Percent) finance.Percent {
	for _, level := range []finance.Percent{l.FirstLiqWarn, l.SecondLiqWarn, l.ThirdLiqWarn} {
		if ltv < level {
			return level
		}
	}
	return l.Max
}

// AmountToLiquidate is the part of the position, in the liability currency,
// whose sale brings the ltv back to healthy:
//
//	(liability - healthy * value) / (1 - healthy)
//
// It is zero while the ltv stays below max.
func (l Liability) AmountToLiquidate(liability, value finance.Amount) (finance.Amount, error) {
	if value.IsZero() {
		return liability, nil
	}
	ltv, err := finance.PercentOfRatio(liability, value)
	if errors.Is(err, finance.ErrPercentOverflow) {
		// the liability dwarfs the position
		return liability, nil
	} else if err != nil {
		return finance.Amount{}, err
	}
	if ltv < l.Max {
		return finance.Amount{}, nil
	}
	healthyValue, err := l.Healthy.Of(value)
	if err != nil {
		return finance.Amount{}, err
	}
	excess := liability.SaturatingSub(healthyValue)
	return finance.MulDiv(excess,
		finance.NewAmount(uint64(finance.PercentHundred)),
		finance.NewAmount(uint64(finance.PercentHundred-l.Healthy)))
}
