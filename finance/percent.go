package finance

import (
	"errors"
	"fmt"
	"math"
)

var ErrPercentOverflow = errors.New("finance: percent out of range")

// Percent is a rate in permille units: 1000 represents 100%.
type Percent uint32

const (
	PercentZero    Percent = 0
	PercentHundred Percent = 1000
)

func PercentFromPercent(p uint16) Percent { return Percent(uint32(p) * 10) }

func PercentFromPermille(p uint32) Percent { return Percent(p) }

func (p Percent) Units() uint32 { return uint32(p) }

func (p Percent) IsZero() bool { return p == 0 }

func (p Percent) Add(o Percent) (Percent, error) {
	sum := uint64(p) + uint64(o)
	if sum > math.MaxUint32 {
		return 0, ErrPercentOverflow
	}
	return Percent(sum), nil
}

func (p Percent) Sub(o Percent) (Percent, error) {
	if o > p {
		return 0, ErrPercentOverflow
	}
	return p - o, nil
}

// Of returns the share of amount this rate represents.
func (p Percent) Of(amount Amount) (Amount, error) {
	return MulDiv(amount, NewAmount(uint64(p)), NewAmount(uint64(PercentHundred)))
}

// PercentOfRatio expresses part/whole in permille. The ratio may exceed 100%
// but has to fit the unit range.
func PercentOfRatio(part, whole Amount) (Percent, error) {
	if whole.IsZero() {
		return 0, ErrDivisionByZero
	}
	ratio, err := MulDiv(part, NewAmount(uint64(PercentHundred)), whole)
	if err != nil {
		return 0, err
	}
	if ratio.Cmp(NewAmount(math.MaxUint32)) > 0 {
		return 0, ErrPercentOverflow
	}
	return Percent(ratio.Uint64()), nil
}

func (p Percent) String() string {
	return fmt.Sprintf("%d.%d%%", p/10, p%10)
}
