package finance

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("finance: amount exceeds protocol precision")
	ErrUnderflow      = errors.New("finance: amount underflow")
	ErrDivisionByZero = errors.New("finance: division by zero")
	ErrInvalidAmount  = errors.New("finance: invalid amount")
)

// amountBits bounds every coin amount to the 128-bit range used on the wire.
const amountBits = 128

// Amount is a non-negative fixed-point coin quantity expressed in the
// currency's smallest unit. Intermediate products are computed on 256 bits so
// a ratio of two 128-bit amounts never loses precision.
type Amount struct {
	v uint256.Int
}

// NewAmount builds an amount from a machine integer.
func NewAmount(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// ParseAmount decodes a base-10 string.
func ParseAmount(s string) (Amount, error) {
	var a Amount
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Amount{}, ErrInvalidAmount
	}
	if err := a.v.SetFromDecimal(trimmed); err != nil {
		return Amount{}, fmt.Errorf("%w: %s", ErrInvalidAmount, err)
	}
	if a.v.BitLen() > amountBits {
		return Amount{}, ErrOverflow
	}
	return a, nil
}

// MustParseAmount is intended for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }

// Uint64 returns the low 64 bits; callers use it only where the value is
// known to fit, e.g. in tests.
func (a Amount) Uint64() uint64 { return a.v.Uint64() }

func (a Amount) String() string { return a.v.Dec() }

func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.BitLen() > amountBits {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, ErrUnderflow
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// SaturatingSub returns a-b or zero when b exceeds a.
func (a Amount) SaturatingSub(b Amount) Amount {
	if a.v.Lt(&b.v) {
		return Amount{}
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

func (a Amount) Min(b Amount) Amount {
	if a.v.Lt(&b.v) {
		return a
	}
	return b
}

// MulDiv computes a*num/den rounding toward zero.
func MulDiv(a, num, den Amount) (Amount, error) {
	if den.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, &num.v, &den.v); overflow || out.v.BitLen() > amountBits {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

// MarshalText renders the decimal representation for JSON and TOML.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.v.Dec()), nil }

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// EncodeRLP writes the amount as a canonical rlp integer.
func (a Amount) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &a.v)
}

func (a *Amount) DecodeRLP(s *rlp.Stream) error {
	if err := s.ReadUint256(&a.v); err != nil {
		return err
	}
	if a.v.BitLen() > amountBits {
		return ErrOverflow
	}
	return nil
}

// Uint256 exposes a copy of the raw value for wire codecs.
func (a Amount) Uint256() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

// AmountFromUint256 validates a decoded wire value.
func AmountFromUint256(v *uint256.Int) (Amount, error) {
	var a Amount
	if v == nil {
		return a, nil
	}
	if v.BitLen() > amountBits {
		return Amount{}, ErrOverflow
	}
	a.v.Set(v)
	return a, nil
}
