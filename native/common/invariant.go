package common

import (
	"errors"
	"fmt"
)

// ErrInvariant marks an internal-consistency failure. The invocation that hit
// it is aborted and the lease keeps its previous state until an operator acts.
var ErrInvariant = errors.New("invariant violated")

// Invariant returns an ErrInvariant-wrapped error when cond does not hold.
func Invariant(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
