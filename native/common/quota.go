package common

import (
	"errors"
	"math"

	"nhblease/finance"
)

var (
	ErrQuotaLeasesExceeded      = errors.New("quota leases exceeded")
	ErrQuotaDownpaymentExceeded = errors.New("quota downpayment cap exceeded")
	ErrQuotaCounterOverflow     = errors.New("quota counter overflow")
)

// QuotaNow is what one customer has opened in the current epoch.
type QuotaNow struct {
	Leases      uint32         `json:"leases"`
	Downpayment finance.Amount `json:"downpayment"`
	EpochID     uint64         `json:"epoch_id"`
}

// Quota limits the leases a customer opens per epoch. A zero limit is not
// enforced.
type Quota struct {
	MaxLeasesPerEpoch      uint32
	MaxDownpaymentPerEpoch finance.Amount
	EpochSeconds           uint32
}

// Epoch numbers the window now falls into. Without an epoch length all time
// is one epoch.
func (q Quota) Epoch(now finance.Timestamp) uint64 {
	if q.EpochSeconds == 0 {
		return 0
	}
	return now.Seconds() / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether addLeases more leases with addDownpayment fit
// the quota. The returned QuotaNow holds the updated counters when they do,
// otherwise prev.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addLeases uint32, addDownpayment finance.Amount) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addLeases > 0 {
		if next.Leases > math.MaxUint32-addLeases {
			return prev, ErrQuotaCounterOverflow
		}
		next.Leases += addLeases
	}
	if q.MaxLeasesPerEpoch > 0 && next.Leases > q.MaxLeasesPerEpoch {
		return prev, ErrQuotaLeasesExceeded
	}

	used, err := next.Downpayment.Add(addDownpayment)
	if err != nil {
		return prev, ErrQuotaCounterOverflow
	}
	next.Downpayment = used
	if !q.MaxDownpaymentPerEpoch.IsZero() && q.MaxDownpaymentPerEpoch.Lt(next.Downpayment) {
		return prev, ErrQuotaDownpaymentExceeded
	}

	return next, nil
}
