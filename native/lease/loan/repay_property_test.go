package loan

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"nhblease/finance"
	"nhblease/platform"
)

// The pool receives exactly the loan payments of the receipts, whatever the
// sequence of payments and repayment times.
func TestPoolRequestsMatchLoanPayments(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("sum of pool requests equals sum of loan payments", prop.ForAll(
		func(payments []uint64, gaps []int) bool {
			h := newPoolHarness(t, finance.PercentFromPermille(100))
			l := openTestLoan(t, h, finance.PercentFromPermille(30), 30*finance.Day)

			var requested, paid finance.Amount
			elapsed := finance.Duration(0)
			for i := 0; i < len(payments) && i < len(gaps); i++ {
				elapsed += finance.Duration(gaps[i]) * finance.Day
				receipt, req, err := l.Repay(finance.NewCoin(payments[i], lpn), h.at(elapsed), h)
				if err != nil {
					return false
				}
				payment, err := receipt.LoanPayment()
				if err != nil || req.IsEmpty() != payment.IsZero() {
					return false
				}
				for _, sub := range req.Messages() {
					if requested, err = requested.Add(sub.Msg.(platform.ExecuteMsg).Funds[0].Amount); err != nil {
						return false
					}
				}
				if paid, err = paid.Add(payment.Amount); err != nil {
					return false
				}
				h.deliver(req)
			}
			return requested.Eq(paid)
		},
		gen.SliceOfN(8, gen.UInt64Range(0, 40_000_000)),
		gen.SliceOfN(8, gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
