package finance

// InterestPeriod accrues interest at Rate over [Start, Start+Length).
// Payments move Start forward by the slice of time they paid for.
type InterestPeriod struct {
	Start  Timestamp
	Length Duration
	Rate   Percent
}

func NewInterestPeriod(rate Percent) InterestPeriod {
	return InterestPeriod{Rate: rate}
}

func (p InterestPeriod) From(start Timestamp) InterestPeriod {
	p.Start = start
	return p
}

func (p InterestPeriod) Spanning(length Duration) InterestPeriod {
	p.Length = length
	return p
}

func (p InterestPeriod) Till() Timestamp { return p.Start.Add(p.Length) }

func (p InterestPeriod) ZeroLength() bool { return p.Length == 0 }

// Interest accrued over the whole period.
func (p InterestPeriod) Interest(principal Amount) (Amount, error) {
	return p.InterestBy(principal, p.Till())
}

// InterestBy returns the interest accrued from Start until by, with by
// clamped into the period.
func (p InterestPeriod) InterestBy(principal Amount, by Timestamp) (Amount, error) {
	elapsed := Between(p.Start, p.clamp(by))
	annual, err := p.Rate.Of(principal)
	if err != nil {
		return Amount{}, err
	}
	return elapsed.AnnualizedSliceOf(annual)
}

// Pay applies payment toward the interest due by the given time and returns
// the shifted period together with the unspent change. When nothing is due
// the whole elapsed slice is considered paid.
func (p InterestPeriod) Pay(principal, payment Amount, by Timestamp) (InterestPeriod, Amount, error) {
	within := p.clamp(by)
	due, err := p.InterestBy(principal, within)
	if err != nil {
		return p, Amount{}, err
	}
	elapsed := Between(p.Start, within)
	repaid := due.Min(payment)

	paidFor := elapsed
	if !due.IsZero() {
		paidFor, err = elapsed.IntoSlicePerRatio(repaid, due)
		if err != nil {
			return p, Amount{}, err
		}
	}
	change, err := payment.Sub(repaid)
	if err != nil {
		return p, Amount{}, err
	}
	return p.shiftStart(paidFor), change, nil
}

func (p InterestPeriod) clamp(by Timestamp) Timestamp {
	if by < p.Start {
		return p.Start
	}
	if till := p.Till(); by > till {
		return till
	}
	return by
}

func (p InterestPeriod) shiftStart(d Duration) InterestPeriod {
	p.Start = p.Start.Add(d)
	p.Length = p.Length.Sub(d)
	return p
}
