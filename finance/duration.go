package finance

import (
	"strconv"
	"time"
)

// Timestamp is a point in time expressed in nanoseconds since the Unix epoch,
// the resolution the host runtime reports block time with.
type Timestamp uint64

// Duration is a non-negative timespan between two timestamps.
type Duration uint64

const (
	Nanosecond Duration = 1
	Second     Duration = 1_000_000_000 * Nanosecond
	Hour       Duration = 3600 * Second
	Day        Duration = 24 * Hour
	// Year is the fixed 365-day year all annual rates are quoted against.
	Year Duration = 365 * Day
)

func TimestampFromSeconds(secs uint64) Timestamp { return Timestamp(secs * uint64(Second)) }

func TimestampFromTime(t time.Time) Timestamp {
	if t.UnixNano() <= 0 {
		return 0
	}
	return Timestamp(t.UnixNano())
}

func (t Timestamp) Nanos() uint64 { return uint64(t) }

func (t Timestamp) Seconds() uint64 { return uint64(t) / uint64(Second) }

func (t Timestamp) Add(d Duration) Timestamp { return t + Timestamp(d) }

// Sub moves the timestamp backwards saturating at the epoch.
func (t Timestamp) Sub(d Duration) Timestamp {
	if Timestamp(d) > t {
		return 0
	}
	return t - Timestamp(d)
}

func (t Timestamp) Before(o Timestamp) bool { return t < o }

func (t Timestamp) After(o Timestamp) bool { return t > o }

func (t Timestamp) Time() time.Time { return time.Unix(0, int64(t)).UTC() }

func (t Timestamp) String() string { return strconv.FormatUint(uint64(t), 10) }

func DurationFromSecs(secs uint32) Duration { return Duration(secs) * Second }

func DurationFromNanos(nanos uint64) Duration { return Duration(nanos) }

func DurationFromStd(d time.Duration) Duration {
	if d <= 0 {
		return 0
	}
	return Duration(d)
}

// Between returns end-start, saturating at zero when end precedes start.
// Callers that must reject reversed intervals check the order beforehand.
func Between(start, end Timestamp) Duration {
	if end < start {
		return 0
	}
	return Duration(end - start)
}

func (d Duration) Nanos() uint64 { return uint64(d) }

func (d Duration) Secs() uint64 { return uint64(d / Second) }

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) Add(o Duration) Duration { return d + o }

// Sub subtracts saturating at zero.
func (d Duration) Sub(o Duration) Duration {
	if o > d {
		return 0
	}
	return d - o
}

// AnnualizedSliceOf returns the share of an annual amount that accrues over d.
func (d Duration) AnnualizedSliceOf(annual Amount) (Amount, error) {
	return MulDiv(annual, NewAmount(uint64(d)), NewAmount(uint64(Year)))
}

// IntoSlicePerRatio scales d by part/whole. part must not exceed whole.
func (d Duration) IntoSlicePerRatio(part, whole Amount) (Duration, error) {
	if whole.IsZero() {
		return 0, ErrDivisionByZero
	}
	if whole.Lt(part) {
		return 0, ErrOverflow
	}
	slice, err := MulDiv(NewAmount(uint64(d)), part, whole)
	if err != nil {
		return 0, err
	}
	return Duration(slice.Uint64()), nil
}

func (d Duration) String() string { return time.Duration(d).String() }
