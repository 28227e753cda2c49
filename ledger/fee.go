package ledger

import "time"

const (
	// Day is the unit the fee policy counts in.
	Day = 24 * time.Hour

	// LoanPeriod is the fixed time between checkout and due time.
	LoanPeriod = 7 * Day

	// UnitFineRate is charged for every started day past the due time.
	UnitFineRate = Money(500)
)

// DaysOverdue returns the number of started days between due and now, or 0 when now is not after due.
func DaysOverdue(due, now time.Time) int64 {
	if !now.After(due) {
		return 0
	}

	elapsed := now.Sub(due)
	days := int64(elapsed / Day)
	if elapsed%Day != 0 {
		days++
	}

	return days
}

// ComputeFee returns the overdue fee for a session due at due and returned at now.
// A partial day counts as a full day; returning exactly at the due time costs nothing.
func ComputeFee(due, now time.Time) Money {
	return UnitFineRate * Money(DaysOverdue(due, now))
}
