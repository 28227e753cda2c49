package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

func Test_ComputeFee(t *testing.T) {
	due := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		description string
		now         time.Time
		expected    ledger.Money
	}{
		{description: "before due time", now: due.Add(-time.Hour), expected: 0},
		{description: "exactly at due time", now: due, expected: 0},
		{description: "one nanosecond late", now: due.Add(time.Nanosecond), expected: ledger.MoneyFromUnits(5)},
		{description: "three hours late", now: due.Add(3 * time.Hour), expected: ledger.MoneyFromUnits(5)},
		{description: "exactly one day late", now: due.Add(24 * time.Hour), expected: ledger.MoneyFromUnits(5)},
		{description: "twenty-five hours late", now: due.Add(25 * time.Hour), expected: ledger.MoneyFromUnits(10)},
		{description: "ten days late", now: due.Add(10 * 24 * time.Hour), expected: ledger.MoneyFromUnits(50)},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, ledger.ComputeFee(due, tc.now))
		})
	}
}

func Test_ComputeFee_From_CheckoutTime(t *testing.T) {
	// arrange
	checkout := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	session := ledger.NewRentalSession(7, 1, checkout)

	// act / assert
	assert.Equal(t, ledger.Money(0), ledger.ComputeFee(session.DueTime, checkout.Add(7*24*time.Hour)))
	assert.Equal(t, "5.00", ledger.ComputeFee(session.DueTime, checkout.Add(8*24*time.Hour)).String())
}

func Test_DaysOverdue(t *testing.T) {
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), ledger.DaysOverdue(due, due))
	assert.Equal(t, int64(1), ledger.DaysOverdue(due, due.Add(3*time.Hour)))
	assert.Equal(t, int64(2), ledger.DaysOverdue(due, due.Add(25*time.Hour)))
	assert.Equal(t, int64(0), ledger.DaysOverdue(due, due.Add(-48*time.Hour)))
}
