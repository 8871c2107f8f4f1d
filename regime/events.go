package regime

import "time"

// PolicyEvent is a dated monetary-policy action used to validate detected
// regime transitions against known ground truth.
type PolicyEvent struct {
	Date  time.Time
	Label string
}

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// BOJEvents returns the Bank of Japan policy actions that mark structural
// turns in the JGB market, in chronological order.
func BOJEvents() []PolicyEvent {
	return []PolicyEvent{
		{d(2013, time.April, 4), "Kuroda QQE launch"},
		{d(2014, time.October, 31), "QQE expansion"},
		{d(2016, time.January, 29), "Negative interest rate policy"},
		{d(2016, time.September, 21), "Yield curve control introduced"},
		{d(2018, time.July, 31), "YCC flexibility"},
		{d(2022, time.December, 20), "YCC band widened to ±0.50%"},
		{d(2023, time.July, 28), "YCC cap raised to 1.0%"},
		{d(2023, time.October, 31), "1.0% becomes soft cap"},
		{d(2024, time.March, 19), "BOJ exits NIRP and YCC"},
	}
}
