// Package billingcycle computes subscription period boundaries.
package billingcycle

import (
	"strings"
	"time"
)

type Cycle string

const (
	Weekly     Cycle = "weekly"
	Monthly    Cycle = "monthly"
	Quarterly  Cycle = "quarterly"
	Semesterly Cycle = "semesterly"
	Yearly     Cycle = "yearly"
)

var aliases = map[string]Cycle{
	"weekly":     Weekly,
	"week":       Weekly,
	"monthly":    Monthly,
	"month":      Monthly,
	"quarterly":  Quarterly,
	"quarter":    Quarterly,
	"semesterly": Semesterly,
	"semester":   Semesterly,
	"semiannual": Semesterly,
	"yearly":     Yearly,
	"year":       Yearly,
	"annual":     Yearly,
	"annually":   Yearly,
}

// Parse resolves a cycle tag. Unknown tags report ok=false and fall back to Monthly.
func Parse(raw string) (Cycle, bool) {
	c, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return Monthly, false
	}
	return c, true
}

// Valid reports whether c is one of the known cycles.
func (c Cycle) Valid() bool {
	_, ok := aliases[string(c)]
	return ok && aliases[string(c)] == c
}

// Advance returns the end of the period that starts at t.
// Unknown cycles advance by one month.
func Advance(t time.Time, cycle Cycle) time.Time {
	c, _ := Parse(string(cycle))
	switch c {
	case Weekly:
		return t.AddDate(0, 0, 7)
	case Quarterly:
		return addMonths(t, 3)
	case Semesterly:
		return addMonths(t, 6)
	case Yearly:
		return addMonths(t, 12)
	default:
		return addMonths(t, 1)
	}
}

// addMonths clamps the day to the last day of the target month instead of
// letting time.AddDate overflow into the following month.
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
