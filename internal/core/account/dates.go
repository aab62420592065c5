package account

import (
	"sort"
	"time"
)

// dayStart normalizes a timestamp to midnight UTC of its calendar day.
func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// OperationsOn returns the operations recorded on the given calendar day,
// most recent first.
func (a *Account) OperationsOn(day time.Time) []*Operation {
	return a.OperationsBetween(day, day)
}

// OperationsBetween returns the operations recorded between the two days,
// both endpoints inclusive, most recent first.
func (a *Account) OperationsBetween(ini, fin time.Time) []*Operation {
	from := dayStart(ini)
	to := dayStart(fin).AddDate(0, 0, 1)

	var out []*Operation
	for _, op := range a.Operations {
		ts := op.DateTime.UTC()
		if !ts.Before(from) && ts.Before(to) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateTime.Equal(out[j].DateTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].DateTime.After(out[j].DateTime)
	})
	return out
}
