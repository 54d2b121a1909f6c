package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/lease_backend/utils"
)

// resolveTerm applies a duration/end patch on top of the current term and returns the
// new (months, end). A duration, stored or patched, always determines the end date;
// an explicit end date clears the duration.
func resolveTerm(start *time.Time, months *int, end *time.Time, patchMonths *int, patchEnd *time.Time, fields map[string]string) (*int, *time.Time) {
	switch {
	case patchMonths != nil:
		if *patchMonths <= 0 {
			fields["duration_months"] = "gt=0"
			return months, end
		}
		m := *patchMonths
		months = &m
	case patchEnd != nil:
		months = nil
		e := *patchEnd
		end = &e
	}
	if months != nil && start != nil {
		e := utils.AddMonths(*start, *months)
		end = &e
	}
	if start != nil && end != nil && !end.After(*start) {
		fields["end_date"] = "gtfield=start_date"
	}
	return months, end
}

func parseOptionalDate(value *string, key string, fields map[string]string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t, err := utils.ParseDate(*value)
	if err != nil {
		fields[key] = "date"
		return nil
	}
	return &t
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// jsonEqual compares two values by their stored representation.
func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(utils.DateLayout)
}
