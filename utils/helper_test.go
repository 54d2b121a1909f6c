package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonths(t *testing.T) {
	cases := []struct {
		start  time.Time
		months int
		want   time.Time
	}{
		{date(2025, 1, 1), 12, date(2026, 1, 1)},
		{date(2025, 1, 1), 6, date(2025, 7, 1)},
		{date(2025, 1, 31), 1, date(2025, 2, 28)},
		{date(2024, 1, 31), 1, date(2024, 2, 29)},
		{date(2025, 8, 31), 3, date(2025, 11, 30)},
		{date(2025, 11, 15), 3, date(2026, 2, 15)},
	}
	for _, tc := range cases {
		got := AddMonths(tc.start, tc.months)
		assert.True(t, got.Equal(tc.want), "%s + %d months: want %s, got %s",
			tc.start.Format(DateLayout), tc.months, tc.want.Format(DateLayout), got.Format(DateLayout))
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", d.Format(DateLayout))

	d, err = ParseDate("2025-03-09T22:10:00+04:00")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", d.Format(DateLayout))

	_, err = ParseDate("09/03/2025")
	assert.Error(t, err)
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := NormalizePhoneNumber("+1 650-253-0000", "OM")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)

	got, err = NormalizePhoneNumber("(650) 253-0000", "US")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)

	_, err = NormalizePhoneNumber("12", "US")
	assert.Error(t, err)
}

func TestValidateStructReportsJsonNames(t *testing.T) {
	type input struct {
		Name  string `json:"name" validate:"required"`
		Email string `json:"email_address" validate:"omitempty,email"`
	}
	fields, err := ValidateStruct(&input{Email: "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "required", "email_address": "email"}, fields)

	fields, err = ValidateStruct(&input{Name: "Salim"})
	require.NoError(t, err)
	assert.Nil(t, fields)
}

func TestDereferencePtr(t *testing.T) {
	var missing *int
	assert.Equal(t, 0, DereferencePtr(missing))
	assert.Equal(t, 7, DereferencePtr(missing, 7))
	assert.True(t, DereferencePtr(NewTrue()))
}
