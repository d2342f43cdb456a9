package core

import (
	"time"
)

const (
	periodLayout = "2006-01"
	dateLayout   = "2006-01-02"
)

type (
	// Period is a month in YYYY-MM form.
	Period string

	Date struct {
		time.Time
	}
)

// ParsePeriod validates and normalizes a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return "", ErrInvalidPeriod
	}
	return Period(t.Format(periodLayout)), nil
}

// MustParsePeriod panics on an invalid period. Use only in tests and seeds.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.Format(periodLayout))
}

func (p Period) Validate() error {
	if _, err := time.Parse(periodLayout, string(p)); err != nil {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return string(p)
}

// Start returns the first instant of the period in UTC.
func (p Period) Start() time.Time {
	t, _ := time.Parse(periodLayout, string(p))
	return t
}

func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

func (p Period) Prev() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Period returns the month the date falls in.
func (d Date) Period() Period {
	return PeriodOf(d.Time)
}

func (d Date) String() string {
	return d.Format(dateLayout)
}
