// Package variance computes how far each envelope's realized total deviates
// from its estimate and which envelopes breach their tolerance.
package variance

import (
	"sort"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
)

// Result is the signed variance of one envelope. Positive means more was
// realized than estimated. When Defined is false the estimate was zero and
// Pct carries no meaning.
type Result struct {
	Pct     decimal.Decimal
	Defined bool
}

// Undefined is the variance of an envelope with nothing planned.
var Undefined = Result{}

func (r Result) String() string {
	if !r.Defined {
		return "undefined"
	}
	return core.FormatPercent(r.Pct)
}

// Alert is an envelope whose variance exceeds its tolerance.
type Alert struct {
	Envelope core.Envelope
	Pct      decimal.Decimal
}

// Over reports whether more was realized than estimated.
func (a Alert) Over() bool {
	return a.Pct.IsPositive()
}

// Variance returns (realized - estimated) / estimated * 100.
func Variance(env core.Envelope) Result {
	pct, ok := core.Percent(env.Realized.Sub(env.Estimated), env.Estimated)
	if !ok {
		return Undefined
	}
	return Result{Pct: pct, Defined: true}
}

// Breaches reports whether |pct| is strictly greater than the envelope's
// tolerance. Undefined variance never breaches.
func Breaches(env core.Envelope) (Result, bool) {
	v := Variance(env)
	if !v.Defined {
		return v, false
	}
	return v, v.Pct.Abs().GreaterThan(env.Tolerance)
}

// AlertSet returns the breaching envelopes in input order.
func AlertSet(envelopes []core.Envelope) []Alert {
	alerts := make([]Alert, 0)
	for _, env := range envelopes {
		if v, ok := Breaches(env); ok {
			alerts = append(alerts, Alert{Envelope: env, Pct: v.Pct})
		}
	}
	return alerts
}

// BySeverity returns a copy of alerts ordered by descending |pct|. Ties keep
// their input order.
func BySeverity(alerts []Alert) []Alert {
	out := make([]Alert, len(alerts))
	copy(out, alerts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Pct.Abs().GreaterThan(out[j].Pct.Abs())
	})
	return out
}
