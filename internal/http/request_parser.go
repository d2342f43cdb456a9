// Package http exposes the budget service as a JSON API.
//
// This file implements utilities for parsing and validating request data.
// Bodies may be JSON or form-encoded; numbers are kept as decimal text so
// amounts never pass through float64.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"budgetwatch/internal/core"
)

const (
	maxBodyBytes     = 1 << 20
	maxSeriesPeriods = 36
)

var errEmptyBody = errors.New("request body is empty")

// Fields is one decoded record: a JSON object or a form.
type Fields map[string]any

// Get returns the trimmed, sanitized string value of key.
func (f Fields) Get(key string) string {
	if v, ok := f[key]; ok {
		return strings.TrimSpace(sanitizeInput(stringValue(v)))
	}
	return ""
}

// RequestBodyParser handles different content types for request body parsing.
// It reads the body once and stores it for subsequent parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	fields      Fields
	list        []Fields
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request. Bodies larger
// than maxBodyBytes are rejected.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// Parse decodes the body as a JSON object, a JSON array of objects, an
// object wrapping such an array under "transactions", or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	body := bytes.TrimSpace(p.body)
	if len(body) == 0 {
		p.err = errEmptyBody
		return p.err
	}

	if body[0] == '{' || body[0] == '[' {
		var v any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			p.err = fmt.Errorf("invalid JSON: %w", err)
			return p.err
		}
		switch val := v.(type) {
		case map[string]any:
			p.fields = val
			if items, ok := val["transactions"].([]any); ok {
				p.list, p.err = toFieldList(items)
			}
		case []any:
			p.list, p.err = toFieldList(val)
		}
		return p.err
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		p.err = fmt.Errorf("invalid form body: %w", err)
		return p.err
	}
	p.fields = Fields{}
	for k := range form {
		p.fields[k] = form.Get(k)
	}
	return nil
}

func toFieldList(items []any) ([]Fields, error) {
	out := make([]Fields, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
		out = append(out, obj)
	}
	return out, nil
}

// Fields returns the single decoded record.
func (p *RequestBodyParser) Fields() Fields {
	if p.fields == nil {
		return Fields{}
	}
	return p.fields
}

// List returns the decoded records of a batch body.
func (p *RequestBodyParser) List() []Fields {
	return p.list
}

// Get returns a string value from the single decoded record.
func (p *RequestBodyParser) Get(key string) string {
	return p.Fields().Get(key)
}

// GetRaw returns the raw body bytes.
func (p *RequestBodyParser) GetRaw() []byte {
	return p.body
}

// IsCSV reports whether the client declared a CSV body.
func (p *RequestBodyParser) IsCSV() bool {
	return strings.HasPrefix(strings.ToLower(p.contentType), "text/csv")
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// rawTransaction maps a decoded record onto the ingestion input. source
// applies when the record names none.
func rawTransaction(f Fields, source core.Source) (core.RawTransactionRecord, error) {
	raw := core.RawTransactionRecord{
		Description: f.Get("description"),
		Amount:      f.Get("amount"),
		Category:    f.Get("category"),
		Type:        f.Get("type"),
		Date:        f.Get("date"),
		Source:      source,
	}
	if s := f.Get("source"); s != "" {
		parsed, err := core.ParseSource(s)
		if err != nil {
			return raw, &core.ValidationError{Field: "source", Err: err}
		}
		raw.Source = parsed
	}
	return raw, nil
}

// envelopeRequest maps a decoded record onto an envelope creation request.
func envelopeRequest(f Fields) (core.CreateEnvelopeRequest, error) {
	typ, err := core.ParseEntryType(f.Get("type"))
	if err != nil {
		return core.CreateEnvelopeRequest{}, &core.ValidationError{Field: "type", Err: err}
	}
	period, err := core.ParsePeriod(f.Get("period"))
	if err != nil {
		return core.CreateEnvelopeRequest{}, &core.ValidationError{Field: "period", Err: err}
	}
	estimated, err := core.ParseAmount(f.Get("estimated"))
	if err != nil {
		return core.CreateEnvelopeRequest{}, &core.ValidationError{Field: "estimated", Err: err}
	}

	req := core.CreateEnvelopeRequest{
		Category:  f.Get("category"),
		Type:      typ,
		Period:    period,
		Estimated: estimated,
	}
	if v := f.Get("tolerance"); v != "" {
		tol, err := core.ParseAmount(v)
		if err != nil {
			return core.CreateEnvelopeRequest{}, &core.ValidationError{Field: "tolerance", Err: err}
		}
		req.Tolerance = &tol
	}
	return req, nil
}

// ParsePeriodParam reads ?period=YYYY-MM, defaulting to the month of now.
func ParsePeriodParam(query url.Values, now time.Time) (core.Period, error) {
	v := strings.TrimSpace(query.Get("period"))
	if v == "" {
		return core.PeriodOf(now), nil
	}
	p, err := core.ParsePeriod(v)
	if err != nil {
		return "", &core.ValidationError{Field: "period", Err: err}
	}
	return p, nil
}

// ParsePeriodsParam reads either ?periods=a,b,c or an inclusive
// ?from=YYYY-MM&to=YYYY-MM range. The order given is kept.
func ParsePeriodsParam(query url.Values) ([]core.Period, error) {
	if list := strings.TrimSpace(query.Get("periods")); list != "" {
		var out []core.Period
		for _, part := range strings.Split(list, ",") {
			p, err := core.ParsePeriod(strings.TrimSpace(part))
			if err != nil {
				return nil, &core.ValidationError{Field: "periods", Err: err}
			}
			out = append(out, p)
		}
		if len(out) > maxSeriesPeriods {
			return nil, &core.ValidationError{Field: "periods", Err: fmt.Errorf("at most %d periods", maxSeriesPeriods)}
		}
		return out, nil
	}

	from, err := core.ParsePeriod(strings.TrimSpace(query.Get("from")))
	if err != nil {
		return nil, &core.ValidationError{Field: "from", Err: err}
	}
	to, err := core.ParsePeriod(strings.TrimSpace(query.Get("to")))
	if err != nil {
		return nil, &core.ValidationError{Field: "to", Err: err}
	}
	if to < from {
		return nil, &core.ValidationError{Field: "to", Err: errors.New("must not precede from")}
	}

	var out []core.Period
	for p := from; p <= to; p = p.Next() {
		out = append(out, p)
		if len(out) > maxSeriesPeriods {
			return nil, &core.ValidationError{Field: "to", Err: fmt.Errorf("at most %d periods", maxSeriesPeriods)}
		}
	}
	return out, nil
}
