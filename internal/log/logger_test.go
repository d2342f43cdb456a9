package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
)

func newJSONLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(Config{Level: level, Component: ComponentApp, JSON: true, Output: buf})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		rec := map[string]any{}
		assert.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo)

	logger.Info("hello", "k", "v")
	logger.WithComponent(ComponentEngine).Warn("careful")
	logger.Debug("dropped")

	recs := decodeLines(t, &buf)
	assert.Equal(t, 2, len(recs))
	assert.Equal(t, "app", recs[0][FieldComponent])
	assert.Equal(t, "v", recs[0]["k"])
	assert.Equal(t, "engine", recs[1][FieldComponent])
	assert.Equal(t, "WARN", recs[1]["level"])
}

func TestSlogCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo).WithComponent(ComponentWorker)

	logger.Slog().Info("tick")

	recs := decodeLines(t, &buf)
	assert.Equal(t, 1, len(recs))
	assert.Equal(t, "worker", recs[0][FieldComponent])
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo)

	handler := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).Info("inside")
		})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/summary", nil))

	recs := decodeLines(t, &buf)
	assert.Equal(t, 1, len(recs))
	assert.Equal(t, "req_1", recs[0][FieldRequestID])
}

func TestFromContextFallsBack(t *testing.T) {
	logger := FromContext(context.Background())
	assert.Equal(t, "unknown", logger.Component())
}

func TestStructuredLoggerDomainRecords(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newJSONLogger(&buf, slog.LevelInfo))
	ctx := context.Background()

	period := core.MustParsePeriod("2025-03")
	sl.LogEnvelopeCreated(ctx, core.Envelope{
		ID: "env-1", Category: "Food", Type: core.Expense, Period: period,
		Estimated: decimal.NewFromInt(500), Tolerance: decimal.NewFromInt(20),
	})
	sl.LogTransactionIngested(ctx, core.Transaction{
		ID: "tx-1", Category: "Food", Period: period, SignedAmount: decimal.NewFromInt(-40),
	}, "")
	sl.LogError(ctx, "boom", errors.New("disk full"), ComponentStorage, OpIngest, nil)

	recs := decodeLines(t, &buf)
	assert.Equal(t, 3, len(recs))
	assert.Equal(t, "env-1", recs[0][FieldEnvelopeID])
	assert.Equal(t, "2025-03", recs[0][FieldPeriod])
	assert.Equal(t, "Transaction stored without envelope", recs[1]["msg"])
	assert.Equal[any](t, false, recs[1][FieldMatched])
	assert.Equal(t, "-40", recs[1][FieldAmount])
	assert.Equal(t, "disk full", recs[2][FieldError])
	assert.Equal(t, "storage", recs[2][FieldComponent])
}

func TestLogHTTPEndLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newJSONLogger(&buf, slog.LevelInfo))
	req := httptest.NewRequest(http.MethodPost, "/transactions", nil)

	sl.LogHTTPEnd(context.Background(), req, 201, 3, "10.0.0.1")
	sl.LogHTTPEnd(context.Background(), req, 422, 1, "10.0.0.1")
	sl.LogHTTPEnd(context.Background(), req, 500, 9, "10.0.0.1")

	recs := decodeLines(t, &buf)
	assert.Equal(t, 3, len(recs))
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "ERROR", recs[2]["level"])
	assert.Equal[any](t, float64(422), recs[1][FieldStatusCode])
}
