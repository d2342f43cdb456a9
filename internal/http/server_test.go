package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"budgetwatch/internal/ledger"
	"budgetwatch/internal/log"
	"budgetwatch/internal/services"
)

var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	var mu sync.Mutex
	n := 0
	svc := services.NewBudgetService(ledger.NewMemoryStore(),
		services.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		services.WithClock(func() time.Time { return testNow }),
		services.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)

	srv := NewServer(":0", svc, Options{
		Logger:            log.New(log.Config{Output: io.Discard}),
		CacheTTL:          time.Minute,
		RequestsPerMinute: 1000,
		Clock:             func() time.Time { return testNow },
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func createEnvelope(t *testing.T, srv *Server, category, typ, estimated string) envelopeDTO {
	t.Helper()
	body := fmt.Sprintf(`{"category":%q,"type":%q,"period":"2025-03","estimated":%s}`, category, typ, estimated)
	rr := do(t, srv, http.MethodPost, "/envelopes", "application/json", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create envelope status=%d body=%s", rr.Code, rr.Body.String())
	}
	var env envelopeDTO
	decode(t, rr, &env)
	return env
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := do(t, srv, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing X-Request-ID", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing security headers", path)
		}
	}
}

func TestCreateEnvelope(t *testing.T) {
	srv := newTestServer(t)

	env := createEnvelope(t, srv, "Food", "expense", "400")
	if env.ID == "" || env.Category != "Food" || env.Estimated != "400.00" || env.Realized != "0.00" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env.Tolerance != "20" {
		t.Errorf("Tolerance = %q, want default 20", env.Tolerance)
	}

	rr := do(t, srv, http.MethodPost, "/envelopes", "application/json",
		`{"category":"Food","type":"expense","period":"2025-03","estimated":"100"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate status=%d, want 409", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/envelopes", "application/json",
		`{"category":"Food","type":"expense","period":"2025-03","estimated":"-5"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative estimate status=%d, want 422", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/envelopes", "application/json", `{"category":`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("broken body status=%d, want 400", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/envelopes?period=2025-03", "", "")
	var list struct {
		Envelopes []envelopeDTO `json:"envelopes"`
	}
	decode(t, rr, &list)
	if len(list.Envelopes) != 1 {
		t.Errorf("listed %d envelopes, want 1", len(list.Envelopes))
	}
}

func TestIngestTransactionMatchesAndAlerts(t *testing.T) {
	srv := newTestServer(t)
	food := createEnvelope(t, srv, "Food", "expense", "100")

	// Prime the caches so the ingest has to invalidate them.
	do(t, srv, http.MethodGet, "/alerts?period=2025-03", "", "")
	do(t, srv, http.MethodGet, "/summary?period=2025-03", "", "")

	rr := do(t, srv, http.MethodPost, "/transactions", "application/json",
		`{"description":"Groceries","amount":"130","category":"Food","type":"expense","date":"2025-03-04"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res ingestResultDTO
	decode(t, rr, &res)
	if !res.Matched || res.EnvelopeID != food.ID || res.Transaction.Amount != "-130.00" {
		t.Errorf("unexpected result %+v", res)
	}

	rr = do(t, srv, http.MethodGet, "/alerts?period=2025-03", "", "")
	var alerts struct {
		Alerts []alertDTO `json:"alerts"`
	}
	decode(t, rr, &alerts)
	if len(alerts.Alerts) != 1 || alerts.Alerts[0].Variance != "30.00" || alerts.Alerts[0].Direction != "over" {
		t.Errorf("alerts = %+v", alerts.Alerts)
	}

	rr = do(t, srv, http.MethodGet, "/summary?period=2025-03", "", "")
	var sum summaryDTO
	decode(t, rr, &sum)
	if sum.TotalExpense != "130.00" || sum.CurrentBalance != "-130.00" || sum.EstimatedBalance != "-100.00" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestIngestTransactionUnmatchedAndInvalid(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/transactions", "application/x-www-form-urlencoded",
		"description=Bonus&amount=500&category=Bonus&type=income")
	if rr.Code != http.StatusCreated {
		t.Fatalf("unmatched ingest status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res ingestResultDTO
	decode(t, rr, &res)
	if res.Matched || res.Warning == "" || res.Transaction.Period != "2025-03" {
		t.Errorf("unexpected unmatched result %+v", res)
	}

	rr = do(t, srv, http.MethodPost, "/transactions", "application/json",
		`{"description":"","amount":"5","category":"Food","type":"expense"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty description status=%d, want 422", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/totals?period=2025-03", "", "")
	var totals totalsDTO
	decode(t, rr, &totals)
	if totals.Count != 1 || totals.UnmatchedCount != 1 || totals.Income != "500.00" {
		t.Errorf("totals = %+v", totals)
	}
}

func TestIngestBatchJSON(t *testing.T) {
	srv := newTestServer(t)
	createEnvelope(t, srv, "Rent", "expense", "800")

	body := `{"transactions":[
		{"description":"Rent","amount":"800","category":"Rent","type":"expense"},
		{"description":"","amount":"1","category":"Rent","type":"expense"},
		{"description":"Gift","amount":"50","category":"Gifts","type":"income","source":"manual"},
		{"description":"Odd","amount":"5","category":"Rent","type":"expense","source":"fax"}
	]}`
	rr := do(t, srv, http.MethodPost, "/transactions/batch", "application/json", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("batch status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rep batchDTO
	decode(t, rr, &rep)
	if rep.Accepted != 2 || rep.Unmatched != 1 || rep.Failed != 2 {
		t.Errorf("batch counts = %+v", rep)
	}
	wantStatus := []string{"matched", "rejected", "unmatched", "rejected"}
	for i, item := range rep.Items {
		if item.Status != wantStatus[i] {
			t.Errorf("item %d status = %q, want %q", i, item.Status, wantStatus[i])
		}
	}
	if rep.Items[3].Error == nil || rep.Items[3].Error.Field != "source" {
		t.Errorf("item 3 error = %+v", rep.Items[3].Error)
	}
}

func TestIngestBatchCSV(t *testing.T) {
	srv := newTestServer(t)
	createEnvelope(t, srv, "Food", "expense", "200")

	csv := "date,description,amount,category,type\n" +
		"2025-03-02,Market,40,Food,expense\n" +
		"2025-03-03,Market,abc,Food,expense\n"
	rr := do(t, srv, http.MethodPost, "/transactions/batch", "text/csv", csv)
	if rr.Code != http.StatusOK {
		t.Fatalf("csv status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rep batchDTO
	decode(t, rr, &rep)
	if rep.Accepted != 1 || rep.Failed != 1 {
		t.Errorf("csv counts = %+v", rep)
	}
	if rep.Items[0].Result.Transaction.Source != "imported" {
		t.Errorf("csv source = %q", rep.Items[0].Result.Transaction.Source)
	}

	rr = do(t, srv, http.MethodPost, "/transactions/batch", "text/csv", "foo,bar\n1,2\n")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad header status=%d, want 400", rr.Code)
	}
}

func TestRebuildEnvelope(t *testing.T) {
	srv := newTestServer(t)

	// Stored before the envelope exists, then absorbed by the rebuild.
	do(t, srv, http.MethodPost, "/transactions", "application/json",
		`{"description":"Early","amount":"25","category":"Fuel","type":"expense"}`)
	env := createEnvelope(t, srv, "Fuel", "expense", "100")

	rr := do(t, srv, http.MethodPost, "/envelopes/"+env.ID+"/rebuild", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("rebuild status=%d body=%s", rr.Code, rr.Body.String())
	}
	var rebuilt envelopeDTO
	decode(t, rr, &rebuilt)
	if rebuilt.Realized != "25.00" {
		t.Errorf("Realized = %q, want 25.00", rebuilt.Realized)
	}

	rr = do(t, srv, http.MethodPost, "/envelopes/missing/rebuild", "", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing rebuild status=%d, want 404", rr.Code)
	}
}

func TestReports(t *testing.T) {
	srv := newTestServer(t)
	createEnvelope(t, srv, "Salary", "income", "2000")
	createEnvelope(t, srv, "Food", "expense", "300")
	createEnvelope(t, srv, "Fun", "expense", "100")
	for _, body := range []string{
		`{"description":"Pay","amount":"2000","category":"Salary","type":"income"}`,
		`{"description":"Food","amount":"150","category":"Food","type":"expense"}`,
		`{"description":"Cinema","amount":"40","category":"Fun","type":"expense"}`,
	} {
		if rr := do(t, srv, http.MethodPost, "/transactions", "application/json", body); rr.Code != http.StatusCreated {
			t.Fatalf("ingest status=%d body=%s", rr.Code, rr.Body.String())
		}
	}

	rr := do(t, srv, http.MethodGet, "/breakdown?period=2025-03&type=expense", "", "")
	var breakdown struct {
		Categories []sliceDTO `json:"categories"`
	}
	decode(t, rr, &breakdown)
	if len(breakdown.Categories) != 2 || breakdown.Categories[0].Share != "78.95" {
		t.Errorf("breakdown = %+v", breakdown.Categories)
	}

	rr = do(t, srv, http.MethodGet, "/timeseries?from=2025-02&to=2025-03", "", "")
	var series struct {
		Series []seriesRowDTO `json:"series"`
	}
	decode(t, rr, &series)
	if len(series.Series) != 2 || series.Series[0].Balance != "0.00" || series.Series[1].Balance != "1810.00" {
		t.Errorf("series = %+v", series.Series)
	}

	rr = do(t, srv, http.MethodGet, "/comparison?period=2025-03", "", "")
	var cmp struct {
		Rows []comparisonRowDTO `json:"rows"`
	}
	decode(t, rr, &cmp)
	if len(cmp.Rows) != 3 {
		t.Fatalf("comparison rows = %d", len(cmp.Rows))
	}
	for _, row := range cmp.Rows {
		if row.Category == "Fun" && (!row.Alert || row.Variance == nil || *row.Variance != "-60.00") {
			t.Errorf("Fun row = %+v", row)
		}
	}

	rr = do(t, srv, http.MethodGet, "/alerts?period=2025-03&sort=severity", "", "")
	var alerts struct {
		Alerts []alertDTO `json:"alerts"`
	}
	decode(t, rr, &alerts)
	if len(alerts.Alerts) != 2 || alerts.Alerts[0].Category != "Fun" {
		t.Errorf("alerts by severity = %+v", alerts.Alerts)
	}

	rr = do(t, srv, http.MethodGet, "/breakdown?period=2025-03&type=loan", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad type status=%d, want 422", rr.Code)
	}
	rr = do(t, srv, http.MethodGet, "/summary?period=2025-3x", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad period status=%d, want 422", rr.Code)
	}
}

func TestSeedEnvelopes(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/envelopes/seed?period=2025-04", "", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed status=%d body=%s", rr.Code, rr.Body.String())
	}
	var first struct {
		Created []envelopeDTO `json:"created"`
		Skipped int           `json:"skipped"`
	}
	decode(t, rr, &first)
	if len(first.Created) == 0 || first.Skipped != 0 {
		t.Fatalf("first seed = %d created, %d skipped", len(first.Created), first.Skipped)
	}

	rr = do(t, srv, http.MethodPost, "/envelopes/seed?period=2025-04", "", "")
	var second struct {
		Created []envelopeDTO `json:"created"`
		Skipped int           `json:"skipped"`
	}
	decode(t, rr, &second)
	if len(second.Created) != 0 || second.Skipped != len(first.Created) {
		t.Errorf("second seed = %d created, %d skipped", len(second.Created), second.Skipped)
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	svc := services.NewBudgetService(ledger.NewMemoryStore(),
		services.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := NewServer(":0", svc, Options{
		Logger:            log.New(log.Config{Output: io.Discard}),
		RequestsPerMinute: 2,
	})
	defer srv.Shutdown(context.Background())

	body := `{"description":"x","amount":"1","category":"c","type":"expense"}`
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = do(t, srv, http.MethodPost, "/transactions", "application/json", body)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Errorf("third write status=%d, want 429", last.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/summary", "", ""); rr.Code != http.StatusOK {
		t.Errorf("reads should not be limited, got %d", rr.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	srv := newTestServer(t)
	big := `{"description":"` + string(bytes.Repeat([]byte("a"), maxBodyBytes)) + `"}`
	rr := do(t, srv, http.MethodPost, "/transactions", "application/json", big)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status=%d, want 413", rr.Code)
	}
}

func TestMethodRouting(t *testing.T) {
	srv := newTestServer(t)
	rr := do(t, srv, http.MethodDelete, "/envelopes", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /envelopes status=%d, want 405", rr.Code)
	}
}
