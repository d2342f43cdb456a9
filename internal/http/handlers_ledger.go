package http

import (
	"bytes"
	"errors"
	"net/http"
	"sync/atomic"

	"budgetwatch/internal/core"
	"budgetwatch/internal/log"
)

// writeError logs server-side failures and writes the mapped error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !isClientError(err) {
		s.events.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op, log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", ""))
	}
	FromError(err).Write(w)
}

// parseBody reads and decodes the request body, writing a 400 or 413 on failure.
func (s *Server) parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			ErrorResponse(http.StatusRequestEntityTooLarge, "body_too_large", "request body too large").Write(w)
		} else {
			BadRequestError(err.Error()).Write(w)
		}
		return nil, false
	}
	return p, true
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r)
	if !ok {
		return
	}
	req, err := envelopeRequest(p.Fields())
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	env, err := s.svc.CreateEnvelope(r.Context(), req)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	atomic.AddInt64(&s.appMetrics.envelopesCreated, 1)
	s.events.LogEnvelopeCreated(r.Context(), env)
	s.invalidatePeriod(r.Context(), env.Period)
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/envelopes?period="+env.Period.String()).
		JSON(toEnvelopeDTO(env)).
		Write(w)
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	envs, err := s.svc.ListEnvelopes(r.Context(), period)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"period":    period.String(),
		"envelopes": toEnvelopeDTOs(envs),
	}).Write(w)
}

// handleSeedEnvelopes creates the default envelope set for ?period=.
func (s *Server) handleSeedEnvelopes(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpSeed, err)
		return
	}
	tolerance := core.DefaultTolerance
	if v := r.URL.Query().Get("tolerance"); v != "" {
		tolerance, err = core.ParseAmount(v)
		if err != nil {
			s.writeError(w, r, log.OpSeed, &core.ValidationError{Field: "tolerance", Err: err})
			return
		}
		if tolerance.IsNegative() {
			s.writeError(w, r, log.OpSeed, &core.ValidationError{Field: "tolerance", Err: core.ErrNegativeTolerance})
			return
		}
	}

	created, skipped, err := s.svc.SeedDefaults(r.Context(), period, tolerance)
	if err != nil {
		s.writeError(w, r, log.OpSeed, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.envelopesCreated, int64(len(created)))
	s.invalidatePeriod(r.Context(), period)
	NewResponse().Status(http.StatusCreated).JSON(map[string]any{
		"period":  period.String(),
		"created": toEnvelopeDTOs(created),
		"skipped": skipped,
	}).Write(w)
}

func (s *Server) handleRebuildEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.svc.RebuildEnvelope(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, log.OpRebuild, err)
		return
	}
	s.invalidatePeriod(r.Context(), env.Period)
	NewResponse().JSON(toEnvelopeDTO(env)).Write(w)
}

func (s *Server) handleIngestTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r)
	if !ok {
		return
	}
	raw, err := rawTransaction(p.Fields(), core.Manual)
	if err != nil {
		atomic.AddInt64(&s.appMetrics.transactionsRejected, 1)
		s.writeError(w, r, log.OpIngest, err)
		return
	}

	res, err := s.svc.IngestTransaction(r.Context(), raw)
	if err != nil {
		atomic.AddInt64(&s.appMetrics.transactionsRejected, 1)
		s.writeError(w, r, log.OpIngest, err)
		return
	}

	atomic.AddInt64(&s.appMetrics.transactionsAccepted, 1)
	s.events.LogTransactionIngested(r.Context(), res.Transaction, res.EnvelopeID)
	s.invalidatePeriod(r.Context(), res.Transaction.Period)
	NewResponse().Status(http.StatusCreated).JSON(toIngestResultDTO(res)).Write(w)
}

// handleIngestBatch accepts a JSON array of transactions, an object with a
// "transactions" array, or a CSV body sent as text/csv. Each record succeeds
// or fails on its own, so the response is 200 with per-item outcomes.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r)

	if p.IsCSV() {
		if err := p.err; err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}
		rep, err := s.svc.ImportCSV(r.Context(), bytes.NewReader(p.GetRaw()))
		if err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}
		s.finishBatch(w, r, toBatchDTO(rep))
		return
	}

	if err := p.Parse(); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if p.List() == nil {
		BadRequestError("expected an array of transactions").Write(w)
		return
	}

	raws := make([]core.RawTransactionRecord, 0, len(p.List()))
	var rejected []int
	rejectedErr := make(map[int]error)
	for i, f := range p.List() {
		raw, err := rawTransaction(f, core.ExternalFeed)
		if err != nil {
			rejected = append(rejected, i)
			rejectedErr[i] = err
			// keep position; the adapter rejects an empty record
			raw = core.RawTransactionRecord{}
		}
		raws = append(raws, raw)
	}

	rep := s.svc.IngestBatch(r.Context(), raws)
	for _, i := range rejected {
		rep.Items[i].Err = rejectedErr[i]
	}
	s.finishBatch(w, r, toBatchDTO(rep))
}

func (s *Server) finishBatch(w http.ResponseWriter, r *http.Request, dto batchDTO) {
	atomic.AddInt64(&s.appMetrics.transactionsAccepted, int64(dto.Accepted))
	atomic.AddInt64(&s.appMetrics.transactionsRejected, int64(dto.Failed))

	periods := make(map[core.Period]bool)
	for _, item := range dto.Items {
		if item.Result != nil {
			periods[core.Period(item.Result.Transaction.Period)] = true
		}
	}
	for period := range periods {
		s.invalidatePeriod(r.Context(), period)
	}

	s.logger.InfoContext(r.Context(), "Batch ingested",
		log.FieldOperation, log.OpBatch,
		log.FieldRecords, len(dto.Items),
		"accepted", dto.Accepted,
		"unmatched", dto.Unmatched,
		"failed", dto.Failed)
	NewResponse().JSON(dto).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	txs, err := s.svc.ListTransactions(r.Context(), period)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"period":       period.String(),
		"transactions": toTransactionDTOs(txs),
	}).Write(w)
}
