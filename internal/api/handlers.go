package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"movierec/internal/domain"
	"movierec/internal/service"
)

type recommendRequest struct {
	Feature string `validate:"required"`
	Count   int    `validate:"gte=1"`
}

type similarRequest struct {
	ID    int64 `validate:"gte=0"`
	Count int   `validate:"gte=1"`
}

// Recommend handles GET /recommend/{feature} and /recommend/{feature}/{count}.
// The response is a JSON object keyed by rank ("1", "2", ...) holding metadata.
func (s *Server) Recommend(w http.ResponseWriter, r *http.Request) {
	count, ok := s.parseCount(w, r)
	if !ok {
		return
	}
	feature := chi.URLParam(r, "feature")
	if r.URL.RawPath != "" {
		// chi matched on the escaped path
		unescaped, err := url.PathUnescape(feature)
		if err != nil {
			respondError(w, http.StatusBadRequest, "feature is not a valid path segment")
			return
		}
		feature = unescaped
	}
	req := recommendRequest{
		Feature: strings.TrimSpace(feature),
		Count:   count,
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "feature text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()
	recs, err := s.recommender.Recommend(ctx, req.Feature, req.Count)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ranked(recs))
}

// Similar handles GET /similar/{id} and /similar/{id}/{count}.
func (s *Server) Similar(w http.ResponseWriter, r *http.Request) {
	count, ok := s.parseCount(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	req := similarRequest{ID: id, Count: count}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "id must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()
	recs, err := s.recommender.Similar(ctx, req.ID, req.Count)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ranked(recs))
}

type healthResponse struct {
	Status string             `json:"status"`
	Error  string             `json:"error,omitempty"`
	Corpus *domain.CorpusInfo `json:"corpus,omitempty"`
	Count  int                `json:"count"`
}

// Health handles GET /healthz. The store must answer a ping; a missing corpus
// is reported but still healthy so that a fresh deployment can be ingested.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	resp := healthResponse{Status: "ok"}
	info, err := s.store.Info(ctx)
	switch {
	case errors.Is(err, domain.ErrCorpusNotFound):
		resp.Status = "empty"
	case err != nil:
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	default:
		resp.Corpus = &info
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	resp.Count = n
	respondJSON(w, http.StatusOK, resp)
}

// parseCount reads the optional {count} parameter. It writes a 400 response
// and returns false when the value is unusable.
func (s *Server) parseCount(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "count")
	if raw == "" {
		return s.cfg.DefaultCount, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("count %q is not an integer", raw))
		return 0, false
	}
	if n < 1 {
		respondError(w, http.StatusBadRequest, "count must be at least 1")
		return 0, false
	}
	if n > s.cfg.MaxCount {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("count must be at most %d", s.cfg.MaxCount))
		return 0, false
	}
	return n, true
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("query failed")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEncoderMismatch), errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreConnection),
		errors.Is(err, domain.ErrCorpusNotFound),
		errors.Is(err, domain.ErrEncoderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ranked renders recommendations as an object keyed by rank, in rank order.
type ranked []service.Recommendation

func (rs ranked) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, rec := range rs {
		if i > 0 {
			b.WriteByte(',')
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, err
		}
		b.WriteString(strconv.Quote(strconv.Itoa(rec.Rank)))
		b.WriteByte(':')
		b.Write(meta)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
