package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/middleware"
	"github.com/patrickwarner/coregflow/internal/models"
)

type shortFormRequest struct {
	Profile models.Profile `json:"profile"`
}

type longFormRequest struct {
	Address models.Address `json:"address"`
}

// ShortFormHandler is called by the short-form collaborator once the visitor
// submitted their profile. Buffered coreg answers are flushed.
func (s *Server) ShortFormHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/coreg/shortform"
	const method = "POST"

	var req shortFormRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	st, err := s.openSession(r)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	unlock := s.locks.lock(st.ID())
	defer unlock()

	res, err := s.Orchestrator.CompleteShortForm(ctx, st, req.Profile)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	logger.Info("short form completed", zap.String("session_id", st.ID()), zap.Int("flushed", res.Flushed))
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, res)
}

// LongFormHandler is called by the long-form collaborator. Every campaign
// queued for the long form is dispatched with the address fields.
func (s *Server) LongFormHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/coreg/longform"
	const method = "POST"

	var req longFormRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	st, err := s.openSession(r)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	unlock := s.locks.lock(st.ID())
	defer unlock()

	res, err := s.Orchestrator.CompleteLongForm(ctx, st, req.Address)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	logger.Info("long form completed", zap.String("session_id", st.ID()), zap.Int("dispatched", res.Dispatched))
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, res)
}
