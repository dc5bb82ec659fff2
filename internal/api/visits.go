package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/patrickwarner/coregflow/internal/geoip"
	"github.com/patrickwarner/coregflow/internal/middleware"
	"github.com/patrickwarner/coregflow/internal/visits"
)

var errVisitsDisabled = errors.New("visit registration unavailable")

// RegisterVisitHandler stores a landing-page visit.
func (s *Server) RegisterVisitHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/visits"
	const method = "POST"

	if s.Visits == nil {
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		writeError(w, http.StatusServiceUnavailable, errVisitsDisabled.Error())
		return
	}
	var req visits.VisitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	v, err := s.Visits.RegisterVisit(r.Context(), req, geoip.ResolveVisitor(r, s.GeoIP))
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, map[string]int64{"internalVisitId": v.ID})
}

// RequestPinHandler issues a PIN for a registered visit.
func (s *Server) RequestPinHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/pin/request"
	const method = "POST"

	if s.Visits == nil {
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		writeError(w, http.StatusServiceUnavailable, errVisitsDisabled.Error())
		return
	}
	var req visits.PinRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	pin, err := s.Visits.RequestPin(r.Context(), req)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, map[string]string{"pincode": pin})
}

type verifyPinResponse struct {
	OK     bool    `json:"ok"`
	CallID *string `json:"call_id"`
}

// VerifyPinHandler confirms the call a PIN was issued for.
func (s *Server) VerifyPinHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/pin/verify"
	const method = "POST"

	if s.Visits == nil {
		s.observe(endpoint, method, http.StatusServiceUnavailable, start)
		writeError(w, http.StatusServiceUnavailable, errVisitsDisabled.Error())
		return
	}
	var req struct {
		Pin string `json:"pin"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	call, err := s.Visits.VerifyPin(r.Context(), req.Pin)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	resp := verifyPinResponse{OK: true}
	if call.CallID != "" {
		resp.CallID = &call.CallID
	}
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, resp)
}
