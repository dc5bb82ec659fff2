package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/flow"
	"github.com/patrickwarner/coregflow/internal/geoip"
	"github.com/patrickwarner/coregflow/internal/middleware"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/session"
	"github.com/patrickwarner/coregflow/internal/token"
)

type createSessionRequest struct {
	Tracking             models.Tracking `json:"tracking"`
	CoregBeforeShortForm bool            `json:"coreg_before_shortform"`
	CampaignURL          string          `json:"campaign_url"`
	InternalVisitID      int64           `json:"internalVisitId"`
}

type sessionResponse struct {
	Token    string           `json:"token,omitempty"`
	Sections []models.Section `json:"sections"`
	Step     flow.Step        `json:"step"`
}

type eventRequest struct {
	Section int    `json:"section"`
	Value   string `json:"value"`
	CID     string `json:"cid"`
	SID     string `json:"sid"`
}

// CreateSessionHandler starts a coreg session: it stores the tracking
// context, snapshots the catalog and returns the signed session token.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "CreateSessionHandler",
		trace.WithAttributes(attribute.String("http.route", "/coreg/sessions")))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/coreg/sessions"
	const method = "POST"

	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	span.SetAttributes(attribute.String("session_id", id))
	st := session.NewState(s.Sessions.Open(id))

	fail := func(err error, msg string) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		logger.Error(msg, zap.String("session_id", id), zap.Error(err))
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		writeError(w, http.StatusInternalServerError, msg)
	}

	if err := st.SaveTracking(ctx, req.Tracking); err != nil {
		fail(err, "failed to store tracking")
		return
	}
	if ip := geoip.ClientIP(r); ip != "" {
		if err := st.SetValue(ctx, session.KeyUserIP, ip); err != nil {
			fail(err, "failed to store client ip")
			return
		}
	}
	campaignURL := req.CampaignURL
	if campaignURL == "" {
		campaignURL = r.Header.Get("Referer")
	}
	if campaignURL != "" {
		if err := st.SetValue(ctx, session.KeyCampaignURL, campaignURL); err != nil {
			fail(err, "failed to store campaign url")
			return
		}
	}

	step, err := s.Orchestrator.Start(ctx, st, s.Loader.Load(ctx), req.CoregBeforeShortForm)
	if err != nil {
		fail(err, "failed to start flow")
		return
	}
	sections, err := s.Orchestrator.Sections(ctx, st)
	if err != nil {
		fail(err, "failed to render sections")
		return
	}
	tok, err := token.GenerateWithVisit(id, req.InternalVisitID, s.TokenSecret)
	if err != nil {
		fail(err, "failed to issue token")
		return
	}

	logger.Info("coreg session started",
		zap.String("session_id", id),
		zap.Int("sections", len(sections)),
		zap.Bool("coreg_before_shortform", req.CoregBeforeShortForm))

	s.observe(endpoint, method, http.StatusCreated, start)
	if err := writeJSON(w, http.StatusCreated, sessionResponse{Token: tok, Sections: sections, Step: step}); err != nil {
		logger.Error("encode response", zap.Error(err))
	}
}

// SessionHandler returns the current step and sections of a session.
func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "/coreg/session"
	const method = "GET"

	st, err := s.openSession(r)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	step, err := s.Orchestrator.Current(ctx, st)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	sections, err := s.Orchestrator.Sections(ctx, st)
	if err != nil {
		s.respondError(w, logger, endpoint, method, start, err)
		return
	}
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, sessionResponse{Sections: sections, Step: step})
}

// eventHandler applies one visitor action of the given kind.
func (s *Server) eventHandler(name string, kind flow.EventKind) http.HandlerFunc {
	endpoint := "/coreg/" + name
	const method = "POST"

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "EventHandler",
			trace.WithAttributes(
				attribute.String("http.route", endpoint),
				attribute.String("coreg.event", string(kind)),
			))
		defer span.End()

		logger := middleware.LoggerFromRequest(r, s.Logger)
		start := time.Now()

		var req eventRequest
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

		step, err := s.Orchestrator.Handle(ctx, st, flow.Event{
			Kind:    kind,
			Section: req.Section,
			Value:   req.Value,
			CID:     req.CID,
			SID:     req.SID,
		})
		if err != nil {
			span.RecordError(err)
			s.respondError(w, logger.With(zap.String("session_id", st.ID())), endpoint, method, start, err)
			return
		}
		s.observe(endpoint, method, http.StatusOK, start)
		_ = writeJSON(w, http.StatusOK, step)
	}
}

// CampaignsHandler returns the normalized, ordered catalog.
func (s *Server) CampaignsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "/coreg/campaigns"
	const method = "GET"

	campaigns := s.Loader.Load(r.Context())
	s.observe(endpoint, method, http.StatusOK, start)
	_ = writeJSON(w, http.StatusOK, campaigns)
}

// respondError writes the status statusFor assigns to err.
func (s *Server) respondError(w http.ResponseWriter, logger *zap.Logger, endpoint, method string, start time.Time, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	}
	s.observe(endpoint, method, status, start)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}
