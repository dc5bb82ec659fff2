// Package api exposes the coreg flow, the form collaborators and the PIN
// channel over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/catalog"
	"github.com/patrickwarner/coregflow/internal/config"
	"github.com/patrickwarner/coregflow/internal/flow"
	"github.com/patrickwarner/coregflow/internal/geoip"
	"github.com/patrickwarner/coregflow/internal/observability"
	"github.com/patrickwarner/coregflow/internal/session"
	"github.com/patrickwarner/coregflow/internal/token"
	"github.com/patrickwarner/coregflow/internal/visits"
)

var tracer = observability.Tracer("api")

// SessionHeader carries the signed session token.
const SessionHeader = "X-Coreg-Session"

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger       *zap.Logger
	Sessions     session.Backend
	Catalog      *catalog.Client
	Loader       *catalog.Loader
	Orchestrator *flow.Orchestrator
	Visits       *visits.Service // nil when Postgres is not configured
	GeoIP        *geoip.GeoIP
	Metrics      observability.MetricsRegistry
	TokenSecret  []byte
	TokenTTL     time.Duration
	CampaignURL  string

	locks sessionLocks
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, sessions session.Backend, client *catalog.Client, orch *flow.Orchestrator, visitSvc *visits.Service, geo *geoip.GeoIP, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:       logger,
		Sessions:     sessions,
		Catalog:      client,
		Loader:       catalog.NewLoader(client, cfg.CMSAssetsURL, logger),
		Orchestrator: orch,
		Visits:       visitSvc,
		GeoIP:        geo,
		Metrics:      metrics,
		TokenSecret:  []byte(cfg.TokenSecret),
		TokenTTL:     cfg.TokenTTL,
		CampaignURL:  cfg.CampaignURL,
	}
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/coreg/sessions", s.CreateSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/coreg/session", s.SessionHandler).Methods(http.MethodGet)
	r.HandleFunc("/coreg/answer", s.eventHandler("answer", flow.KindAnswer)).Methods(http.MethodPost)
	r.HandleFunc("/coreg/select", s.eventHandler("select", flow.KindSelect)).Methods(http.MethodPost)
	r.HandleFunc("/coreg/skip", s.eventHandler("skip", flow.KindSkip)).Methods(http.MethodPost)
	r.HandleFunc("/coreg/shortform", s.ShortFormHandler).Methods(http.MethodPost)
	r.HandleFunc("/coreg/longform", s.LongFormHandler).Methods(http.MethodPost)
	r.HandleFunc("/coreg/campaigns", s.CampaignsHandler).Methods(http.MethodGet)

	r.HandleFunc("/visits", s.RegisterVisitHandler).Methods(http.MethodPost)
	r.HandleFunc("/pin/request", s.RequestPinHandler).Methods(http.MethodPost)
	r.HandleFunc("/pin/verify", s.VerifyPinHandler).Methods(http.MethodPost)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/reload", s.ReloadHandler).Methods(http.MethodPost)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// openSession verifies the request token and returns the session state.
func (s *Server) openSession(r *http.Request) (*session.State, error) {
	claims, err := token.Verify(r.Header.Get(SessionHeader), s.TokenSecret, s.TokenTTL)
	if err != nil {
		return nil, err
	}
	ok, err := s.Sessions.Exists(r.Context(), claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, session.ErrUnknownSession
	}
	return session.NewState(s.Sessions.Open(claims.SessionID)), nil
}

// observe records request count and latency for a handler.
func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// statusFor maps a handler error to its HTTP status.
func statusFor(err error) int {
	var missing *flow.MissingFieldsError
	switch {
	case errors.Is(err, token.ErrInvalid), errors.Is(err, token.ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, visits.ErrPinNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrStaleSection):
		return http.StatusConflict
	case errors.Is(err, visits.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errBadRequest), errors.Is(err, flow.ErrEmptySelection), errors.Is(err, visits.ErrVisitRequired),
		errors.Is(err, visits.ErrPinRequired), errors.As(err, &missing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

var errBadRequest = errors.New("invalid JSON body")

// sessionLocks serializes requests of one session so a double click cannot
// apply two events to the same visible section.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the session's mutex and returns its release function.
func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
