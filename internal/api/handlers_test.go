package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/catalog"
	"github.com/patrickwarner/coregflow/internal/config"
	"github.com/patrickwarner/coregflow/internal/db"
	"github.com/patrickwarner/coregflow/internal/dispatch"
	"github.com/patrickwarner/coregflow/internal/flow"
	"github.com/patrickwarner/coregflow/internal/middleware"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/payload"
	"github.com/patrickwarner/coregflow/internal/session"
	"github.com/patrickwarner/coregflow/internal/visits"
)

const catalogJSON = `{"data":[
 {"id":1,"cid":"10","sid":"1","order":1,"coreg_answers":[{"label":"Ja","answer_value":"yes"},{"label":"Nee","answer_value":"no"}]},
 {"id":2,"cid":"20","sid":"2","order":2,"coreg_answers":[{"label":"Ja","answer_value":"yes"},{"label":"Nee","answer_value":"no"}]}
]}`

type leadSink struct {
	mu    sync.Mutex
	leads []models.Payload
}

func (l *leadSink) Submit(_ context.Context, p models.Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leads = append(l.leads, p)
	return nil
}

func (l *leadSink) sent() []models.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Payload(nil), l.leads...)
}

type memRepo struct {
	mu     sync.Mutex
	visits int64
	calls  []models.Call
}

func (m *memRepo) InsertVisit(_ context.Context, v *models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits++
	v.ID = m.visits
	return nil
}

func (m *memRepo) InsertCall(_ context.Context, c *models.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.calls) + 1)
	m.calls = append(m.calls, *c)
	return nil
}

func (m *memRepo) FindCallByPin(_ context.Context, pin string) (*models.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.calls {
		if m.calls[i].Pincode == pin {
			c := m.calls[i]
			return &c, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memRepo) UpdateCallStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.calls {
		if m.calls[i].ID == id {
			m.calls[i].Status = status
			return nil
		}
	}
	return db.ErrNotFound
}

type testEnv struct {
	srv          *Server
	handler      http.Handler
	leads        *leadSink
	catalogCalls *int32
}

func newTestEnv(t *testing.T, withVisits bool) *testEnv {
	t.Helper()
	var calls int32
	cms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(catalogJSON))
	}))
	t.Cleanup(cms.Close)

	cfg := config.Config{TokenSecret: "secret", TokenTTL: time.Hour, CMSAssetsURL: "https://cms.example/assets"}
	leads := &leadSink{}
	rec := analytics.NewMockAnalytics()
	d := dispatch.New(leads, time.Second, nil, nil, rec)
	orch := flow.New(flow.Config{ShortForm: models.Destination{CID: "925", SID: "34"}},
		payload.NewBuilder("https://lp.example/", nil), d, rec, nil, nil)

	client := catalog.NewClient(cms.URL, "", time.Second, time.Minute, zap.NewNop(), nil)
	var visitSvc *visits.Service
	if withVisits {
		visitSvc = visits.NewService(&memRepo{}, nil, nil)
	}
	srv := NewServer(zap.NewNop(), session.NewMemoryBackend(), client, orch, visitSvc, nil, nil, cfg)

	r := mux.NewRouter()
	srv.Routes(r)
	return &testEnv{
		srv:          srv,
		handler:      middleware.CORS("*")(middleware.WithTraceLogger(zap.NewNop())(r)),
		leads:        leads,
		catalogCalls: &calls,
	}
}

func (e *testEnv) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set(SessionHeader, tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) startSession(t *testing.T) sessionResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/coreg/sessions", "", `{"tracking":{"aff_id":"7"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeStep(t *testing.T, rec *httptest.ResponseRecorder) flow.Step {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var step flow.Step
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &step))
	return step
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateSessionShowsFirstSection(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.startSession(t)

	assert.NotEmpty(t, resp.Token)
	require.Len(t, resp.Sections, 2)
	assert.True(t, resp.Sections[0].Visible)
	assert.False(t, resp.Sections[1].Visible)
	assert.Equal(t, 0, resp.Step.Section)
	assert.Equal(t, 0, resp.Step.Progress)
}

func TestAnswerFlowDispatchesOnce(t *testing.T) {
	env := newTestEnv(t, false)
	tok := env.startSession(t).Token

	step := decodeStep(t, env.do(t, http.MethodPost, "/coreg/answer", tok, `{"section":0,"value":"yes"}`))
	assert.Equal(t, 1, step.Section)
	assert.Equal(t, flow.DecisionDispatched, step.Decision)

	// a repeated click on the section that is no longer visible
	rec := env.do(t, http.MethodPost, "/coreg/answer", tok, `{"section":0,"value":"yes"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	step = decodeStep(t, env.do(t, http.MethodPost, "/coreg/skip", tok, `{"section":1}`))
	assert.True(t, step.Done)
	assert.Equal(t, flow.SignalFlowCompleted, step.Signal)

	env.srv.Orchestrator.Wait()
	leads := env.leads.sent()
	require.Len(t, leads, 1)
	assert.Equal(t, "10", leads[0].CID)
	assert.Equal(t, "yes", leads[0].CoregAnswer)
	assert.Equal(t, "7", leads[0].AffID)

	current := decodeSession(t, env.do(t, http.MethodGet, "/coreg/session", tok, ""))
	assert.True(t, current.Step.Done)
	assert.Equal(t, flow.SignalFlowCompleted, current.Step.Signal)
}

func TestConcurrentClicksApplyOnce(t *testing.T) {
	env := newTestEnv(t, false)
	tok := env.startSession(t).Token

	var ok, conflict int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := env.do(t, http.MethodPost, "/coreg/answer", tok, `{"section":0,"value":"yes"}`)
			switch rec.Code {
			case http.StatusOK:
				atomic.AddInt32(&ok, 1)
			case http.StatusConflict:
				atomic.AddInt32(&conflict, 1)
			}
		}()
	}
	wg.Wait()
	env.srv.Orchestrator.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(7), conflict)
	assert.Len(t, env.leads.sent(), 1)
}

func TestSessionRequiresValidToken(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/coreg/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/coreg/answer", "forged.token", `{"section":0,"value":"yes"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDropdownWithoutValueIsBadRequest(t *testing.T) {
	env := newTestEnv(t, false)
	tok := env.startSession(t).Token

	rec := env.do(t, http.MethodPost, "/coreg/select", tok, `{"section":0,"value":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/coreg/answer", tok, `{"section":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShortFormValidationAndFlush(t *testing.T) {
	env := newTestEnv(t, false)
	tok := env.startSession(t).Token

	rec := env.do(t, http.MethodPost, "/coreg/shortform", tok, `{"profile":{"firstname":"Jan"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "lastname")

	rec = env.do(t, http.MethodPost, "/coreg/shortform", tok,
		`{"profile":{"firstname":"Jan","lastname":"Smit","email":"jan@example.nl","dob":"01/02/1980"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res flow.ShortFormResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 0, res.Flushed)

	env.srv.Orchestrator.Wait()
	leads := env.leads.sent()
	require.Len(t, leads, 1)
	assert.Equal(t, "925", leads[0].CID)
	assert.True(t, leads[0].IsShortForm)
}

func TestLongFormRequiresAddress(t *testing.T) {
	env := newTestEnv(t, false)
	tok := env.startSession(t).Token

	rec := env.do(t, http.MethodPost, "/coreg/longform", tok, `{"address":{"postcode":"1234AB"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSAndMethodHandling(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodOptions, "/coreg/answer", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/coreg/answer", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCampaignsAndReload(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/coreg/campaigns", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var campaigns []models.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &campaigns))
	require.Len(t, campaigns, 2)
	assert.Equal(t, "10", campaigns[0].CID)

	env.do(t, http.MethodGet, "/coreg/campaigns", "", "")
	assert.Equal(t, int32(1), atomic.LoadInt32(env.catalogCalls), "catalog is cached")

	rec = env.do(t, http.MethodPost, "/reload", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	env.do(t, http.MethodGet, "/coreg/campaigns", "", "")
	assert.Equal(t, int32(2), atomic.LoadInt32(env.catalogCalls))
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestVisitEndpointsDisabledWithoutPostgres(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/visits", "", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVisitAndPinRoundTrip(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/visits", "", `{"clickId":"c1","affId":"7"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"internalVisitId":1}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/pin/request", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/pin/request", "", `{"internalVisitId":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pin struct {
		Pincode string `json:"pincode"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pin))
	require.Len(t, pin.Pincode, 3)

	rec = env.do(t, http.MethodPost, "/pin/verify", "", `{"pin":"`+pin.Pincode+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true,"call_id":null}`, rec.Body.String())

	// PINs are three digits, so "0000" was never issued.
	rec = env.do(t, http.MethodPost, "/pin/verify", "", `{"pin":"0000"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
