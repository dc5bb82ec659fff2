package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/observability"
	"github.com/patrickwarner/coregflow/internal/session"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []models.Payload
	err   error
	gate  chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, p models.Payload) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newState() *session.State {
	return session.NewState(session.NewMemoryBackend().Open("sess-1"))
}

func TestDispatchDeliversOnce(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	rec := analytics.NewMockAnalytics()
	d := New(sub, time.Second, zap.NewNop(), observability.NewNoOpRegistry(), rec)
	st := newState()
	p := models.Payload{CID: "10", SID: "1"}

	assert.Equal(t, Delivered, d.Dispatch(ctx, st, p))
	assert.Equal(t, Skipped, d.Dispatch(ctx, st, p))
	assert.Equal(t, 1, sub.count())

	state, err := st.Submission(ctx, p.Destination())
	require.NoError(t, err)
	assert.Equal(t, session.SubmissionDelivered, state)

	events := rec.Events(analytics.EventDispatch)
	require.Len(t, events, 2)
	assert.Equal(t, "delivered", events[0].Outcome)
	assert.Equal(t, "skipped", events[1].Outcome)
	assert.Equal(t, "sess-1", events[0].SessionID)
}

func TestDispatchFailureLeavesDestinationEligible(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{err: errors.New("connection reset")}
	d := New(sub, time.Second, nil, nil, nil)
	st := newState()
	p := models.Payload{CID: "10", SID: "1"}

	assert.Equal(t, Failed, d.Dispatch(ctx, st, p))
	state, err := st.Submission(ctx, p.Destination())
	require.NoError(t, err)
	assert.Equal(t, session.SubmissionNone, state)

	sub.err = nil
	assert.Equal(t, Delivered, d.Dispatch(ctx, st, p))
	assert.Equal(t, 2, sub.count())
}

func TestDispatchMissingDestination(t *testing.T) {
	sub := &fakeSubmitter{}
	d := New(sub, time.Second, nil, nil, nil)
	assert.Equal(t, Failed, d.Dispatch(context.Background(), newState(), models.Payload{CID: "10"}))
	assert.Equal(t, 0, sub.count())
}

func TestDispatchAsyncConcurrentSameKeyDeliversOnce(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{gate: make(chan struct{})}
	d := New(sub, time.Second, nil, nil, nil)
	st := newState()
	p := models.Payload{CID: "20", SID: "2"}

	var wg sync.WaitGroup
	results := make(chan Outcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.DispatchAsync(ctx, st, p)
		}()
	}
	wg.Wait()
	close(results)

	queued := 0
	for out := range results {
		if out == Queued {
			queued++
		} else {
			assert.Equal(t, Skipped, out)
		}
	}
	assert.Equal(t, 1, queued)

	state, err := st.Submission(ctx, p.Destination())
	require.NoError(t, err)
	assert.Equal(t, session.SubmissionInFlight, state)

	close(sub.gate)
	d.Wait()
	assert.Equal(t, 1, sub.count())
	state, err = st.Submission(ctx, p.Destination())
	require.NoError(t, err)
	assert.Equal(t, session.SubmissionDelivered, state)
}

func TestDispatchAsyncSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakeSubmitter{}
	d := New(sub, time.Second, nil, nil, nil)
	st := newState()

	assert.Equal(t, Queued, d.DispatchAsync(ctx, st, models.Payload{CID: "30", SID: "3"}))
	cancel()
	d.Wait()
	assert.Equal(t, 1, sub.count())
}

func TestLeadClientSubmit(t *testing.T) {
	var got models.Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewLeadClient(server.URL, time.Second, zap.NewNop())
	err := c.Submit(context.Background(), models.Payload{CID: "10", SID: "1", CoregAnswer: "a - b"})
	require.NoError(t, err)
	assert.Equal(t, "a - b", got.CoregAnswer)
}

func TestLeadClientRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid lead", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := NewLeadClient(server.URL, time.Second, nil)
	err := c.Submit(context.Background(), models.Payload{CID: "10", SID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
