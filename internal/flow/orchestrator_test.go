package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/dispatch"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/payload"
	"github.com/patrickwarner/coregflow/internal/session"
)

type leadRecorder struct {
	mu    sync.Mutex
	leads []models.Payload
	err   error
}

func (r *leadRecorder) Submit(_ context.Context, p models.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.leads = append(r.leads, p)
	return nil
}

func (r *leadRecorder) sent() []models.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Payload(nil), r.leads...)
}

func (r *leadRecorder) byCID(cid string) []models.Payload {
	var out []models.Payload
	for _, p := range r.sent() {
		if p.CID == cid {
			out = append(out, p)
		}
	}
	return out
}

type harness struct {
	o     *Orchestrator
	st    *session.State
	leads *leadRecorder
	rec   *analytics.MockAnalytics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	leads := &leadRecorder{}
	rec := analytics.NewMockAnalytics()
	builder := payload.NewBuilder("https://lp.example/", nil)
	builder.Now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	d := dispatch.New(leads, time.Second, nil, nil, rec)
	o := New(Config{ShortForm: models.Destination{CID: "925", SID: "34"}}, builder, d, rec, nil, nil)
	return &harness{
		o:     o,
		st:    session.NewState(session.NewMemoryBackend().Open("sess-1")),
		leads: leads,
		rec:   rec,
	}
}

func (h *harness) start(t *testing.T, campaigns ...models.Campaign) Step {
	t.Helper()
	step, err := h.o.Start(context.Background(), h.st, campaigns, false)
	require.NoError(t, err)
	return step
}

func (h *harness) handle(t *testing.T, ev Event) Step {
	t.Helper()
	step, err := h.o.Handle(context.Background(), h.st, ev)
	require.NoError(t, err)
	h.o.Wait()
	return step
}

var profile = models.Profile{Gender: "male", FirstName: "Jan", LastName: "Smit", Email: "jan@example.nl", DOB: "01/02/1980"}

func single(id, cid, sid string) models.Campaign {
	return models.Campaign{
		ID: id, CID: cid, SID: sid, GroupKey: "campaign:" + id, Style: models.StyleButtons,
		Answers: []models.AnswerOption{{Label: "Ja", Value: "yes"}, {Label: "Nee", Value: "no"}},
	}
}

func step(id, cid, sid string, idx int) models.Campaign {
	c := single(id, cid, sid)
	c.HasMultiStep = true
	c.GroupKey = cid
	c.StepIndex = idx
	return c
}

func TestScenarioSingleCampaignYes(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, single("1", "10", "1"))
	assert.Equal(t, 0, first.Section)
	assert.Equal(t, 0, first.Progress)

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.True(t, got.Done)
	assert.Equal(t, SignalFlowCompleted, got.Signal)
	assert.Equal(t, DecisionDispatched, got.Decision)

	leads := h.leads.sent()
	require.Len(t, leads, 1)
	assert.Equal(t, "10", leads[0].CID)
	assert.Equal(t, "1", leads[0].SID)
	assert.Equal(t, "yes", leads[0].CoregAnswer)
}

func TestScenarioMultiStepCombinesAnswers(t *testing.T) {
	h := newHarness(t)
	h.start(t, step("s1", "20", "2", 1), step("s2", "20", "2", 2))

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "a"})
	assert.Equal(t, DecisionContinue, got.Decision)
	assert.Equal(t, 1, got.Section)
	assert.Empty(t, h.leads.sent())

	got = h.handle(t, Event{Kind: KindAnswer, Section: 1, Value: "b"})
	assert.Equal(t, SignalFlowCompleted, got.Signal)

	leads := h.leads.byCID("20")
	require.Len(t, leads, 1)
	assert.Equal(t, "a - b", leads[0].CoregAnswer)

	combined, err := h.st.CombinedAnswer(context.Background(), "20")
	require.NoError(t, err)
	assert.Equal(t, "a - b", combined)
}

func TestScenarioLongFormDefersDispatch(t *testing.T) {
	h := newHarness(t)
	c := single("3", "30", "3")
	c.RequiresLongForm = true
	h.start(t, c)

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.Equal(t, DecisionDeferred, got.Decision)
	assert.Equal(t, SignalShowLongForm, got.Signal)
	assert.Empty(t, h.leads.sent())

	cur, err := h.o.Current(context.Background(), h.st)
	require.NoError(t, err)
	assert.Equal(t, SignalShowLongForm, cur.Signal)

	ctx := context.Background()
	addr := models.Address{Postcode: "1234AB", Street: "Kerkstraat", HouseNumber: "5", City: "Leiden", Phone: "0612345678"}
	res, err := h.o.CompleteLongForm(ctx, h.st, addr)
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, SignalLongFormSubmitted, res.Signal)

	leads := h.leads.byCID("30")
	require.Len(t, leads, 1)
	assert.Equal(t, "yes", leads[0].CoregAnswer)
	assert.Equal(t, "Kerkstraat", leads[0].Street)

	res, err = h.o.CompleteLongForm(ctx, h.st, addr)
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, 0, res.Dispatched)
	assert.Len(t, h.leads.byCID("30"), 1)
}

func TestLongFormSendsAccumulatedMultiStepAnswer(t *testing.T) {
	h := newHarness(t)
	first, second := step("l1", "60", "6", 1), step("l2", "60", "6", 2)
	first.RequiresLongForm = true
	second.RequiresLongForm = true
	h.start(t, first, second)
	ctx := context.Background()

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "a"})
	assert.Equal(t, 1, got.Section)
	got = h.handle(t, Event{Kind: KindAnswer, Section: 1, Value: "b"})
	assert.Equal(t, SignalShowLongForm, got.Signal)
	assert.Empty(t, h.leads.sent())

	pending, err := h.st.PendingLongForm(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Destination{{CID: "60", SID: "6"}}, pending)

	addr := models.Address{Postcode: "1234AB", Street: "Kerkstraat", HouseNumber: "5", City: "Leiden", Phone: "0612345678"}
	res, err := h.o.CompleteLongForm(ctx, h.st, addr)
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, 1, res.Dispatched)

	leads := h.leads.byCID("60")
	require.Len(t, leads, 1)
	assert.Equal(t, "a - b", leads[0].CoregAnswer)
}

func TestShortformFlushSendsOtherSidOfLongFormCID(t *testing.T) {
	h := newHarness(t)
	long := single("lf", "50", "1")
	long.RequiresLongForm = true
	pick := single("dd", "52", "2")
	pick.IsShortformCoreg = true
	pick.Style = models.StyleDropdown
	pick.Answers = []models.AnswerOption{{Label: "Energie", Value: "energie", OwnCID: "50", OwnSID: "9"}}
	h.start(t, long, pick)
	ctx := context.Background()

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.Equal(t, DecisionDeferred, got.Decision)
	got = h.handle(t, Event{Kind: KindSelect, Section: 1, Value: "energie"})
	assert.Equal(t, DecisionBuffered, got.Decision)

	res, err := h.o.CompleteShortForm(ctx, h.st, profile)
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, 1, res.Flushed)
	leads := h.leads.byCID("50")
	require.Len(t, leads, 1)
	assert.Equal(t, "9", leads[0].SID)

	buffer, err := h.st.ShortformBuffer(ctx)
	require.NoError(t, err)
	assert.Empty(t, buffer)

	addr := models.Address{Postcode: "1234AB", Street: "Kerkstraat", HouseNumber: "5", City: "Leiden", Phone: "0612345678"}
	_, err = h.o.CompleteLongForm(ctx, h.st, addr)
	require.NoError(t, err)
	h.o.Wait()
	sids := []string{}
	for _, p := range h.leads.byCID("50") {
		sids = append(sids, p.SID)
	}
	assert.ElementsMatch(t, []string{"9", "1"}, sids)
}

func TestScenarioShortformBufferFlushesOnce(t *testing.T) {
	h := newHarness(t)
	c := single("4", "40", "4")
	c.IsShortformCoreg = true
	h.start(t, c)
	ctx := context.Background()

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.Equal(t, DecisionBuffered, got.Decision)
	assert.Empty(t, h.leads.sent())

	buffer, err := h.st.ShortformBuffer(ctx)
	require.NoError(t, err)
	require.Len(t, buffer, 1)
	assert.Equal(t, "40", buffer[0].CID)
	sub, err := h.st.Submission(ctx, models.Destination{CID: "40", SID: "4"})
	require.NoError(t, err)
	assert.Equal(t, session.SubmissionNone, sub)

	res, err := h.o.CompleteShortForm(ctx, h.st, profile)
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, 1, res.Flushed)
	assert.Equal(t, dispatch.Queued, res.ShortFormLead)
	require.Len(t, h.leads.byCID("40"), 1)
	assert.Equal(t, "Jan", h.leads.byCID("40")[0].FirstName)

	short := h.leads.byCID("925")
	require.Len(t, short, 1)
	assert.True(t, short[0].IsShortForm)
	assert.Equal(t, "1980-02-01", short[0].DOB)

	buffer, err = h.st.ShortformBuffer(ctx)
	require.NoError(t, err)
	assert.Empty(t, buffer)

	res, err = h.o.CompleteShortForm(ctx, h.st, profile)
	require.NoError(t, err)
	h.o.Wait()
	assert.Equal(t, 0, res.Flushed)
	assert.Equal(t, dispatch.Skipped, res.ShortFormLead)
	assert.Len(t, h.leads.byCID("40"), 1)
	assert.Len(t, h.leads.byCID("925"), 1)
}

func TestScenarioEmptyCatalogCompletes(t *testing.T) {
	h := newHarness(t)
	got := h.start(t)
	assert.True(t, got.Done)
	assert.Equal(t, SignalFlowCompleted, got.Signal)

	sections, err := h.o.Sections(context.Background(), h.st)
	require.NoError(t, err)
	assert.Empty(t, sections)
	assert.Empty(t, h.leads.sent())

	_, err = h.o.Handle(context.Background(), h.st, Event{Kind: KindAnswer, Section: 0})
	assert.ErrorIs(t, err, ErrStaleSection)
}

func TestNegativeAnswerSkipsRestOfGroup(t *testing.T) {
	for _, ev := range []Event{
		{Kind: KindSkip, Section: 0},
		{Kind: KindAnswer, Section: 0, Value: "No"},
	} {
		h := newHarness(t)
		h.start(t, step("s1", "20", "2", 1), step("s2", "20", "2", 2), step("s3", "20", "2", 3), single("x", "9", "9"))

		got := h.handle(t, ev)
		assert.Equal(t, 3, got.Section, "event %+v", ev)
		assert.Equal(t, DecisionSkipGroup, got.Decision)

		answers, err := h.st.Answers(context.Background(), "20")
		require.NoError(t, err)
		assert.Empty(t, answers)
		assert.Empty(t, h.leads.sent())
		assert.Len(t, h.rec.Events(analytics.EventSkip), 1)
	}
}

func TestNegativeMidGroupKeepsEarlierAnswers(t *testing.T) {
	h := newHarness(t)
	h.start(t, step("s1", "20", "2", 1), step("s2", "20", "2", 2), single("x", "9", "9"))
	h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "a"})
	got := h.handle(t, Event{Kind: KindSkip, Section: 1})
	assert.Equal(t, 2, got.Section)

	answers, err := h.st.Answers(context.Background(), "20")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, answers)
	assert.Empty(t, h.leads.sent())
}

func TestDropdownRoutesToOwnCampaign(t *testing.T) {
	h := newHarness(t)
	c := single("5", "50", "5")
	c.Style = models.StyleDropdown
	c.Answers = []models.AnswerOption{
		{Label: "Energie", Value: "energie", OwnCID: "51", OwnSID: "7"},
		{Label: "Internet", Value: "internet"},
	}
	h.start(t, c)

	_, err := h.o.Handle(context.Background(), h.st, Event{Kind: KindSelect, Section: 0, Value: " "})
	assert.ErrorIs(t, err, ErrEmptySelection)

	got := h.handle(t, Event{Kind: KindSelect, Section: 0, Value: "energie"})
	assert.Equal(t, DecisionDispatched, got.Decision)

	leads := h.leads.sent()
	require.Len(t, leads, 1)
	assert.Equal(t, "51", leads[0].CID)
	assert.Equal(t, "7", leads[0].SID)
	assert.Equal(t, "energie", leads[0].DropdownAnswer)
	assert.Equal(t, "energie", leads[0].CoregAnswer)
}

func TestAnswerUsesEventDestination(t *testing.T) {
	h := newHarness(t)
	h.start(t, single("6", "60", "6"))
	h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes", CID: "61", SID: "8"})

	leads := h.leads.sent()
	require.Len(t, leads, 1)
	assert.Equal(t, models.Destination{CID: "61", SID: "8"}, leads[0].Destination())
}

func TestStaleAndDuplicateEventsRejected(t *testing.T) {
	h := newHarness(t)
	h.start(t, single("1", "10", "1"), single("2", "11", "1"))
	ctx := context.Background()

	_, err := h.o.Handle(ctx, h.st, Event{Kind: KindAnswer, Section: 1, Value: "yes"})
	assert.ErrorIs(t, err, ErrStaleSection)

	h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	_, err = h.o.Handle(ctx, h.st, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.ErrorIs(t, err, ErrStaleSection)
	h.o.Wait()
	assert.Len(t, h.leads.byCID("10"), 1)

	sections, err := h.o.Sections(ctx, h.st)
	require.NoError(t, err)
	visible := 0
	for _, s := range sections {
		if s.Visible {
			visible++
			assert.Equal(t, 1, s.Index)
		}
	}
	assert.Equal(t, 1, visible)
}

func TestCoregBeforeShortFormBuffersAnswers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.o.Start(ctx, h.st, []models.Campaign{single("1", "10", "1")}, true)
	require.NoError(t, err)

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.Equal(t, DecisionBuffered, got.Decision)
	assert.Empty(t, h.leads.byCID("10"))

	_, err = h.o.CompleteShortForm(ctx, h.st, profile)
	require.NoError(t, err)
	h.o.Wait()
	assert.Len(t, h.leads.byCID("10"), 1)
}

func TestShortformCoregAfterShortFormDispatchesImmediately(t *testing.T) {
	h := newHarness(t)
	c := single("4", "40", "4")
	c.IsShortformCoreg = true
	h.start(t, c)
	ctx := context.Background()

	_, err := h.o.CompleteShortForm(ctx, h.st, profile)
	require.NoError(t, err)
	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.Equal(t, DecisionDispatched, got.Decision)
	assert.Len(t, h.leads.byCID("40"), 1)
}

func TestDispatchFailureStillAdvances(t *testing.T) {
	h := newHarness(t)
	h.leads.err = errors.New("lead endpoint down")
	h.start(t, single("1", "10", "1"), single("2", "11", "1"))

	got := h.handle(t, Event{Kind: KindAnswer, Section: 0, Value: "yes"})
	assert.Equal(t, 1, got.Section)

	sub, err := h.st.Submission(context.Background(), models.Destination{CID: "10", SID: "1"})
	require.NoError(t, err)
	assert.Equal(t, session.SubmissionNone, sub)
	failed := h.rec.Events(analytics.EventDispatch)
	require.Len(t, failed, 1)
	assert.Equal(t, "failed", failed[0].Outcome)
}

func TestFormValidation(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	_, err := h.o.CompleteShortForm(ctx, h.st, models.Profile{FirstName: "Jan"})
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"lastname", "email", "dob"}, missing.Fields)

	_, err = h.o.CompleteLongForm(ctx, h.st, models.Address{Postcode: "1234AB"})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"straat", "huisnummer", "woonplaats", "telefoon"}, missing.Fields)

	completed, err := h.st.ShortFormCompleted(ctx)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestHandleUnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.Handle(context.Background(), h.st, Event{Kind: KindAnswer})
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestProgressAndMotivation(t *testing.T) {
	h := newHarness(t)
	h.start(t, single("1", "1", "1"), single("2", "2", "1"), single("3", "3", "1"), single("4", "4", "1"))

	got := h.handle(t, Event{Kind: KindSkip, Section: 0})
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, "Over de helft, even volhouden! 🚀", got.Motivation)

	got = h.handle(t, Event{Kind: KindSkip, Section: 1})
	assert.Equal(t, 75, got.Progress)
	got = h.handle(t, Event{Kind: KindSkip, Section: 2})
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "Geweldig! Laatste vraag! 🎉", got.Motivation)

	assert.Equal(t, "Beantwoord nu deze vragen 🎯", motivation(0))
	assert.Equal(t, "Top! Nog maar een paar vragen ⚡️", motivation(25))
	assert.Equal(t, "Bijna klaar, laatste vragen 🙌", motivation(99))
}
