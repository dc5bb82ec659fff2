// Package flow drives the coreg questionnaire: it walks the visitor through
// the campaign sections one at a time and decides, per answer, whether the
// lead is sent now, deferred to the long form or held until the short form
// completed.
package flow

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/catalog"
	"github.com/patrickwarner/coregflow/internal/dispatch"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/observability"
	"github.com/patrickwarner/coregflow/internal/payload"
	"github.com/patrickwarner/coregflow/internal/session"
)

// Dispatcher delivers leads in the background.
type Dispatcher interface {
	DispatchAsync(ctx context.Context, st *session.State, p models.Payload) dispatch.Outcome
	Wait()
}

// Config holds the orchestrator settings.
type Config struct {
	// ShortForm is the destination of the primary short-form lead. An empty
	// destination disables that lead.
	ShortForm models.Destination
}

// Orchestrator walks a visitor through the arranged coreg campaigns one
// section at a time.
//
// For every positive answer it decides whether the lead goes out now, waits
// in the short-form buffer until the visitor's profile is known, waits for the
// long form, or whether the campaign still has steps left to answer. Negative
// answers and skips jump past the rest of the campaign's group. Leads are
// handed to the Dispatcher, which delivers them in the background and
// guarantees at most one delivery per cid:sid.
//
// The Orchestrator is stateless across sessions. All per-visitor state lives
// in the session.State passed to each call; callers serialize calls per
// session. Events for a section other than the visible one are rejected with
// ErrStaleSection.
type Orchestrator struct {
	cfg        Config
	builder    *payload.Builder
	dispatcher Dispatcher
	recorder   analytics.Recorder
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
	tracer     trace.Tracer
}

// New creates an Orchestrator. recorder may be nil.
func New(cfg Config, builder *payload.Builder, d Dispatcher, recorder analytics.Recorder, logger *zap.Logger, metrics observability.MetricsRegistry) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Orchestrator{
		cfg:        cfg,
		builder:    builder,
		dispatcher: d,
		recorder:   recorder,
		logger:     logger.Named("flow"),
		metrics:    metrics,
		tracer:     observability.Tracer("flow"),
	}
}

// Wait blocks until every background lead delivery finished.
func (o *Orchestrator) Wait() {
	o.dispatcher.Wait()
}

// Start snapshots campaigns into the session and shows the first section. An
// empty catalog finishes the flow immediately. coregFirst is the page layout
// fact that the coreg block precedes the short form.
func (o *Orchestrator) Start(ctx context.Context, st *session.State, campaigns []models.Campaign, coregFirst bool) (Step, error) {
	if err := st.SaveCatalog(ctx, campaigns); err != nil {
		return Step{}, fmt.Errorf("save catalog: %w", err)
	}
	if err := st.SetCoregBeforeShortForm(ctx, coregFirst); err != nil {
		return Step{}, fmt.Errorf("save layout: %w", err)
	}
	if err := st.ClearPendingLongForm(ctx); err != nil {
		return Step{}, fmt.Errorf("reset long form: %w", err)
	}
	o.record(ctx, st, analytics.Event{EventType: analytics.EventSessionStarted, Outcome: fmt.Sprint(len(campaigns))})

	if len(campaigns) == 0 {
		return o.finish(ctx, st, 0)
	}
	if err := st.SetPosition(ctx, 0); err != nil {
		return Step{}, fmt.Errorf("save position: %w", err)
	}
	return stepAt(0, len(campaigns)), nil
}

// Current returns the session's step without changing it. A finished flow
// reports the signal its completion raised.
func (o *Orchestrator) Current(ctx context.Context, st *session.State) (Step, error) {
	campaigns, err := o.catalog(ctx, st)
	if err != nil {
		return Step{}, err
	}
	idx, done, err := st.Position(ctx)
	if err != nil {
		return Step{}, err
	}
	if done {
		sig, err := o.doneSignal(ctx, st)
		if err != nil {
			return Step{}, err
		}
		return stepDone(len(campaigns), sig), nil
	}
	return stepAt(idx, len(campaigns)), nil
}

// Sections renders the session's campaigns with only the current section visible.
func (o *Orchestrator) Sections(ctx context.Context, st *session.State) ([]models.Section, error) {
	campaigns, err := o.catalog(ctx, st)
	if err != nil {
		return nil, err
	}
	idx, done, err := st.Position(ctx)
	if err != nil {
		return nil, err
	}
	sections := catalog.Sections(campaigns)
	for i := range sections {
		sections[i].Visible = !done && i == idx
	}
	return sections, nil
}

// Handle applies one visitor action to the visible section and advances the
// flow. Lead building and delivery failures are logged and never prevent the
// transition.
func (o *Orchestrator) Handle(ctx context.Context, st *session.State, ev Event) (Step, error) {
	ctx, span := o.tracer.Start(ctx, "flow.handle", trace.WithAttributes(
		attribute.String("coreg.event", string(ev.Kind)),
		attribute.Int("coreg.section", ev.Section),
	))
	defer span.End()

	campaigns, err := o.catalog(ctx, st)
	if err != nil {
		return Step{}, err
	}
	idx, done, err := st.Position(ctx)
	if err != nil {
		return Step{}, err
	}
	if done || ev.Section != idx || idx >= len(campaigns) {
		return Step{}, ErrStaleSection
	}
	c := campaigns[idx]

	if ev.negative() {
		o.metrics.IncrementAnswers("negative")
		o.metrics.IncrementDecisions(string(DecisionSkipGroup))
		o.record(ctx, st, analytics.Event{EventType: analytics.EventSkip, CID: c.CID, SID: c.SID, Answer: ev.Value, Outcome: string(DecisionSkipGroup)})
		step, err := o.advance(ctx, st, campaigns, nextGroup(campaigns, idx))
		step.Decision = DecisionSkipGroup
		return step, err
	}

	value := strings.TrimSpace(ev.Value)
	switch ev.Kind {
	case KindSelect:
		if value == "" {
			return Step{}, ErrEmptySelection
		}
		o.metrics.IncrementAnswers("dropdown")
	default:
		if value == "" {
			value = "yes"
		}
		o.metrics.IncrementAnswers("positive")
	}

	decision := o.decide(ctx, st, campaigns, idx, ev, value)
	o.metrics.IncrementDecisions(string(decision))
	span.SetAttributes(attribute.String("coreg.decision", string(decision)))

	step, err := o.advance(ctx, st, campaigns, idx+1)
	step.Decision = decision
	return step, err
}

// decide runs the positive-answer bookkeeping for section idx. Store
// failures are logged so the visitor still moves on.
func (o *Orchestrator) decide(ctx context.Context, st *session.State, campaigns []models.Campaign, idx int, ev Event, value string) Decision {
	c := campaigns[idx]
	dest := destination(c, ev, value)
	log := o.logger.With(
		zap.String("session_id", st.ID()),
		zap.String("campaign", c.ID),
		zap.String("cid", dest.CID),
		zap.String("sid", dest.SID))

	decision, err := o.apply(ctx, st, campaigns, idx, ev.Kind, dest, value)
	if err != nil {
		log.Error("coreg answer bookkeeping failed", zap.Error(err))
		decision = DecisionUnavailable
	} else {
		log.Debug("coreg answer handled", zap.String("decision", string(decision)))
	}
	o.record(ctx, st, analytics.Event{EventType: analytics.EventAnswer, CID: dest.CID, SID: dest.SID, Answer: value, Outcome: string(decision)})
	return decision
}

func (o *Orchestrator) apply(ctx context.Context, st *session.State, campaigns []models.Campaign, idx int, kind EventKind, dest models.Destination, value string) (Decision, error) {
	c := campaigns[idx]

	if kind == KindSelect {
		if err := st.SetDropdownAnswer(ctx, c.CID, value); err != nil {
			return DecisionNone, err
		}
	}
	if _, err := st.AppendAnswer(ctx, c.CID, value); err != nil {
		return DecisionNone, err
	}

	if c.RequiresLongForm {
		if _, err := st.AddPendingLongForm(ctx, models.Destination{CID: c.CID, SID: c.SID}); err != nil {
			return DecisionNone, err
		}
		return DecisionDeferred, nil
	}
	if continuesLater(campaigns, idx) {
		return DecisionContinue, nil
	}

	combined, err := st.CombinedAnswer(ctx, c.CID)
	if err != nil {
		return DecisionNone, err
	}
	dropdown, err := st.DropdownAnswer(ctx, c.CID)
	if err != nil {
		return DecisionNone, err
	}

	hold, err := o.holdForShortForm(ctx, st, c)
	if err != nil {
		return DecisionNone, err
	}
	if hold {
		entry := session.BufferedAnswer{CID: dest.CID, SID: dest.SID, Answer: combined, Dropdown: dropdown}
		if err := st.BufferShortform(ctx, entry); err != nil {
			return DecisionNone, err
		}
		return DecisionBuffered, nil
	}

	pending, err := st.IsPendingLongForm(ctx, dest)
	if err != nil {
		return DecisionNone, err
	}
	if pending {
		return DecisionDeferred, nil
	}
	p := o.builder.Build(ctx, st, dest, combined, dropdown)
	o.dispatcher.DispatchAsync(ctx, st, p)
	return DecisionDispatched, nil
}

// holdForShortForm reports whether a terminal answer must wait for the short
// form. Completion of the short form always releases the answer; the layout
// fact only matters while the short form is still open.
func (o *Orchestrator) holdForShortForm(ctx context.Context, st *session.State, c models.Campaign) (bool, error) {
	completed, err := st.ShortFormCompleted(ctx)
	if err != nil || completed {
		return false, err
	}
	if c.IsShortformCoreg {
		return true, nil
	}
	return st.CoregBeforeShortForm(ctx)
}

// advance shows section next, or finishes the flow when none remains.
func (o *Orchestrator) advance(ctx context.Context, st *session.State, campaigns []models.Campaign, next int) (Step, error) {
	if next >= len(campaigns) {
		return o.finish(ctx, st, len(campaigns))
	}
	if err := st.SetPosition(ctx, next); err != nil {
		return Step{}, fmt.Errorf("save position: %w", err)
	}
	return stepAt(next, len(campaigns)), nil
}

func (o *Orchestrator) finish(ctx context.Context, st *session.State, total int) (Step, error) {
	if err := st.MarkDone(ctx); err != nil {
		return Step{}, fmt.Errorf("save position: %w", err)
	}
	sig, err := o.doneSignal(ctx, st)
	if err != nil {
		return Step{}, err
	}
	o.metrics.IncrementFlowSignals(string(sig))
	o.record(ctx, st, analytics.Event{EventType: analytics.EventSignal, Outcome: string(sig)})
	o.logger.Debug("coreg flow finished", zap.String("session_id", st.ID()), zap.String("signal", string(sig)))
	return stepDone(total, sig), nil
}

func (o *Orchestrator) doneSignal(ctx context.Context, st *session.State) (Signal, error) {
	pending, err := st.PendingLongForm(ctx)
	if err != nil {
		return SignalNone, err
	}
	if len(pending) > 0 {
		return SignalShowLongForm, nil
	}
	return SignalFlowCompleted, nil
}

func (o *Orchestrator) catalog(ctx context.Context, st *session.State) ([]models.Campaign, error) {
	campaigns, ok, err := st.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, session.ErrUnknownSession
	}
	return campaigns, nil
}

func (o *Orchestrator) record(ctx context.Context, st *session.State, ev analytics.Event) {
	if o.recorder == nil {
		return
	}
	ev.SessionID = st.ID()
	if err := o.recorder.RecordEvent(ctx, ev); err != nil && err != analytics.ErrUnavailable {
		o.logger.Warn("failed to record flow event", zap.String("event_type", ev.EventType), zap.Error(err))
	}
}

// destination resolves where the answer's lead goes: an option's own
// campaign first, then the ids on the control, then the campaign defaults.
func destination(c models.Campaign, ev Event, value string) models.Destination {
	if opt, ok := c.Option(value); ok && opt.HasOwnCampaign() {
		return models.Destination{CID: opt.OwnCID, SID: opt.OwnSID}
	}
	if ev.CID != "" && ev.SID != "" {
		return models.Destination{CID: ev.CID, SID: ev.SID}
	}
	return models.Destination{CID: c.CID, SID: c.SID}
}

// continuesLater reports whether a later section belongs to the same
// multi-step group as section idx.
func continuesLater(campaigns []models.Campaign, idx int) bool {
	key := campaigns[idx].GroupKey
	for _, c := range campaigns[idx+1:] {
		if c.GroupKey == key {
			return true
		}
	}
	return false
}

// nextGroup returns the first section after idx outside its group.
func nextGroup(campaigns []models.Campaign, idx int) int {
	key := campaigns[idx].GroupKey
	for i := idx + 1; i < len(campaigns); i++ {
		if campaigns[i].GroupKey != key {
			return i
		}
	}
	return len(campaigns)
}
