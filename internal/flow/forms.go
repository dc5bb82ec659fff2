package flow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/dispatch"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/session"
)

// MissingFieldsError lists required form fields that were left empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func requireFields(fields [][2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// ShortFormResult reports what short-form completion sent.
type ShortFormResult struct {
	ShortFormLead dispatch.Outcome `json:"shortform_lead,omitempty"`
	Flushed       int              `json:"flushed"`
}

// CompleteShortForm stores the visitor profile, sends the primary short-form
// lead, marks the short form completed and flushes every buffered coreg answer
// exactly once. Repeated calls find an empty buffer and a delivered lead.
func (o *Orchestrator) CompleteShortForm(ctx context.Context, st *session.State, p models.Profile) (ShortFormResult, error) {
	if err := requireFields([][2]string{
		{session.KeyFirstName, p.FirstName},
		{session.KeyLastName, p.LastName},
		{session.KeyEmail, p.Email},
		{session.KeyDOB, p.DOB},
	}); err != nil {
		return ShortFormResult{}, err
	}
	if err := st.SaveProfile(ctx, p); err != nil {
		return ShortFormResult{}, fmt.Errorf("save profile: %w", err)
	}

	var res ShortFormResult
	if dest := o.cfg.ShortForm; dest.CID != "" && dest.SID != "" {
		res.ShortFormLead = o.dispatcher.DispatchAsync(ctx, st, o.builder.BuildShortForm(ctx, st, dest))
	}

	if err := st.MarkShortFormCompleted(ctx); err != nil {
		return res, fmt.Errorf("mark short form completed: %w", err)
	}
	o.metrics.IncrementFlowSignals("short-form-completed")
	o.record(ctx, st, analytics.Event{EventType: analytics.EventSignal, Outcome: "short-form-completed"})

	buffer, err := st.TakeShortformBuffer(ctx)
	if err != nil {
		return res, fmt.Errorf("take short form buffer: %w", err)
	}
	for _, entry := range buffer {
		dest := entry.Destination()
		pending, err := st.IsPendingLongForm(ctx, dest)
		if err != nil {
			o.logger.Error("failed to check long form queue", zap.String("cid", dest.CID), zap.Error(err))
			continue
		}
		if pending {
			o.logger.Debug("buffered answer waits for long form", zap.String("cid", dest.CID))
			continue
		}
		o.dispatcher.DispatchAsync(ctx, st, o.builder.Build(ctx, st, dest, entry.Answer, entry.Dropdown))
		res.Flushed++
	}
	o.logger.Info("short form completed",
		zap.String("session_id", st.ID()),
		zap.Int("buffered", len(buffer)),
		zap.Int("flushed", res.Flushed))
	return res, nil
}

// LongFormResult reports what long-form completion sent.
type LongFormResult struct {
	Dispatched int    `json:"dispatched"`
	Signal     Signal `json:"signal"`
}

// CompleteLongForm stores the address fields and sends one lead per campaign
// queued for the long form, using each campaign's accumulated answers. The
// queue is cleared afterwards.
func (o *Orchestrator) CompleteLongForm(ctx context.Context, st *session.State, a models.Address) (LongFormResult, error) {
	if err := requireFields([][2]string{
		{session.KeyPostcode, a.Postcode},
		{session.KeyStreet, a.Street},
		{session.KeyHouseNumber, a.HouseNumber},
		{session.KeyCity, a.City},
		{session.KeyPhone, a.Phone},
	}); err != nil {
		return LongFormResult{}, err
	}
	if err := st.SaveAddress(ctx, a); err != nil {
		return LongFormResult{}, fmt.Errorf("save address: %w", err)
	}

	pending, err := st.PendingLongForm(ctx)
	if err != nil {
		return LongFormResult{}, fmt.Errorf("read long form queue: %w", err)
	}
	// A cid is never both queued and submitted.
	if err := st.ClearPendingLongForm(ctx); err != nil {
		return LongFormResult{}, fmt.Errorf("clear long form queue: %w", err)
	}

	res := LongFormResult{Signal: SignalLongFormSubmitted}
	for _, dest := range pending {
		combined, err := st.CombinedAnswer(ctx, dest.CID)
		if err != nil {
			o.logger.Error("failed to read combined answer", zap.String("cid", dest.CID), zap.Error(err))
		}
		dropdown, err := st.DropdownAnswer(ctx, dest.CID)
		if err != nil {
			o.logger.Error("failed to read dropdown answer", zap.String("cid", dest.CID), zap.Error(err))
		}
		o.dispatcher.DispatchAsync(ctx, st, o.builder.Build(ctx, st, dest, combined, dropdown))
		res.Dispatched++
	}
	o.metrics.IncrementFlowSignals(string(SignalLongFormSubmitted))
	o.record(ctx, st, analytics.Event{EventType: analytics.EventSignal, Outcome: string(SignalLongFormSubmitted)})
	o.logger.Info("long form completed",
		zap.String("session_id", st.ID()),
		zap.Int("dispatched", res.Dispatched))
	return res, nil
}
