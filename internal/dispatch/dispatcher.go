// Package dispatch delivers lead payloads at most once per (cid, sid) and
// session.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/analytics"
	"github.com/patrickwarner/coregflow/internal/models"
	"github.com/patrickwarner/coregflow/internal/observability"
	"github.com/patrickwarner/coregflow/internal/session"
)

// Outcome is the result of a dispatch attempt.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
	// Queued is returned by DispatchAsync once the destination is claimed
	// and delivery continues in the background.
	Queued Outcome = "queued"
)

// Dispatcher claims a destination in the session before the network call so
// concurrent attempts for the same destination cannot both deliver. A failed
// delivery releases the claim and leaves the destination eligible again.
type Dispatcher struct {
	submitter Submitter
	timeout   time.Duration
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	recorder  analytics.Recorder
	tracer    trace.Tracer

	wg sync.WaitGroup
}

// New creates a Dispatcher. recorder may be nil.
func New(submitter Submitter, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry, recorder analytics.Recorder) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Dispatcher{
		submitter: submitter,
		timeout:   timeout,
		logger:    logger.Named("dispatch"),
		metrics:   metrics,
		recorder:  recorder,
		tracer:    observability.Tracer("dispatch"),
	}
}

// Dispatch delivers p synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, st *session.State, p models.Payload) Outcome {
	if out, ok := d.claim(ctx, st, p); !ok {
		return out
	}
	return d.deliver(ctx, st, p)
}

// DispatchAsync claims the destination synchronously and delivers in the
// background. The delivery outlives ctx cancellation but is bounded by the
// dispatcher timeout. Wait blocks until every background delivery finished.
func (d *Dispatcher) DispatchAsync(ctx context.Context, st *session.State, p models.Payload) Outcome {
	if out, ok := d.claim(ctx, st, p); !ok {
		return out
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(bg, st, p)
	}()
	return Queued
}

// Wait blocks until all background deliveries completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) claim(ctx context.Context, st *session.State, p models.Payload) (Outcome, bool) {
	dest := p.Destination()
	if dest.CID == "" || dest.SID == "" {
		d.logger.Error("payload without cid/sid, not dispatching",
			zap.String("session_id", st.ID()),
			zap.String("cid", dest.CID),
			zap.String("sid", dest.SID))
		d.finish(ctx, st, dest, Failed)
		return Failed, false
	}
	claimed, err := st.ClaimSubmission(ctx, dest)
	if err != nil {
		d.logger.Error("failed to claim submission",
			zap.String("session_id", st.ID()),
			zap.String("destination", dest.Key()),
			zap.Error(err))
		d.finish(ctx, st, dest, Failed)
		return Failed, false
	}
	if !claimed {
		d.logger.Debug("destination already claimed, skipping",
			zap.String("session_id", st.ID()),
			zap.String("destination", dest.Key()))
		d.finish(ctx, st, dest, Skipped)
		return Skipped, false
	}
	return "", true
}

func (d *Dispatcher) deliver(ctx context.Context, st *session.State, p models.Payload) Outcome {
	dest := p.Destination()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver", trace.WithAttributes(
		attribute.String("coreg.cid", dest.CID),
		attribute.String("coreg.sid", dest.SID),
	))
	defer span.End()

	start := time.Now()
	err := d.submitter.Submit(ctx, p)
	d.metrics.RecordDispatchLatency(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lead submission failed")
		d.logger.Warn("lead submission failed",
			zap.String("session_id", st.ID()),
			zap.String("destination", dest.Key()),
			zap.Error(err))
		if rerr := st.ReleaseSubmission(context.WithoutCancel(ctx), dest); rerr != nil {
			d.logger.Error("failed to release submission claim",
				zap.String("destination", dest.Key()), zap.Error(rerr))
		}
		d.finish(ctx, st, dest, Failed)
		return Failed
	}

	if err := st.MarkDelivered(context.WithoutCancel(ctx), dest); err != nil {
		d.logger.Error("failed to mark submission delivered",
			zap.String("destination", dest.Key()), zap.Error(err))
	}
	d.logger.Info("lead delivered",
		zap.String("session_id", st.ID()),
		zap.String("destination", dest.Key()))
	d.finish(ctx, st, dest, Delivered)
	return Delivered
}

func (d *Dispatcher) finish(ctx context.Context, st *session.State, dest models.Destination, out Outcome) {
	d.metrics.IncrementDispatch(string(out))
	if d.recorder == nil {
		return
	}
	err := d.recorder.RecordEvent(context.WithoutCancel(ctx), analytics.Event{
		SessionID: st.ID(),
		EventType: analytics.EventDispatch,
		CID:       dest.CID,
		SID:       dest.SID,
		Outcome:   string(out),
	})
	if err != nil && err != analytics.ErrUnavailable {
		d.logger.Warn("failed to record dispatch event", zap.Error(err))
	}
}
