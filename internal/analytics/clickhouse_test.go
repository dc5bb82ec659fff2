package analytics

import (
	"context"
	"errors"
	"testing"
)

func TestRecordEventUnavailable(t *testing.T) {
	var a *Analytics
	if err := a.RecordEvent(context.Background(), Event{EventType: EventAnswer}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := (&Analytics{}).EventsBySession(context.Background(), "s1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	a.Close()
}

func TestMockAnalyticsFiltersByType(t *testing.T) {
	m := NewMockAnalytics()
	ctx := context.Background()
	_ = m.RecordEvent(ctx, Event{EventType: EventAnswer, CID: "10"})
	_ = m.RecordEvent(ctx, Event{EventType: EventDispatch, CID: "10", Outcome: "delivered"})
	_ = m.RecordEvent(ctx, Event{EventType: EventAnswer, CID: "20"})

	if got := len(m.Events("")); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	answers := m.Events(EventAnswer)
	if len(answers) != 2 || answers[1].CID != "20" {
		t.Fatalf("unexpected answer events: %+v", answers)
	}
}
