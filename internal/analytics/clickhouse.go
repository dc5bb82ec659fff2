package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// Event types written to the coreg_events table.
const (
	EventSessionStarted = "session_started"
	EventAnswer         = "answer"
	EventSkip           = "skip"
	EventDispatch       = "dispatch"
	EventSignal         = "signal"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// Recorder stores coreg flow events. Implementations return ErrUnavailable
// when the underlying storage is not configured.
type Recorder interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// Event mirrors a row in the coreg_events table.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	CID       string    `json:"cid"`
	SID       string    `json:"sid"`
	Answer    string    `json:"answer"`
	Outcome   string    `json:"outcome"`
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB     *sql.DB
	Logger *zap.Logger
}

// InitClickHouse connects to ClickHouse and ensures the coreg_events table exists.
func InitClickHouse(ctx context.Context, dsn string, logger *zap.Logger) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS coreg_events (
       timestamp  DateTime,
       session_id String,
       event_type String,
       cid        String,
       sid        String,
       answer     String,
       outcome    String
   ) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	logger.Info("Connected to ClickHouse")
	return &Analytics{DB: db, Logger: logger}, nil
}

// RecordEvent inserts a single event row. A zero Timestamp is set to now.
func (a *Analytics) RecordEvent(ctx context.Context, ev Event) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	stmt := `INSERT INTO coreg_events (timestamp, session_id, event_type, cid, sid, answer, outcome) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.Timestamp, ev.SessionID, ev.EventType, ev.CID, ev.SID, ev.Answer, ev.Outcome); err != nil {
		a.logger().Error("clickhouse insert failed", zap.Error(err), zap.String("event_type", ev.EventType))
		return fmt.Errorf("insert %s event: %w", ev.EventType, err)
	}
	return nil
}

// EventsBySession returns all events of a session ordered by timestamp.
func (a *Analytics) EventsBySession(ctx context.Context, sessionID string) ([]Event, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, session_id, event_type, cid, sid, answer, outcome FROM coreg_events WHERE session_id=? ORDER BY timestamp`
	rows, err := a.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			a.logger().Warn("rows close", zap.Error(err))
		}
	}()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Timestamp, &ev.SessionID, &ev.EventType, &ev.CID, &ev.SID, &ev.Answer, &ev.Outcome); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger().Error("clickhouse close", zap.Error(err))
		}
	}
}

func (a *Analytics) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.L()
	}
	return a.Logger
}
