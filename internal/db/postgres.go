package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/coregflow/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS visits (
    id BIGSERIAL PRIMARY KEY,
    click_id TEXT NOT NULL,
    aff_id TEXT NOT NULL DEFAULT '',
    offer_id TEXT NOT NULL DEFAULT '',
    sub_id TEXT NOT NULL DEFAULT '',
    sub_id_2 TEXT NOT NULL DEFAULT '',
    is_mobile BOOLEAN NOT NULL DEFAULT FALSE,
    country TEXT NOT NULL DEFAULT '',
    used_for_pixel_firing BOOLEAN NOT NULL DEFAULT FALSE,
    date_created TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS calls (
    id BIGSERIAL PRIMARY KEY,
    visit BIGINT REFERENCES visits(id),
    call_id TEXT NOT NULL DEFAULT '',
    click_id TEXT NOT NULL DEFAULT '',
    aff_id TEXT NOT NULL DEFAULT '',
    offer_id TEXT NOT NULL DEFAULT '',
    sub_id TEXT NOT NULL DEFAULT '',
    sub_id_2 TEXT NOT NULL DEFAULT '',
    pincode TEXT NOT NULL,
    status TEXT NOT NULL,
    date_created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    date_updated TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_visits_click_id ON visits (click_id);
CREATE INDEX IF NOT EXISTS idx_calls_pincode ON calls (pincode);
CREATE INDEX IF NOT EXISTS idx_calls_visit ON calls (visit);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// InsertVisit stores a visit and sets its generated ID.
func (p *Postgres) InsertVisit(ctx context.Context, v *models.Visit) error {
	err := p.DB.QueryRowContext(ctx, `INSERT INTO visits (click_id, aff_id, offer_id, sub_id, sub_id_2, is_mobile, country, date_created)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		v.ClickID, v.AffID, v.OfferID, v.SubID, v.SubID2, v.IsMobile, v.Country, v.CreatedAt).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// InsertCall stores a PIN call and sets its generated ID.
func (p *Postgres) InsertCall(ctx context.Context, c *models.Call) error {
	err := p.DB.QueryRowContext(ctx, `INSERT INTO calls (visit, click_id, aff_id, offer_id, sub_id, sub_id_2, pincode, status, date_created)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		c.VisitID, c.ClickID, c.AffID, c.OfferID, c.SubID, c.SubID2, c.Pincode, c.Status, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// FindCallByPin returns the most recent call issued with pin.
func (p *Postgres) FindCallByPin(ctx context.Context, pin string) (*models.Call, error) {
	var c models.Call
	err := p.DB.QueryRowContext(ctx, `SELECT id, visit, call_id, click_id, aff_id, offer_id, sub_id, sub_id_2, pincode, status, date_created
            FROM calls WHERE pincode=$1 ORDER BY date_created DESC LIMIT 1`, pin).
		Scan(&c.ID, &c.VisitID, &c.CallID, &c.ClickID, &c.AffID, &c.OfferID, &c.SubID, &c.SubID2, &c.Pincode, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find call by pin: %w", err)
	}
	return &c, nil
}

// UpdateCallStatus sets the status of a call.
func (p *Postgres) UpdateCallStatus(ctx context.Context, id int64, status string) error {
	res, err := p.DB.ExecContext(ctx, `UPDATE calls SET status=$1, date_updated=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("update call status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
