package feedserver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/captionsync/pkg/caption"
)

// seq orders rows by insertion; start_time alone is not unique and
// transcribers may confirm slightly out of time order.
const ddlCaptionSegments = `
CREATE TABLE IF NOT EXISTS caption_segments (
    seq         BIGSERIAL         PRIMARY KEY,
    id          TEXT              NOT NULL UNIQUE,
    session_id  TEXT              NOT NULL,
    start_time  DOUBLE PRECISION  NOT NULL,
    end_time    DOUBLE PRECISION  NOT NULL,
    text        TEXT              NOT NULL,
    speaker     TEXT              NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION,
    created_at  TIMESTAMPTZ       NOT NULL DEFAULT now(),
    CHECK (start_time < end_time)
);

CREATE INDEX IF NOT EXISTS idx_caption_segments_session_seq
    ON caption_segments (session_id, seq);
`

// Migrate creates the caption_segments table. It is idempotent and safe to
// call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCaptionSegments); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// PostgresHistory is a [HistoryStore] backed by a PostgreSQL
// caption_segments table.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

var _ HistoryStore = (*PostgresHistory)(nil)

// NewPostgresHistory connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresHistory(ctx context.Context, dsn string) (*PostgresHistory, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: migrate: %w", err)
	}
	return &PostgresHistory{pool: pool}, nil
}

// Append implements [HistoryStore].
func (p *PostgresHistory) Append(ctx context.Context, seg caption.Segment) error {
	const q = `
		INSERT INTO caption_segments
		    (id, session_id, start_time, end_time, text, speaker, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	tag, err := p.pool.Exec(ctx, q,
		seg.ID,
		seg.SessionID,
		seg.Start,
		seg.End,
		seg.Text,
		seg.Speaker,
		seg.Confidence,
		seg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres history: append: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// List implements [HistoryStore].
func (p *PostgresHistory) List(ctx context.Context, sessionID string) ([]caption.Segment, error) {
	const q = `
		SELECT id, session_id, start_time, end_time, text, speaker, confidence, created_at
		FROM   caption_segments
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := p.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres history: list: %w", err)
	}
	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (caption.Segment, error) {
		var s caption.Segment
		err := row.Scan(&s.ID, &s.SessionID, &s.Start, &s.End, &s.Text, &s.Speaker, &s.Confidence, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan rows: %w", err)
	}
	if segs == nil {
		segs = []caption.Segment{}
	}
	return segs, nil
}

// Ping reports whether the database is reachable.
func (p *PostgresHistory) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *PostgresHistory) Close() {
	p.pool.Close()
}
