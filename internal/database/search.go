package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/yellowpages-scraper/internal/models"
)

const Schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	id              UUID PRIMARY KEY,
	terms           TEXT NOT NULL,
	location        TEXT NOT NULL,
	url             TEXT NOT NULL,
	pages_requested INTEGER NOT NULL,
	pages_fetched   INTEGER NOT NULL,
	total_pages     INTEGER NOT NULL,
	requests        BIGINT NOT NULL,
	fallbacks       BIGINT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
	id       BIGSERIAL PRIMARY KEY,
	run_id   UUID NOT NULL REFERENCES search_runs(id) ON DELETE CASCADE,
	page     INTEGER NOT NULL,
	position INTEGER NOT NULL,
	name     TEXT,
	phone    TEXT,
	address  TEXT,
	locality TEXT
);

CREATE INDEX IF NOT EXISTS idx_listings_run_id ON listings(run_id);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event(status, next_retry_at);
`

const (
	insertRunSQL = `
		INSERT INTO search_runs (id, terms, location, url, pages_requested, pages_fetched,
			total_pages, requests, fallbacks, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertListingSQL = `
		INSERT INTO listings (run_id, page, position, name, phone, address, locality)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	recentRunsSQL = `
		SELECT id::text, terms, location, pages_fetched, total_pages, fallbacks, finished_at,
			(SELECT COUNT(*) FROM listings l WHERE l.run_id = r.id)
		FROM search_runs r
		ORDER BY finished_at DESC
		LIMIT $1`
)

type RunSummary struct {
	RunID        string    `json:"run_id"`
	Terms        string    `json:"terms"`
	Location     string    `json:"location"`
	PagesFetched int       `json:"pages_fetched"`
	TotalPages   int       `json:"total_pages"`
	Fallbacks    int64     `json:"fallbacks"`
	FinishedAt   time.Time `json:"finished_at"`
	Listings     int64     `json:"listings"`
}

// SaveSearch stores a run, its listings and a SEARCH_COMPLETED outbox event
// in one transaction.
func (db *DB) SaveSearch(ctx context.Context, result *models.SearchResult) error {
	event, err := NewSearchCompletedEvent(result)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertRunSQL,
			result.RunID, result.Terms, result.Location, result.URL,
			result.PagesRequested, result.PagesFetched, result.TotalPages,
			result.Requests, result.Fallbacks, result.StartedAt, result.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert search run: %w", err)
		}

		for i, l := range result.Listings {
			_, err := tx.Exec(ctx, insertListingSQL,
				result.RunID, l.Page, i, l.Name, l.Phone, l.Address, l.Locality,
			)
			if err != nil {
				return fmt.Errorf("failed to insert listing %d: %w", i, err)
			}
		}
		return NewOutboxRepository(db).InsertWithTx(ctx, tx, event)
	})
}

func (db *DB) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := db.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Terms, &r.Location, &r.PagesFetched,
			&r.TotalPages, &r.Fallbacks, &r.FinishedAt, &r.Listings); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
