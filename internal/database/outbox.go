package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/maltedev/yellowpages-scraper/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed publishes before an event is
	// parked in dead letter.
	MaxRetryCount = 5

	SearchRunsStream     = "stream:search_runs"
	EventSearchCompleted = "SEARCH_COMPLETED"
	aggregateSearchRun   = "search_run"
)

// OutboxEvent is a row in the transactional outbox. Events are written in the
// same transaction as the run they describe and published later by the Relay.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	TargetStream  string
	Status        string
	RetryCount    int
	ErrorMessage  *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	NextRetryAt   *time.Time
}

// SearchCompletedPayload is what consumers of the search stream receive.
type SearchCompletedPayload struct {
	RunID        string    `json:"run_id"`
	Terms        string    `json:"terms"`
	Location     string    `json:"location"`
	PagesFetched int       `json:"pages_fetched"`
	TotalPages   int       `json:"total_pages"`
	Listings     int       `json:"listings"`
	Requests     int64     `json:"requests"`
	Fallbacks    int64     `json:"fallbacks"`
	FinishedAt   time.Time `json:"finished_at"`
}

func NewSearchCompletedEvent(result *models.SearchResult) (*OutboxEvent, error) {
	payload, err := json.Marshal(SearchCompletedPayload{
		RunID:        result.RunID,
		Terms:        result.Terms,
		Location:     result.Location,
		PagesFetched: result.PagesFetched,
		TotalPages:   result.TotalPages,
		Listings:     len(result.Listings),
		Requests:     result.Requests,
		Fallbacks:    result.Fallbacks,
		FinishedAt:   result.FinishedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return &OutboxEvent{
		AggregateType: aggregateSearchRun,
		AggregateID:   result.RunID,
		EventType:     EventSearchCompleted,
		Payload:       payload,
		TargetStream:  SearchRunsStream,
	}, nil
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx fills in ID, status and timestamps, then writes the event
// inside tx.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = SearchRunsStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns pending and failed events whose retry time has come,
// oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query, OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		e := &OutboxEvent{}
		if err := rows.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType,
			&e.Payload, &e.TargetStream, &e.Status, &e.RetryCount,
			&e.ErrorMessage, &e.CreatedAt, &e.ProcessedAt, &e.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = $2 WHERE id = $3`,
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// MarkFailed records processErr and schedules a retry with exponential
// backoff, or parks the event once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	if err := r.db.pool.QueryRow(ctx,
		`SELECT retry_count FROM outbox_event WHERE id = $1`, id).Scan(&retryCount); err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	_, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`,
		status, retryCount, processErr.Error(), nextRetryTime(time.Now(), retryCount), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status IN ($1, $2)`,
		OutboxStatusPending, OutboxStatusFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

func (r *OutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = $1`,
		OutboxStatusDeadLetter).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get dead letter count: %w", err)
	}
	return count, nil
}

// nextRetryTime backs off 2s, 4s, 8s ... capped at five minutes.
func nextRetryTime(now time.Time, retryCount int) time.Time {
	backoff := 5 * time.Minute
	if retryCount < 9 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, backoff)
	}
	return now.Add(backoff)
}
