package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the part of the redis client the relay publishes with.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay drains the outbox into Redis streams. Each event is published at
// least once; consumers dedupe on original_id.
type Relay struct {
	streams StreamClient
	outbox  OutboxRepo
	logger  *slog.Logger
	every   time.Duration
	batch   int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(outbox OutboxRepo, streams StreamClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		streams: streams,
		outbox:  outbox,
		logger:  logger.With("component", "relay"),
		every:   cfg.PollInterval,
		batch:   cfg.BatchSize,
	}
}

// Run drains immediately and then once per poll interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay running", "every", r.every, "batch", r.batch)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if n, err := r.Drain(ctx); err != nil {
			r.logger.Warn("outbox drain incomplete", "published", n, "error", err)
		} else if n > 0 {
			r.logger.Debug("outbox drained", "published", n)
		}
		timer.Reset(r.every)
	}
}

// Drain publishes one batch of due events. It returns how many were
// published and the joined errors of those that were not.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	due, err := r.outbox.GetPending(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	published := 0
	var errs []error
	for _, event := range due {
		if err := r.deliver(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		published++
	}
	return published, errors.Join(errs...)
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	fields, err := streamFields(event)
	if err == nil {
		err = r.streams.XAdd(ctx, &redis.XAddArgs{Stream: event.TargetStream, Values: fields}).Err()
		if err != nil {
			err = fmt.Errorf("failed to publish to redis: %w", err)
		}
	}
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			return errors.Join(err, markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return err
	}
	r.logger.Info("search event published", "run_id", event.AggregateID, "stream", event.TargetStream)
	return nil
}

type streamEnvelope struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	AggregateType string              `json:"aggregate_type"`
	AggregateID   string              `json:"aggregate_id"`
	Timestamp     string              `json:"timestamp"`
	Payload       jsoniter.RawMessage `json:"payload"`
	Source        string              `json:"source"`
	Attempt       int                 `json:"attempt"`
}

// streamFields builds the XADD field map: the full envelope under "data" plus
// flat copies of the fields consumers filter on.
func streamFields(event *OutboxEvent) (map[string]interface{}, error) {
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("invalid payload for event %s", event.ID)
	}

	data, err := json.Marshal(streamEnvelope{
		ID:            event.ID.String(),
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Timestamp:     event.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       event.Payload,
		Source:        "yellowpages-scraper",
		Attempt:       event.RetryCount + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	return map[string]interface{}{
		"data":         string(data),
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"original_id":  event.ID.String(),
		"timestamp":    strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
	}, nil
}
