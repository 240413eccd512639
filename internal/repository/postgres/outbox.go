package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func insertOutboxEvent(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.RetryCount,
		event.CreatedAt,
		event.UpdatedAt,
	)
	return err
}

func (r *outboxRepository) ProcessPending(ctx context.Context, limit, maxRetries int, handle repository.EventHandler) (processed int, err error) {
	defer r.observe("outbox_process", time.Now(), &err)

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		events, err := r.getPendingEventsWithLock(ctx, tx, limit)
		if err != nil {
			return fmt.Errorf("failed to get pending events: %w", err)
		}

		for _, evt := range events {
			if herr := handle(ctx, evt); herr != nil {
				if err := r.markFailedTx(ctx, tx, evt, herr, maxRetries); err != nil {
					return fmt.Errorf("failed to update event %s: %w", evt.ID, err)
				}
				continue
			}
			if err := r.updateStatusTx(ctx, tx, evt, model.OutboxStatusProcessed, nil); err != nil {
				return fmt.Errorf("failed to update event %s: %w", evt.ID, err)
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (r *outboxRepository) getPendingEventsWithLock(ctx context.Context, tx *sqlx.Tx, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT id, event_type, payload, status, error_message, retry_count,
			created_at, updated_at, processed_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	var events []*model.OutboxEvent
	err := tx.SelectContext(ctx, &events, query, model.OutboxStatusPending, limit)
	return events, err
}

func (r *outboxRepository) markFailedTx(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent, cause error, maxRetries int) error {
	evt.RetryCount++
	msg := cause.Error()
	status := model.OutboxStatusPending
	if evt.RetryCount >= maxRetries {
		status = model.OutboxStatusFailed
	}
	return r.updateStatusTx(ctx, tx, evt, status, &msg)
}

func (r *outboxRepository) updateStatusTx(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent, status model.OutboxStatus, errorMessage *string) error {
	query := `
		UPDATE outbox_events
		SET status = $1,
			error_message = $2,
			retry_count = $3,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $4
	`
	evt.Status = status
	evt.ErrorMessage = errorMessage
	_, err := tx.ExecContext(ctx, query, status, errorMessage, evt.RetryCount, evt.ID)
	return err
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (n int64, err error) {
	defer r.observe("outbox_cleanup", time.Now(), &err)

	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
