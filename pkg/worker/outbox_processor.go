package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/messaging"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

// Alerter is notified about emergency diagnoses.
type Alerter interface {
	SendEmergencyAlert(ctx context.Context, evt *model.DiagnosisEvent) error
}

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxEventRetry is the number of failed polls after which an event is
	// marked failed.
	MaxEventRetry int
	ChannelPrefix string
	// RetainFor is how long processed events are kept. Zero disables cleanup.
	RetainFor       time.Duration
	CleanupInterval time.Duration
}

func (c OutboxProcessorConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("BatchSize must be greater than 0")
	case c.PollInterval <= 0:
		return errors.New("PollInterval must be greater than 0")
	case c.RetryAttempts <= 0:
		return errors.New("RetryAttempts must be greater than 0")
	case c.RetryDelay < 0:
		return errors.New("RetryDelay must not be negative")
	case c.MaxEventRetry <= 0:
		return errors.New("MaxEventRetry must be greater than 0")
	}
	return nil
}

type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	alerter Alerter
	config  OutboxProcessorConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewOutboxProcessor returns a processor publishing pending events to broker.
// alerter may be nil.
func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	alerter Alerter,
	config OutboxProcessorConfig,
	logger *zap.Logger,
	metrics *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		alerter: alerter,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Start polls until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	p.logger.Info("Starting outbox processor",
		zap.Int("batch_size", p.config.BatchSize),
		zap.Duration("poll_interval", p.config.PollInterval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("Failed to process events", zap.Error(err))
			}
		case <-cleanup.C:
			p.cleanup(ctx)
		}
	}
}

// ProcessOnce handles one batch and returns the number of events published.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	return p.repo.ProcessPending(ctx, p.config.BatchSize, p.config.MaxEventRetry, p.processEvent)
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	log := p.logger.With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
	)

	msg, err := json.Marshal(messaging.Envelope{
		ID:        event.ID,
		Type:      event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	channel := messaging.Channel(p.config.ChannelPrefix, event.EventType)
	err = retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.broker.Publish(ctx, channel, msg)
	})
	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		log.Warn("Failed to publish event", zap.Int("retry_count", event.RetryCount+1), zap.Error(err))
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	log.Debug("Published event", zap.String("channel", channel))

	if event.EventType == model.EventDiagnosisEmergency {
		p.alert(ctx, event, log)
	}
	return nil
}

// alert failures are logged and not retried, so a published event is never
// published twice because of a mail problem.
func (p *OutboxProcessor) alert(ctx context.Context, event *model.OutboxEvent, log *zap.Logger) {
	if p.alerter == nil {
		return
	}

	var payload model.DiagnosisEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		log.Error("Failed to decode emergency payload", zap.Error(err))
		return
	}
	if err := p.alerter.SendEmergencyAlert(ctx, &payload); err != nil {
		log.Error("Failed to send emergency alert", zap.Error(err))
		return
	}
	p.metrics.OutboxAlertsSent.Inc()
	log.Info("Emergency alert sent", zap.String("diagnosis_id", payload.DiagnosisID.String()))
}

func (p *OutboxProcessor) cleanup(ctx context.Context) {
	if p.config.RetainFor <= 0 {
		return
	}
	n, err := p.repo.DeleteProcessedBefore(ctx, time.Now().Add(-p.config.RetainFor))
	if err != nil {
		p.logger.Error("Failed to delete processed events", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Deleted processed events", zap.Int64("count", n))
	}
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay * time.Duration(i+1)):
		}
	}
	return err
}
