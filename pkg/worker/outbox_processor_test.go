package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/messaging"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

// memOutbox mimics the status transitions of the Postgres repository.
type memOutbox struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func (r *memOutbox) ProcessPending(ctx context.Context, limit, maxRetries int, handle repository.EventHandler) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	processed := 0
	for _, evt := range r.events {
		if limit == 0 {
			break
		}
		if evt.Status != model.OutboxStatusPending {
			continue
		}
		limit--
		if err := handle(ctx, evt); err != nil {
			evt.RetryCount++
			msg := err.Error()
			evt.ErrorMessage = &msg
			if evt.RetryCount >= maxRetries {
				evt.Status = model.OutboxStatusFailed
			}
			continue
		}
		evt.Status = model.OutboxStatusProcessed
		processed++
	}
	return processed, nil
}

func (r *memOutbox) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	failures int
	msgs     []published
	calls    int
}

func (b *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}

func (b *fakeBroker) Close() error { return nil }

type fakeAlerter struct {
	alerts []*model.DiagnosisEvent
	err    error
}

func (a *fakeAlerter) SendEmergencyAlert(_ context.Context, evt *model.DiagnosisEvent) error {
	a.alerts = append(a.alerts, evt)
	return a.err
}

func newEvent(t *testing.T, emergency bool) *model.OutboxEvent {
	t.Helper()
	evt, err := model.NewDiagnosisEvent(&model.Diagnosis{
		ID:          uuid.New(),
		PatientName: "Asha",
		IsEmergency: emergency,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return evt
}

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		MaxEventRetry: 2,
		ChannelPrefix: "diagnosis",
	}
}

func newProcessor(t *testing.T, repo repository.OutboxRepository, broker messaging.Broker, alerter Alerter) (*OutboxProcessor, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry(), "test")
	p, err := NewOutboxProcessor(repo, broker, alerter, testConfig(), zap.NewNop(), m)
	require.NoError(t, err)
	return p, m
}

func TestProcessOnce_PublishesAndAlerts(t *testing.T) {
	created, emergency := newEvent(t, false), newEvent(t, true)
	repo := &memOutbox{events: []*model.OutboxEvent{created, emergency}}
	broker := &fakeBroker{}
	alerter := &fakeAlerter{}
	p, m := newProcessor(t, repo, broker, alerter)

	n, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, broker.msgs, 2)
	assert.Equal(t, "diagnosis.diagnosis_created", broker.msgs[0].channel)
	assert.Equal(t, "diagnosis.diagnosis_emergency", broker.msgs[1].channel)

	var env messaging.Envelope
	require.NoError(t, json.Unmarshal(broker.msgs[1].payload, &env))
	assert.Equal(t, emergency.ID, env.ID)
	assert.Equal(t, model.EventDiagnosisEmergency, env.Type)
	assert.JSONEq(t, string(emergency.Payload), string(env.Payload))

	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "Asha", alerter.alerts[0].PatientName)

	assert.Equal(t, model.OutboxStatusProcessed, created.Status)
	assert.Equal(t, model.OutboxStatusProcessed, emergency.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxAlertsSent))
}

func TestProcessOnce_RetriesWithinPoll(t *testing.T) {
	repo := &memOutbox{events: []*model.OutboxEvent{newEvent(t, false)}}
	broker := &fakeBroker{failures: 1}
	p, _ := newProcessor(t, repo, broker, nil)

	n, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, broker.calls)
}

func TestProcessOnce_MarksFailedAfterMaxRetries(t *testing.T) {
	evt := newEvent(t, true)
	repo := &memOutbox{events: []*model.OutboxEvent{evt}}
	broker := &fakeBroker{failures: 100}
	alerter := &fakeAlerter{}
	p, m := newProcessor(t, repo, broker, alerter)
	ctx := context.Background()

	_, err := p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, evt.Status)
	assert.Equal(t, 1, evt.RetryCount)

	_, err = p.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, evt.Status)
	require.NotNil(t, evt.ErrorMessage)
	assert.Contains(t, *evt.ErrorMessage, "broker unavailable")

	assert.Empty(t, alerter.alerts)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsFailed))
}

func TestProcessOnce_AlertFailureDoesNotFailEvent(t *testing.T) {
	evt := newEvent(t, true)
	repo := &memOutbox{events: []*model.OutboxEvent{evt}}
	p, m := newProcessor(t, repo, &fakeBroker{}, &fakeAlerter{err: errors.New("smtp down")})

	_, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusProcessed, evt.Status)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutboxAlertsSent))
}

func TestNewOutboxProcessor_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	_, err := NewOutboxProcessor(&memOutbox{}, &fakeBroker{}, nil, cfg, zap.NewNop(), metrics.New(prometheus.NewRegistry(), "test"))
	assert.Error(t, err)
}

func TestStart_StopsOnCancel(t *testing.T) {
	repo := &memOutbox{events: []*model.OutboxEvent{newEvent(t, false)}}
	broker := &fakeBroker{}
	p, _ := newProcessor(t, repo, broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.msgs) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}
