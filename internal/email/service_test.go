package email

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func testEvent() *model.DiagnosisEvent {
	return &model.DiagnosisEvent{
		DiagnosisID: uuid.MustParse("8f14e45f-ceea-4e7a-9b1b-1f0c6a3b2d11"),
		PatientName: "Asha Rao",
		Age:         34,
		Sex:         "female",
		Symptoms:    "sudden weakness on one side",
		Confidence:  90,
		IsEmergency: true,
		CreatedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSendEmergencyAlert(t *testing.T) {
	sender := &fakeSender{}
	svc := NewAlertServiceWithSender(Config{From: "alerts@example.com", To: []string{"a@example.com", "b@example.com"}}, sender)

	require.NoError(t, svc.SendEmergencyAlert(context.Background(), testEvent()))
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	assert.Equal(t, []string{"alerts@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, m.GetHeader("To"))
	assert.Contains(t, m.GetHeader("Subject")[0], "8f14e45f-ceea-4e7a-9b1b-1f0c6a3b2d11")

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Confidence: 90%")
}

func TestSendEmergencyAlert_Errors(t *testing.T) {
	svc := NewAlertServiceWithSender(Config{From: "x@example.com"}, &fakeSender{})
	assert.Error(t, svc.SendEmergencyAlert(context.Background(), testEvent()))

	failing := NewAlertServiceWithSender(Config{From: "x@example.com", To: []string{"a@example.com"}}, &fakeSender{err: errors.New("smtp down")})
	assert.Error(t, failing.SendEmergencyAlert(context.Background(), testEvent()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, failing.SendEmergencyAlert(ctx, testEvent()), context.Canceled)
}
