package email

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// AlertService emails on-call staff about emergency diagnoses.
type AlertService struct {
	config Config
	sender Sender
}

func NewAlertService(config Config) *AlertService {
	return NewAlertServiceWithSender(config, gomail.NewDialer(config.Host, config.Port, config.Username, config.Password))
}

func NewAlertServiceWithSender(config Config, sender Sender) *AlertService {
	return &AlertService{config: config, sender: sender}
}

// SendEmergencyAlert sends one message to every configured recipient.
// gomail has no context support; ctx is only checked before dialing.
func (s *AlertService) SendEmergencyAlert(ctx context.Context, evt *model.DiagnosisEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.config.To) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.From)
	m.SetHeader("To", s.config.To...)
	m.SetHeader("Subject", fmt.Sprintf("[EMERGENCY] Diagnosis %s flagged for %s", evt.DiagnosisID, evt.PatientName))
	m.SetBody("text/plain", alertBody(evt))

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

func alertBody(evt *model.DiagnosisEvent) string {
	var b strings.Builder
	b.WriteString("A generated diagnosis was flagged as an emergency.\n\n")
	fmt.Fprintf(&b, "Diagnosis ID: %s\n", evt.DiagnosisID)
	fmt.Fprintf(&b, "Patient: %s (%d, %s)\n", evt.PatientName, evt.Age, evt.Sex)
	fmt.Fprintf(&b, "Symptoms: %s\n", evt.Symptoms)
	fmt.Fprintf(&b, "Confidence: %d%%\n", evt.Confidence)
	fmt.Fprintf(&b, "Referral needed: %t\n", evt.NeedsReferral)
	fmt.Fprintf(&b, "Created at: %s\n", evt.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
