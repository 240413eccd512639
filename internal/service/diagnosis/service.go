package diagnosis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

const (
	MaxHistory      = 50
	defaultCacheTTL = 30 * time.Second

	generateFailedMessage = "Failed to generate diagnosis. Please try again."
)

// LLM generates free text for a prompt.
type LLM interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

type DiagnosisService interface {
	Generate(ctx context.Context, in *model.PatientInput) (*model.DiagnosisResult, error)
	History(ctx context.Context, limit int) ([]*model.Diagnosis, error)
}

type Option func(*Service)

// WithRepository enables persistence and history. Without it diagnoses are
// not stored and History reports the database as unavailable.
func WithRepository(repo repository.DiagnosisRepository) Option {
	return func(s *Service) { s.repo = repo }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithHistoryTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.history = cache.New(ttl, 2*ttl)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	llm     LLM
	repo    repository.DiagnosisRepository
	history *cache.Cache
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(llm LLM, opts ...Option) *Service {
	s := &Service{
		llm:     llm,
		history: cache.New(defaultCacheTTL, 2*defaultCacheTTL),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns the canned emergency reply when the symptoms contain a
// critical phrase. Otherwise it asks the model and stores the parsed result
// on a best-effort basis.
func (s *Service) Generate(ctx context.Context, in *model.PatientInput) (*model.DiagnosisResult, error) {
	now := s.now()

	if HasCriticalSymptoms(in.Symptoms) {
		s.countOutcome(metrics.OutcomeEmergencyGate)
		log.Warn().Str("lang", in.Lang).Msg("critical symptoms detected, skipping model call")
		return EmergencyResponse(in.Symptoms, in.Lang, now), nil
	}

	prompt, err := BuildPrompt(in, now)
	if err != nil {
		s.countOutcome(metrics.OutcomeFailed)
		return nil, apperrors.Internal(fmt.Errorf("failed to build prompt: %w", err))
	}

	reply, err := s.llm.GenerateContent(ctx, prompt)
	if err != nil {
		s.countOutcome(metrics.OutcomeFailed)
		log.Error().Err(err).Msg("model call failed")
		return nil, apperrors.Upstream(generateFailedMessage, err)
	}

	result := ParseReply(reply, s.now())
	s.countOutcome(metrics.OutcomeGenerated)
	s.countFlags(result)

	s.store(ctx, in, result)
	return result, nil
}

func (s *Service) store(ctx context.Context, in *model.PatientInput, result *model.DiagnosisResult) {
	if s.repo == nil {
		s.countStore("skipped")
		return
	}

	d := model.NewDiagnosis(in, result)
	evt, err := model.NewDiagnosisEvent(d)
	if err == nil {
		err = s.repo.CreateWithEvent(ctx, d, evt)
	}
	if err != nil {
		s.countStore("error")
		log.Warn().Err(err).Msg("failed to store diagnosis")
		return
	}

	s.countStore("success")
	s.history.Flush()
}

// History returns the most recent stored diagnoses, newest first. A limit
// outside 1..MaxHistory is treated as MaxHistory.
func (s *Service) History(ctx context.Context, limit int) ([]*model.Diagnosis, error) {
	if s.repo == nil {
		return nil, apperrors.Unavailable("Database not configured", repository.ErrNotConfigured)
	}
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}

	key := strconv.Itoa(limit)
	if cached, ok := s.history.Get(key); ok {
		return cloneRows(cached.([]*model.Diagnosis)), nil
	}

	rows, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnoses: %w", err)
	}
	s.history.SetDefault(key, rows)
	return cloneRows(rows), nil
}

// cloneRows copies rows so callers never share the cached values.
func cloneRows(rows []*model.Diagnosis) []*model.Diagnosis {
	out := make([]*model.Diagnosis, len(rows))
	for i, d := range rows {
		c := *d
		if d.Allergies != nil {
			a := *d.Allergies
			c.Allergies = &a
		}
		out[i] = &c
	}
	return out
}

func (s *Service) countOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.DiagnosesTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countFlags(r *model.DiagnosisResult) {
	if s.metrics == nil {
		return
	}
	if r.IsEmergency {
		s.metrics.DiagnosisFlags.WithLabelValues("emergency").Inc()
	}
	if r.NeedsReferral {
		s.metrics.DiagnosisFlags.WithLabelValues("referral").Inc()
	}
}

func (s *Service) countStore(status string) {
	if s.metrics != nil {
		s.metrics.DiagnosisStoreOp.WithLabelValues(status).Inc()
	}
}
