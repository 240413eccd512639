package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/jwalitptl/diagnosis-api/pkg/circuitbreaker"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

const (
	DefaultModel      = "gemini-2.0-flash-exp"
	DefaultAPIVersion = "v1beta"
)

var (
	ErrMissingAPIKey = errors.New("gemini: api key is not configured")
	ErrEmptyResponse = errors.New("gemini: response contained no candidates")
	ErrPromptBlocked = errors.New("gemini: prompt was blocked")
	ErrCircuitOpen   = circuitbreaker.ErrOpen

	safetyCategories = []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Config struct {
	APIKey string
	// BaseURL overrides the API host. Empty uses the SDK default.
	BaseURL         string
	APIVersion      string
	Model           string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
	SafetyThreshold string
}

// DefaultConfig mirrors the generation settings the diagnosis prompt was tuned for.
func DefaultConfig() Config {
	return Config{
		APIVersion:      DefaultAPIVersion,
		Model:           DefaultModel,
		Timeout:         60 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		Temperature:     0.3,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 2048,
		SafetyThreshold: string(genai.HarmBlockThresholdBlockMediumAndAbove),
	}
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// Client wraps the genai SDK with retries, a circuit breaker and metrics.
type Client struct {
	cfg        Config
	models     *genai.Models
	initErr    error
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	genConfig  *genai.GenerateContentConfig
}

func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.SafetyThreshold == "" {
		cfg.SafetyThreshold = def.SafetyThreshold
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:         "gemini",
			MaxFailures:  5,
			Timeout:      30 * time.Second,
			IsSuccessful: breakerSuccess,
		})
	}
	c.genConfig = buildGenerateConfig(cfg)

	if cfg.APIKey == "" {
		c.initErr = ErrMissingAPIKey
		return c
	}
	sdk, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	})
	if err != nil {
		c.initErr = fmt.Errorf("gemini: failed to create client: %w", err)
		return c
	}
	c.models = sdk.Models
	return c
}

// breakerSuccess reports whether err says nothing about upstream health.
// Client errors, blocked prompts and empty replies depend on the request
// content, so they do not count towards opening the breaker.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, ErrPromptBlocked) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.retryable()
	}
	return false
}

func buildGenerateConfig(cfg Config) *genai.GenerateContentConfig {
	safety := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, cat := range safetyCategories {
		safety = append(safety, &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThreshold(cfg.SafetyThreshold),
		})
	}

	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(cfg.Temperature)),
		TopK:            genai.Ptr(float32(cfg.TopK)),
		TopP:            genai.Ptr(float32(cfg.TopP)),
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
		SafetySettings:  safety,
	}
}

// GenerateContent sends prompt as a single user turn and returns the text of
// the first candidate.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if c.initErr != nil {
		return "", c.initErr
	}

	start := time.Now()
	var (
		text string
		err  error
	)
	for attempt := 0; ; attempt++ {
		err = c.breaker.Execute(func() error {
			var callErr error
			text, callErr = c.do(ctx, prompt)
			return callErr
		})
		if err == nil || attempt >= c.cfg.MaxRetries || !shouldRetry(err) {
			break
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt+1)):
			continue
		}
		break
	}
	c.observe(time.Since(start), err)

	return text, err
}

func (c *Client) do(ctx context.Context, prompt string) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), c.genConfig)
	if err != nil {
		return "", convertError(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrPromptBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

// convertError maps SDK API errors onto *APIError; transport errors are
// wrapped unchanged.
func convertError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromSDK(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fromSDK(*apiErrPtr)
	}
	return fmt.Errorf("gemini request failed: %w", err)
}

func fromSDK(e genai.APIError) *APIError {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.Code)
	}
	return &APIError{StatusCode: e.Code, Status: status, Message: e.Message}
}

func (c *Client) observe(d time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrCircuitOpen) {
			status = "circuit_open"
		}
	}
	c.metrics.LLMRequests.WithLabelValues(status).Inc()
	c.metrics.LLMLatency.Observe(d.Seconds())
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrPromptBlocked) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	return true
}
