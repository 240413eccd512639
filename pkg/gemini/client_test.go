package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url
	cfg.Model = "test-model"
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

type requestBody struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		TopK            float64 `json:"topK"`
		TopP            float64 `json:"topP"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
	SafetySettings []struct {
		Category  string `json:"category"`
		Threshold string `json:"threshold"`
	} `json:"safetySettings"`
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{
					"parts": []interface{}{map[string]interface{}{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	})
}

func TestGenerateContent_RequestShape(t *testing.T) {
	var got requestBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeText(w, "hello")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	text, err := c.GenerateContent(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.Len(t, got.Contents, 1)
	assert.Equal(t, "prompt text", got.Contents[0].Parts[0].Text)
	assert.InDelta(t, 0.3, got.GenerationConfig.Temperature, 1e-6)
	assert.Equal(t, float64(40), got.GenerationConfig.TopK)
	assert.InDelta(t, 0.95, got.GenerationConfig.TopP, 1e-6)
	assert.Equal(t, 2048, got.GenerationConfig.MaxOutputTokens)
	require.Len(t, got.SafetySettings, 4)
	for _, s := range got.SafetySettings {
		assert.Equal(t, "BLOCK_MEDIUM_AND_ABOVE", s.Threshold)
	}
}

func TestGenerateContent_JoinsParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`))
	}))
	defer srv.Close()

	text, err := NewClient(testConfig(srv.URL)).GenerateContent(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestGenerateContent_MissingKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.APIKey = ""
	_, err := NewClient(cfg).GenerateContent(context.Background(), "p")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestGenerateContent_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
			return
		}
		writeText(w, "ok")
	}))
	defer srv.Close()

	text, err := NewClient(testConfig(srv.URL)).GenerateContent(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateContent_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).GenerateContent(context.Background(), "p")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
	assert.Equal(t, "API key not valid", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateContent_EmptyAndBlocked(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no candidates", `{"candidates":[]}`, ErrEmptyResponse},
		{"blocked", `{"promptFeedback":{"blockReason":"SAFETY"}}`, ErrPromptBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(testConfig(srv.URL)).GenerateContent(context.Background(), "p")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerateContent_BreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	reg := prometheus.NewRegistry()
	c := NewClient(cfg, WithMetrics(metrics.New(reg, "test")))

	for i := 0; i < 5; i++ {
		_, err := c.GenerateContent(context.Background(), "p")
		require.Error(t, err)
	}
	_, err := c.GenerateContent(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestGenerateContent_BlockedPromptsKeepBreakerClosed(t *testing.T) {
	var blocked atomic.Bool
	blocked.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if blocked.Load() {
			_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
			return
		}
		writeText(w, "ok")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	for i := 0; i < 10; i++ {
		_, err := c.GenerateContent(context.Background(), "p")
		require.ErrorIs(t, err, ErrPromptBlocked)
	}
	assert.Equal(t, "closed", c.breaker.State())

	blocked.Store(false)
	text, err := c.GenerateContent(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestBreakerSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"canceled", context.Canceled, true},
		{"blocked", fmt.Errorf("%w: SAFETY", ErrPromptBlocked), true},
		{"empty", ErrEmptyResponse, true},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}, true},
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, false},
		{"server error", &APIError{StatusCode: http.StatusBadGateway}, false},
		{"transport", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, breakerSuccess(tt.err))
		})
	}
}
