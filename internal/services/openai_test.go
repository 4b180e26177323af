package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"openai envelope", `{"error":{"message":"Rate limit reached","type":"requests"}}`, "Rate limit reached"},
		{"flat message", `{"message":"model overloaded"}`, "model overloaded"},
		{"empty envelope", `{"error":{}}`, "OpenAI request failed."},
		{"html", `<html>bad gateway</html>`, "OpenAI request failed."},
		{"empty", ``, "OpenAI request failed."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, upstreamErrorMessage([]byte(tt.body)))
		})
	}
}

func TestOpenAIUpstream_PassesStatusThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer server.Close()

	up := NewOpenAIUpstream(&config.OpenAIConfig{BaseURL: server.URL + "/", APIKey: "sk-test"})
	_, err := up.ChatCompletions(context.Background(), []byte(`{}`))
	require.Error(t, err)

	appErr := response.AsAppError(err)
	assert.Equal(t, http.StatusTooManyRequests, appErr.HTTPStatus)
	assert.Equal(t, "Rate limit reached", appErr.Message)
}

func TestOpenAIUpstream_BodySizeLimit(t *testing.T) {
	tests := []struct {
		name string
		size int
		ok   bool
	}{
		{"at limit", maxUpstreamBody, true},
		{"over limit", maxUpstreamBody + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := strings.Repeat("a", tt.size)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			}))
			defer server.Close()

			up := NewOpenAIUpstream(&config.OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test"})
			res, err := up.ChatCompletions(context.Background(), []byte(`{}`))
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUpstreamFailed)
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Len(t, res.Body, tt.size)
		})
	}
}

func TestOpenAIUpstream_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	up := NewOpenAIUpstream(&config.OpenAIConfig{BaseURL: url, APIKey: "sk-test", TimeoutSeconds: 2})
	_, err := up.ChatCompletions(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUpstreamFailed)
}

func TestOpenAIUpstream_Configured(t *testing.T) {
	assert.False(t, NewOpenAIUpstream(&config.OpenAIConfig{}).Configured())
	assert.True(t, NewOpenAIUpstream(&config.OpenAIConfig{APIKey: "sk"}).Configured())

	_, err := NewOpenAIUpstream(&config.OpenAIConfig{}).ChatCompletions(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUpstreamNotConfigured)
}
