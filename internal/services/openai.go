package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/pkg/logger"
	"github.com/monkbot/gateway/pkg/response"
	"github.com/sashabaranov/go-openai"
)

// maxUpstreamBody bounds how much of an upstream reply is buffered.
const maxUpstreamBody = 8 << 20

// UpstreamResponse is a successful upstream reply, body untouched.
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
}

// Upstream is the completion provider the gateway forwards to.
type Upstream interface {
	Configured() bool
	ChatCompletions(ctx context.Context, body []byte) (*UpstreamResponse, error)
}

// OpenAIUpstream posts chat-completion requests to an OpenAI compatible
// endpoint. The reply body is returned as received so the plugin sees
// the provider's own wire format.
type OpenAIUpstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpenAIUpstream(cfg *config.OpenAIConfig) *OpenAIUpstream {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openai.DefaultConfig("").BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIUpstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (u *OpenAIUpstream) Configured() bool {
	return u.apiKey != ""
}

// upstreamError covers both the OpenAI error envelope and the flat
// {"message": ...} shape some compatible servers return.
type upstreamError struct {
	openai.ErrorResponse
	Message string `json:"message"`
}

// ChatCompletions sends body once. Non-2xx replies become an AppError
// carrying the upstream status and message; transport failures become
// ErrUpstreamFailed.
func (u *OpenAIUpstream) ChatCompletions(ctx context.Context, body []byte) (*UpstreamResponse, error) {
	if !u.Configured() {
		return nil, ErrUpstreamNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.apiKey)

	resp, err := u.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("[Upstream] request failed")
		return nil, ErrUpstreamFailed
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody+1))
	if err != nil {
		logger.Warn().Err(err).Msg("[Upstream] reading response failed")
		return nil, ErrUpstreamFailed
	}
	if len(data) > maxUpstreamBody {
		logger.Warn().Int("status", resp.StatusCode).Msg("[Upstream] response exceeds size limit")
		return nil, ErrUpstreamFailed
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := upstreamErrorMessage(data)
		logger.Warn().Int("status", resp.StatusCode).Str("upstream_message", msg).Msg("[Upstream] non-success status")
		return nil, response.NewError(resp.StatusCode, msg)
	}

	return &UpstreamResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

func upstreamErrorMessage(data []byte) string {
	var e upstreamError
	if err := json.Unmarshal(data, &e); err == nil {
		if e.Error != nil && e.Error.Message != "" {
			return e.Error.Message
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return ErrUpstreamFailed.Message
}
