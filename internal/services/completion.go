package services

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

// CreditsPerTurn is the charge for one billable completion.
const CreditsPerTurn = 1

// CompletionRequest is the accepted request shape. Fields outside it are
// not forwarded upstream.
type CompletionRequest struct {
	Model      string            `json:"model,omitempty"`
	Messages   []json.RawMessage `json:"messages"`
	Tools      []json.RawMessage `json:"tools,omitempty"`
	ToolChoice json.RawMessage   `json:"tool_choice,omitempty"`
}

type RequestMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseCompletionRequest checks the payload shape: a non-empty list of
// message objects that each carry a role.
func ParseCompletionRequest(body []byte) (*CompletionRequest, []RequestMessage, error) {
	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, ErrInvalidPayload
	}
	if len(req.Messages) == 0 {
		return nil, nil, ErrInvalidPayload
	}

	messages := make([]RequestMessage, 0, len(req.Messages))
	for _, raw := range req.Messages {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, nil, ErrInvalidPayload
		}
		var m RequestMessage
		if err := json.Unmarshal(trimmed, &m); err != nil || strings.TrimSpace(m.Role) == "" {
			return nil, nil, ErrInvalidPayload
		}
		messages = append(messages, m)
	}

	if bytes.Equal(bytes.TrimSpace(req.ToolChoice), []byte("null")) {
		req.ToolChoice = nil
	}

	return &req, messages, nil
}

// IsBillable reports whether the conversation ends with a new user turn.
// Tool results echoed back to the model continue an exchange that was
// already charged.
func IsBillable(messages []RequestMessage) bool {
	if len(messages) == 0 {
		return false
	}
	return messages[len(messages)-1].Role == openai.ChatMessageRoleUser
}

// CompletionService runs one metered completion for an authorized key.
type CompletionService struct {
	credits      *CreditService
	upstream     Upstream
	queue        TaskQueue
	defaultModel string
}

func NewCompletionService(credits *CreditService, upstream Upstream, queue TaskQueue, defaultModel string) *CompletionService {
	return &CompletionService{
		credits:      credits,
		upstream:     upstream,
		queue:        queue,
		defaultModel: defaultModel,
	}
}

// ResolveModel picks the model sent upstream. The key's assignment always
// wins over whatever the client asked for.
func (s *CompletionService) ResolveModel(key *models.APIKey, requested string) string {
	if key.Model != "" {
		return key.Model
	}
	if s.defaultModel != "" {
		return s.defaultModel
	}
	return requested
}

// Complete validates body, debits the key when the turn is billable, calls
// the upstream once and returns its body unchanged. A debit is final: it
// is not returned when the upstream call fails.
func (s *CompletionService) Complete(ctx context.Context, auth *AuthorizedKey, body []byte) ([]byte, error) {
	req, messages, err := ParseCompletionRequest(body)
	if err != nil {
		return nil, err
	}
	if !s.upstream.Configured() {
		return nil, ErrUpstreamNotConfigured
	}

	key := auth.Key
	model := s.ResolveModel(key, req.Model)

	if IsBillable(messages) {
		meta := map[string]interface{}{"domain": auth.Domain, "model": model}
		if err := s.credits.Consume(ctx, key.ID, CreditsPerTurn, models.ReasonChatCompletion, meta); err != nil {
			return nil, err
		}
		logger.Debug().Str("api_key_id", key.ID).Str("domain", auth.Domain).Msg("[Completion] turn billed")
	}

	outbound := *req
	outbound.Model = model
	payload, err := json.Marshal(&outbound)
	if err != nil {
		return nil, err
	}

	resp, err := s.upstream.ChatCompletions(ctx, payload)
	if err != nil {
		return nil, err
	}

	s.recordChatLog(auth, model, messages, resp.Body)
	return resp.Body, nil
}

func (s *CompletionService) recordChatLog(auth *AuthorizedKey, model string, messages []RequestMessage, body []byte) {
	if s.queue == nil {
		return
	}
	reply, ok := assistantText(body)
	if !ok {
		return
	}

	task := &ChatLogTask{
		APIKeyID: auth.Key.ID,
		Domain:   auth.Domain,
		Model:    model,
		Prompt:   lastUserPrompt(messages),
		Response: reply,
	}
	if err := s.queue.Enqueue(task); err != nil {
		logger.Warn().Err(err).Str("api_key_id", auth.Key.ID).Msg("[Completion] chat log enqueue failed")
	}
}

// assistantText returns the first choice's text when the model answered in
// prose rather than with tool calls.
func assistantText(body []byte) (string, bool) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" || len(msg.ToolCalls) > 0 {
		return "", false
	}
	return msg.Content, true
}

func lastUserPrompt(messages []RequestMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return contentText(messages[i].Content)
		}
	}
	return ""
}

// contentText flattens string content or an array of text parts.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
