// Package llm is a client for OpenAI compatible chat completion APIs with
// tool calling.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const (
	DefaultTimeout = 20 * time.Second
	MinTimeout     = time.Second
	MaxTimeout     = 30 * time.Second

	LegacyFunctionCallID = "legacy_function_call"
)

var (
	ErrBaseURLMissing     = errors.New("llm-base-url-missing")
	ErrAPIKeyMissing      = errors.New("llm-api-key-missing")
	ErrModelNotConfigured = errors.New("llm-model-not-configured")
)

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// Message is one chat turn. Content is a pointer so an assistant turn that
// only carries tool calls encodes as null.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Role: "system", Content: &content}
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: &content}
}

func ToolMessage(callID, content string) Message {
	return Message{Role: "tool", ToolCallID: callID, Content: &content}
}

// Text returns the message content or "".
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type Request struct {
	Messages []Message
	Tools    []Tool
	// Model overrides the client's default model when set.
	Model   string
	Timeout time.Duration
}

type Completion struct {
	Message      Message
	ToolCalls    []ToolCall
	FinishReason string
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

type Client struct {
	http    *req.Client
	baseURL string
	apiKey  string
	model   string
}

func NewClient(cfg Config) *Client {
	return &Client{
		http:    req.C(),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
	}
}

// ClampTimeout bounds a per call timeout to [MinTimeout, MaxTimeout]. Zero
// means DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	if d == 0 {
		d = DefaultTimeout
	}
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

type chatRequest struct {
	Model      string    `json:"model"`
	Messages   []Message `json:"messages"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
	Stream     bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function *struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
			FunctionCall *struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function_call"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete runs one chat completion.
func (c *Client) Complete(ctx context.Context, r Request) (*Completion, error) {
	if c.baseURL == "" {
		return nil, ErrBaseURLMissing
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyMissing
	}
	model := strings.TrimSpace(r.Model)
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, ErrModelNotConfigured
	}

	timeout := ClampTimeout(r.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := chatRequest{Model: model, Messages: r.Messages, Stream: false}
	if len(r.Tools) > 0 {
		body.Tools = r.Tools
		body.ToolChoice = "auto"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(c.apiKey).
		SetBodyJsonMarshal(body).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("llm-timeout: %dms exceeded", timeout.Milliseconds())
		}
		return nil, fmt.Errorf("llm-request-failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := resp.String()
		if len(text) > 200 {
			text = text[:200]
		}
		return nil, fmt.Errorf("llm-api-error: %d %s", resp.StatusCode, text)
	}

	var payload chatResponse
	if err := json.Unmarshal(resp.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("llm-invalid-response: %w", err)
	}
	return parseCompletion(payload), nil
}

func parseCompletion(payload chatResponse) *Completion {
	out := &Completion{Message: Message{Role: "assistant"}}
	if len(payload.Choices) == 0 {
		return out
	}
	choice := payload.Choices[0]
	out.FinishReason = choice.FinishReason
	msg := choice.Message
	if msg == nil {
		return out
	}
	out.Message.Content = msg.Content

	for _, tc := range msg.ToolCalls {
		id := strings.TrimSpace(tc.ID)
		if tc.Function == nil || id == "" {
			continue
		}
		name := strings.TrimSpace(tc.Function.Name)
		if name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:       id,
			Type:     tc.Type,
			Function: FunctionCall{Name: name, Arguments: tc.Function.Arguments},
		})
	}
	if len(out.ToolCalls) == 0 && len(msg.ToolCalls) == 0 && msg.FunctionCall != nil && msg.FunctionCall.Name != "" {
		out.ToolCalls = []ToolCall{{
			ID:       LegacyFunctionCallID,
			Type:     "function",
			Function: FunctionCall{Name: msg.FunctionCall.Name, Arguments: msg.FunctionCall.Arguments},
		}}
	}
	out.Message.ToolCalls = out.ToolCalls
	return out
}
