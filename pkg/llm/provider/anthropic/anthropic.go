// Package anthropic implements the Anthropic Messages wire format.
package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/sse"
)

const (
	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"

	// defaultMaxTokens is used when the request leaves max_tokens unset;
	// the Messages API requires it.
	defaultMaxTokens = 1024
)

// provider implements the Provider interface for Anthropic's Messages API.
type provider struct{}

func New() *provider { return &provider{} }

func (p *provider) Name() string {
	return "anthropic"
}

func (p *provider) Path() string {
	return messagesPath
}

func (p *provider) SetHeaders(h http.Header, apiKey string) {
	h.Set("anthropic-version", apiVersion)
	if apiKey != "" {
		h.Set("x-api-key", apiKey)
	}
}

func (p *provider) NewRequest(req *llm.ChatRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil chat request")
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, anthropicMessage{Role: msg.Role, Content: msg.GetText()})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return json.Marshal(anthropicRequest{
		Model:       req.Model,
		Messages:    messages,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	})
}

func (p *provider) ParseResponse(payload []byte) (*llm.ChatResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}

	content := make([]llm.ContentBlock, 0, len(resp.Content))
	for _, block := range resp.Content {
		if block.Type == "text" {
			content = append(content, llm.ContentBlock{Type: "text", Text: block.Text})
		}
	}

	var usage *llm.Usage
	if resp.Usage != nil {
		usage = &llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}

	return &llm.ChatResponse{
		Model: resp.Model,
		Message: llm.Message{
			Role:    resp.Role,
			Content: content,
		},
		StopReason: resp.StopReason,
		Usage:      usage,
		CreatedAt:  time.Now(),
	}, nil
}

// DecodeRecord interprets the data record of one Messages stream event.
// Anthropic names every event with an "event:" line and repeats the name in
// the payload's "type", so the data record alone is sufficient.
func (p *provider) DecodeRecord(rec sse.Record) (llm.Event, error) {
	data, ok := rec.Data()
	if !ok {
		return llm.None(), nil
	}

	if !gjson.Valid(data) {
		return llm.None(), fmt.Errorf("%w: invalid JSON payload", llm.ErrDecodeNoise)
	}

	switch typ := gjson.Get(data, "type").String(); typ {
	case "content_block_delta":
		text := gjson.Get(data, "delta.text")
		if text.Type != gjson.String || text.Str == "" {
			// input_json_delta and thinking deltas carry no text.
			return llm.None(), fmt.Errorf("%w: content_block_delta without text", llm.ErrDecodeNoise)
		}
		return llm.Delta(text.Str), nil

	case "message_stop":
		return llm.Done(), nil

	case "error":
		msg := gjson.Get(data, "error.message").String()
		if msg == "" {
			msg = "upstream error"
		}
		return llm.Event{Kind: llm.KindError, Text: msg}, nil

	case "ping", "message_start", "message_delta", "content_block_start", "content_block_stop":
		return llm.None(), nil

	default:
		return llm.None(), fmt.Errorf("%w: unknown event type %q", llm.ErrDecodeNoise, typ)
	}
}
