// Package openai implements the OpenAI-compatible Chat Completions wire format,
// also spoken by DeepSeek and most self-hosted inference servers.
package openai

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
	// deltaPath is the gjson path of the incremental text in a stream chunk.
	deltaPath = "choices.0.delta.content"

	chatCompletionsPath = "/chat/completions"
)

// provider implements the Provider interface for OpenAI's Chat Completions API.
type provider struct{}

func New() *provider { return &provider{} }

func (o *provider) Name() string {
	return "openai"
}

func (o *provider) Path() string {
	return chatCompletionsPath
}

func (o *provider) SetHeaders(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

func (o *provider) NewRequest(req *llm.ChatRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil chat request")
	}

	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openaiMessage{Role: msg.Role, Content: msg.GetText()})
	}

	return json.Marshal(openaiRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	})
}

func (o *provider) ParseResponse(payload []byte) (*llm.ChatResponse, error) {
	var resp openaiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response %q has no choices", resp.ID)
	}

	choice := resp.Choices[0]
	msg := choice.Message

	var content []llm.ContentBlock
	switch c := msg.Content.(type) {
	case string:
		content = []llm.ContentBlock{{Type: "text", Text: c}}
	case []any:
		for _, item := range c {
			if part, ok := item.(map[string]any); ok {
				if text, ok := part["text"].(string); ok {
					content = append(content, llm.ContentBlock{Type: "text", Text: text})
				}
			}
		}
	}

	var usage *llm.Usage
	if resp.Usage != nil {
		usage = &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return &llm.ChatResponse{
		Model: resp.Model,
		Message: llm.Message{
			Role:    msg.Role,
			Content: content,
		},
		StopReason: choice.FinishReason,
		Usage:      usage,
		CreatedAt:  time.Unix(resp.Created, 0),
	}, nil
}

// DecodeRecord extracts choices[0].delta.content from a data record.
//
//	data: {"choices":[{"delta":{"content":"Hi"}}]}  -> delta "Hi"
//	data: [DONE]                                    -> done
//	data: {"error":{"message":"overloaded"}}        -> error
//	data: {}                                        -> noise
func (o *provider) DecodeRecord(rec sse.Record) (llm.Event, error) {
	data, ok := rec.Data()
	if !ok {
		return llm.None(), nil
	}

	if data == sse.DoneSentinel {
		return llm.Done(), nil
	}

	if !gjson.Valid(data) {
		return llm.None(), fmt.Errorf("%w: invalid JSON payload", llm.ErrDecodeNoise)
	}

	if msg, ok := upstreamError(data); ok {
		return llm.Event{Kind: llm.KindError, Text: msg}, nil
	}

	content := gjson.Get(data, deltaPath)
	if content.Type != gjson.String || content.Str == "" {
		return llm.None(), fmt.Errorf("%w: no %s", llm.ErrDecodeNoise, deltaPath)
	}

	return llm.Delta(content.Str), nil
}

// upstreamError reports an in-band error object. OpenAI-compatible servers
// send either {"error":{"message":"..."}} or {"error":"..."}.
func upstreamError(data string) (string, bool) {
	e := gjson.Get(data, "error")
	switch {
	case e.IsObject():
		if msg := e.Get("message").String(); msg != "" {
			return msg, true
		}
		return e.Raw, true
	case e.Type == gjson.String && e.Str != "":
		return e.Str, true
	default:
		return "", false
	}
}
