package llm

// ChatRequest represents a provider-agnostic chat completion request.
// Providers translate it into their own wire format.
type ChatRequest struct {
	// Model name (e.g., "deepseek-chat", "gpt-4o-mini", "claude-sonnet-4-5")
	Model string `json:"model"`

	// Conversation messages, excluding the system prompt
	Messages []Message `json:"messages"`

	// Whether to stream the response
	Stream bool `json:"stream"`

	// System prompt (some providers handle this separately from messages)
	System string `json:"system,omitempty"`

	// Generation parameters
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// NewPromptRequest builds a single-turn request for prompt.
func NewPromptRequest(model, system, prompt string, maxTokens int, temperature float64, stream bool) *ChatRequest {
	return &ChatRequest{
		Model:       model,
		System:      system,
		Messages:    []Message{NewTextMessage("user", prompt)},
		Stream:      stream,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// ErrorResponse is the JSON error body returned to HTTP clients.
type ErrorResponse struct {
	Error string `json:"error"`
}
