package llm

import "time"

// Request shape for POST /api/chat.
type providerChatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Options     providerOptions `json:"options"`
}

type providerOptions struct {
	Temperature float64 `json:"temperature"`
}

type providerChatResponse struct {
	Model         string      `json:"model"`
	CreatedAt     time.Time   `json:"created_at"`
	Message       ChatMessage `json:"message"`
	Done          bool        `json:"done"`
	TotalDuration int64       `json:"total_duration,omitempty"` // nanoseconds
	EvalCount     int         `json:"eval_count,omitempty"`
}

// Response of GET /api/tags.
type providerTagsResponse struct {
	Models []providerModel `json:"models"`
}

type providerModel struct {
	Name       string    `json:"name"`
	Model      string    `json:"model,omitempty"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

type providerErrorResponse struct {
	Error string `json:"error"`
}
