package types

import "time"

// UnassignedModelID marks a chat that has no model selected yet.
const UnassignedModelID int64 = -1

// Model represents a GGUF model file known to the local store.
type Model struct {
	// Stable identifier for the model.
	// example: 3
	ID int64 `json:"id" example:"3"`
	// Human-friendly name.
	// example: SmolLM2-360M-Instruct (Q8_0)
	Name string `json:"name" example:"SmolLM2-360M-Instruct (Q8_0)"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/SmolLM2-360M-Instruct-Q8_0.gguf
	Path string `json:"path" example:"/home/user/models/SmolLM2-360M-Instruct-Q8_0.gguf"`
	// Quantization level or variant string.
	// example: Q8_0
	Quant string `json:"quant,omitempty" example:"Q8_0"`
	// Optional family (e.g., llama, qwen, smollm).
	// example: smollm
	Family string `json:"family,omitempty" example:"smollm"`
	// Context window the model was trained with, 0 if unknown.
	// example: 8192
	ContextSize int `json:"context_size,omitempty" example:"8192"`
}

// Chat is a conversation together with the generation parameters used for it.
type Chat struct {
	ID   int64  `json:"id" example:"1"`
	Name string `json:"name" example:"Untitled"`
	// LLMModelID references Model.ID; UnassignedModelID when no model was picked.
	LLMModelID   int64  `json:"llm_model_id" example:"3"`
	SystemPrompt string `json:"system_prompt" example:"You are a helpful assistant."`
	// example: 0.1
	MinP float32 `json:"min_p" example:"0.1"`
	// example: 0.8
	Temperature float32 `json:"temperature" example:"0.8"`
	// example: 2048
	ContextSize int `json:"context_size" example:"2048"`
	// Number of context tokens used after the last completed generation.
	ContextSizeConsumed int `json:"context_size_consumed" example:"312"`
	// IsTask chats do not keep their message history across generations.
	IsTask      bool      `json:"is_task" example:"false"`
	DateUsed    time.Time `json:"date_used"`
	DateCreated time.Time `json:"date_created"`
}

// HasModel reports whether a model was selected for the chat.
func (c Chat) HasModel() bool { return c.LLMModelID != UnassignedModelID }

// Message is a single persisted turn of a chat.
type Message struct {
	ID            int64     `json:"id"`
	ChatID        int64     `json:"chat_id"`
	Text          string    `json:"text"`
	IsUserMessage bool      `json:"is_user_message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Action names a UI affordance attached to a recoverable error.
type Action string

const (
	ActionNone        Action = ""
	ActionChangeModel Action = "change_model"
	ActionDismiss     Action = "dismiss"
)

// RecoverableError is surfaced to the UI as a dismissible dialog.
type RecoverableError struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Primary   Action `json:"primary"`
	Secondary Action `json:"secondary,omitempty"`
}
