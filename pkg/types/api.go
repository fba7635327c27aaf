package types

// QueryRequest is the payload for POST /query.
type QueryRequest struct {
	// Optional chat to switch to before sending. Zero keeps the active chat.
	// example: 1
	ChatID int64 `json:"chat_id,omitempty" example:"1"`
	// Required user query.
	// example: What does the manual say about resetting the device?
	Query string `json:"query" example:"What does the manual say about resetting the device?"`
}

// QueryResponse acknowledges a started generation.
type QueryResponse struct {
	// Identifier of the generation task.
	// example: 3f0a1c1e-6c34-4f0e-9f6f-2f7a9a0d1b22
	GenerationID string `json:"generation_id" example:"3f0a1c1e-6c34-4f0e-9f6f-2f7a9a0d1b22"`
	ChatID       int64  `json:"chat_id" example:"1"`
}

// NewChatRequest is the payload for POST /chats.
type NewChatRequest struct {
	Name         string  `json:"name,omitempty" example:"Manual QA"`
	LLMModelID   *int64  `json:"llm_model_id,omitempty" example:"3"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MinP         float32 `json:"min_p,omitempty" example:"0.1"`
	Temperature  float32 `json:"temperature,omitempty" example:"0.8"`
	ContextSize  int     `json:"context_size,omitempty" example:"2048"`
	IsTask       bool    `json:"is_task,omitempty"`
}

// UpdateChatRequest is the payload for PATCH /chats/{id}. Nil fields are left unchanged.
type UpdateChatRequest struct {
	Name         *string  `json:"name,omitempty"`
	LLMModelID   *int64   `json:"llm_model_id,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	MinP         *float32 `json:"min_p,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	ContextSize  *int     `json:"context_size,omitempty"`
	IsTask       *bool    `json:"is_task,omitempty"`
}

// Apply copies the set fields onto c.
func (r UpdateChatRequest) Apply(c *Chat) {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.LLMModelID != nil {
		c.LLMModelID = *r.LLMModelID
	}
	if r.SystemPrompt != nil {
		c.SystemPrompt = *r.SystemPrompt
	}
	if r.MinP != nil {
		c.MinP = *r.MinP
	}
	if r.Temperature != nil {
		c.Temperature = *r.Temperature
	}
	if r.ContextSize != nil {
		c.ContextSize = *r.ContextSize
	}
	if r.IsTask != nil {
		c.IsTask = *r.IsTask
	}
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ChatsResponse wraps the list of chats returned by GET /chats.
type ChatsResponse struct {
	Chats []Chat `json:"chats"`
}

// MessagesResponse wraps the messages returned by GET /chats/{id}/messages.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SessionState is the JSON projection of the live session returned by GET /state
// and embedded in every streamed event.
type SessionState struct {
	// Active chat, nil when none is selected.
	Chat *Chat `json:"chat,omitempty"`
	// Model load state: not_loaded, in_progress, success, failure.
	// example: success
	LoadState string `json:"load_state" example:"success"`
	// Generation phase: idle, loading, prompt_building, streaming.
	// example: streaming
	Phase      string `json:"phase" example:"streaming"`
	Generating bool   `json:"generating" example:"true"`
	// Accumulated partial response for the running generation.
	Partial string `json:"partial"`
	// Tokens per second measured for the last completed generation.
	// example: 14.2
	LastSpeed float64 `json:"last_speed_tps" example:"14.2"`
	// Elapsed seconds of the last completed generation.
	// example: 3
	LastSeconds     int               `json:"last_seconds" example:"3"`
	ShowModelPicker bool              `json:"show_model_picker"`
	ShowOptions     bool              `json:"show_options_popup"`
	ShowTaskList    bool              `json:"show_task_list"`
	Error           *RecoverableError `json:"error,omitempty"`
	// Retrieval readiness: disabled, loading, ready, load_failed.
	// example: ready
	Retrieval string `json:"retrieval" example:"ready"`
}

// EventMessage is one NDJSON line of GET /events.
type EventMessage struct {
	Seq    uint64         `json:"seq"`
	Name   string         `json:"name"`
	ChatID int64          `json:"chat_id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	State  SessionState   `json:"state"`
}

// SelectModelRequest is the payload for POST /models/select.
type SelectModelRequest struct {
	// example: 3
	ModelID int64 `json:"model_id" example:"3"`
}

// LoadResponse reports the result of POST /models/load.
type LoadResponse struct {
	Loaded    bool   `json:"loaded"`
	LoadState string `json:"load_state" example:"success"`
}

// Panel names a toggleable UI surface.
type Panel string

const (
	PanelModelPicker Panel = "model_picker"
	PanelOptions     Panel = "options_popup"
	PanelTaskList    Panel = "task_list"
)

// Valid reports whether p names a known panel.
func (p Panel) Valid() bool {
	switch p {
	case PanelModelPicker, PanelOptions, PanelTaskList:
		return true
	}
	return false
}
