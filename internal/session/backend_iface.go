package session

import "context"

// BackendConfig carries the per-chat parameters a backend is created with.
type BackendConfig struct {
	ModelPath   string
	MinP        float32
	Temperature float32
	// PersistHistory keeps earlier turns in the backend's context. Task chats
	// run without it.
	PersistHistory bool
	ContextSize    int
}

// InferenceBackend owns at most one loaded model instance. Implementations
// need not be safe for concurrent use; Lifecycle and Controller serialize access.
type InferenceBackend interface {
	// Create loads the model. A previous instance must have been closed.
	Create(ctx context.Context, cfg BackendConfig) error
	// AddSystemPrompt injects text as the system turn of the conversation.
	AddSystemPrompt(text string) error
	// Generate streams fragments of the answer to prompt through onToken, in
	// order. It must return ctx.Err() promptly once ctx is canceled, and stop
	// when onToken returns an error.
	Generate(ctx context.Context, prompt string, onToken func(string) error) error
	// ContextLengthUsed reports the number of context tokens in use after the
	// last generation.
	ContextLengthUsed() int
	// GenerationSpeed reports tokens per second of the last generation.
	GenerationSpeed() float64
	// Close releases the model. It is idempotent and safe on an unloaded backend.
	Close() error
}
