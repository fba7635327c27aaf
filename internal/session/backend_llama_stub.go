//go:build !llama

package session

// No-CGO stub for the llama backend, compiled when the 'llama' build tag is
// NOT set. Default builds and CI stay CGO-free; Create fails fast so the
// lifecycle reports a load failure instead of pretending to generate.

import "context"

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

type llamaBackend struct {
	threads int
}

// NewLlamaBackend returns the in-process llama.cpp backend.
func NewLlamaBackend(threads int) InferenceBackend {
	return &llamaBackend{threads: threads}
}

func (b *llamaBackend) Create(ctx context.Context, cfg BackendConfig) error {
	return ErrDependencyUnavailable(llamaMissing)
}

func (b *llamaBackend) AddSystemPrompt(text string) error {
	return ErrDependencyUnavailable(llamaMissing)
}

func (b *llamaBackend) Generate(ctx context.Context, prompt string, onToken func(string) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return ErrDependencyUnavailable(llamaMissing)
}

func (b *llamaBackend) ContextLengthUsed() int { return 0 }

func (b *llamaBackend) GenerationSpeed() float64 { return 0 }

// Close is a no-op; nothing is allocated in the stub.
func (b *llamaBackend) Close() error { return nil }
