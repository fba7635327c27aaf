//go:build llama

package session

import (
	"context"
	"errors"
	"strings"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"
)

// llamaBackend drives an in-process go-llama.cpp model. go-llama.cpp keeps no
// conversation state between Predict calls, so the transcript is kept here and
// rendered with the ChatML template on every turn.
type llamaBackend struct {
	threads int

	model      *llama.LLama
	cfg        BackendConfig
	system     string
	transcript strings.Builder

	ctxUsed int
	speed   float64
}

// NewLlamaBackend returns the in-process llama.cpp backend.
func NewLlamaBackend(threads int) InferenceBackend {
	return &llamaBackend{threads: threads}
}

func (b *llamaBackend) Create(ctx context.Context, cfg BackendConfig) error {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = b.Close()
	mo := []llama.ModelOption{llama.SetContext(zn(cfg.ContextSize, 2048))}
	m, err := llama.New(cfg.ModelPath, mo...)
	if err != nil {
		return err
	}
	b.model = m
	b.cfg = cfg
	return nil
}

func (b *llamaBackend) AddSystemPrompt(text string) error {
	if b.model == nil {
		return errors.New("llama model not initialized")
	}
	b.system = text
	return nil
}

func (b *llamaBackend) Generate(ctx context.Context, prompt string, onToken func(string) error) error {
	if b.model == nil {
		return errors.New("llama model not initialized")
	}
	full := b.render(prompt)
	var (
		tokens  int
		tokErr  error
		started = time.Now()
	)
	b.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		tokens++
		if err := onToken(tok); err != nil {
			tokErr = err
			return false
		}
		return true
	})
	po := b.predictOptions()
	text, err := b.model.Predict(full, po...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if tokErr != nil {
		return tokErr
	}
	if err != nil {
		return err
	}
	if secs := time.Since(started).Seconds(); secs > 0 {
		b.speed = float64(tokens) / secs
	}
	if b.cfg.PersistHistory {
		b.appendTurn("user", prompt)
		b.appendTurn("assistant", text)
	}
	if n, _, err := b.model.TokenizeString(b.render(""), po...); err == nil {
		b.ctxUsed = int(n)
	}
	return nil
}

// AddUserMessage primes the transcript with an earlier user turn.
func (b *llamaBackend) AddUserMessage(text string) { b.appendTurn("user", text) }

// AddAssistantMessage primes the transcript with an earlier assistant turn.
func (b *llamaBackend) AddAssistantMessage(text string) { b.appendTurn("assistant", text) }

func (b *llamaBackend) ContextLengthUsed() int { return b.ctxUsed }

func (b *llamaBackend) GenerationSpeed() float64 { return b.speed }

func (b *llamaBackend) Close() error {
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	b.system = ""
	b.transcript.Reset()
	b.ctxUsed = 0
	b.speed = 0
	return nil
}

func (b *llamaBackend) appendTurn(role, text string) {
	b.transcript.WriteString(imStart + role + "\n" + text + imEnd + "\n")
}

// render builds the ChatML prompt for the next assistant turn. An empty
// prompt renders only the accumulated history.
func (b *llamaBackend) render(prompt string) string {
	var sb strings.Builder
	if b.system != "" {
		sb.WriteString(imStart + "system\n" + b.system + imEnd + "\n")
	}
	sb.WriteString(b.transcript.String())
	if prompt != "" {
		sb.WriteString(imStart + "user\n" + prompt + imEnd + "\n")
		sb.WriteString(imStart + "assistant\n")
	}
	return sb.String()
}

// predictOptions maps the chat parameters onto go-llama.cpp options.
// go-llama.cpp exposes no min-p sampler; MinP is kept in cfg but unused here.
func (b *llamaBackend) predictOptions() []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(zn(b.cfg.ContextSize, 2048)),
		llama.SetThreads(zn(b.threads, 4)),
		llama.SetTemperature(zf(b.cfg.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetTopP(llama.DefaultOptions.TopP),
		llama.SetTopK(llama.DefaultOptions.TopK),
		llama.SetStopWords(imEnd),
	}
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
