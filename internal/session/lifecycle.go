package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"localchat/pkg/types"
)

// MessageSource lists the persisted turns of a chat.
type MessageSource interface {
	GetMessages(ctx context.Context, chatID int64) ([]types.Message, error)
}

// Lifecycle drives backend create/close for the active chat.
//
//	NotLoaded -> InProgress -> {Success, Failure}
//	Success|Failure -> InProgress   (next Load)
//	any -> NotLoaded                (Release)
//
// The backend is an owned handle: every Load closes the previous instance
// first, and Release closes it on teardown.
type Lifecycle struct {
	mu       sync.Mutex
	backend  InferenceBackend
	models   ModelRepository
	messages MessageSource
	state    *State
	log      zerolog.Logger
}

// NewLifecycle constructs a Lifecycle. messages may be nil, in which case no
// history is replayed into the backend after a load.
func NewLifecycle(backend InferenceBackend, models ModelRepository, messages MessageSource, state *State, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{backend: backend, models: models, messages: messages, state: state, log: log}
}

// LoadModel loads the backend for chat and reports whether generation may start.
func (l *Lifecycle) LoadModel(ctx context.Context, chat types.Chat) bool {
	return l.Load(ctx, chat) == nil
}

// Load is LoadModel with the reason for a false result. A selection-required
// error means the UI was asked to pick a model; a backend-load error means the
// state moved to Failure and a recoverable error was raised.
func (l *Lifecycle) Load(ctx context.Context, chat types.Chat) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Close(); err != nil {
		l.log.Warn().Err(err).Int64("chat", chat.ID).Msg("lifecycle event=close_error")
	}

	if !chat.HasModel() {
		l.log.Info().Int64("chat", chat.ID).Msg("lifecycle event=selection_required reason=unassigned")
		l.state.RequireSelection("unassigned")
		return ErrSelectionRequired("chat has no model")
	}
	mdl, ok, err := l.models.GetModelFromID(ctx, chat.LLMModelID)
	if err != nil || !ok {
		l.log.Info().Int64("chat", chat.ID).Int64("model", chat.LLMModelID).AnErr("lookup_err", err).
			Msg("lifecycle event=selection_required reason=unresolved")
		l.state.RequireSelection("unresolved")
		return ErrSelectionRequired("model not found")
	}

	start := time.Now()
	l.log.Info().Int64("chat", chat.ID).Str("model", mdl.Name).Msg("lifecycle event=load_start")
	l.state.SetLoadState(LoadInProgress, map[string]any{"model_id": mdl.ID})

	cfg := BackendConfig{
		ModelPath:      mdl.Path,
		MinP:           chat.MinP,
		Temperature:    chat.Temperature,
		PersistHistory: !chat.IsTask,
		ContextSize:    chat.ContextSize,
	}
	if err := l.create(ctx, chat, cfg); err != nil {
		// release whatever Create may have half-allocated
		_ = l.backend.Close()
		if ctx.Err() != nil {
			l.log.Info().Int64("chat", chat.ID).Msg("lifecycle event=load_cancelled")
			l.state.SetLoadState(LoadNotLoaded, map[string]any{"model_id": mdl.ID})
			return ctx.Err()
		}
		loadErr := ErrBackendLoad(mdl.Path, err)
		l.log.Error().Err(err).Int64("chat", chat.ID).Str("model", mdl.Name).Msg("lifecycle event=load_failed")
		modelLoadsTotal.WithLabelValues("failure").Inc()
		l.state.SetLoadState(LoadFailure, map[string]any{"model_id": mdl.ID, "error": err.Error()})
		l.state.RaiseError(types.RecoverableError{
			Title:     "Failed to load model",
			Body:      err.Error(),
			Primary:   types.ActionChangeModel,
			Secondary: types.ActionDismiss,
		})
		return loadErr
	}

	dur := time.Since(start)
	modelLoadsTotal.WithLabelValues("success").Inc()
	modelLoadSeconds.Observe(dur.Seconds())
	l.log.Info().Int64("chat", chat.ID).Str("model", mdl.Name).Dur("dur", dur).Msg("lifecycle event=load_ready")
	l.state.SetLoadState(LoadSuccess, map[string]any{"model_id": mdl.ID})
	return nil
}

func (l *Lifecycle) create(ctx context.Context, chat types.Chat, cfg BackendConfig) error {
	if err := l.backend.Create(ctx, cfg); err != nil {
		return err
	}
	if chat.SystemPrompt != "" {
		if err := l.backend.AddSystemPrompt(chat.SystemPrompt); err != nil {
			return err
		}
	}
	if cfg.PersistHistory {
		l.replayHistory(ctx, chat.ID)
	}
	return nil
}

func (l *Lifecycle) replayHistory(ctx context.Context, chatID int64) {
	hr, ok := l.backend.(historyReplayer)
	if !ok || l.messages == nil {
		return
	}
	msgs, err := l.messages.GetMessages(ctx, chatID)
	if err != nil {
		l.log.Warn().Err(err).Int64("chat", chatID).Msg("lifecycle event=history_unavailable")
		return
	}
	for _, m := range msgs {
		if m.IsUserMessage {
			hr.AddUserMessage(m.Text)
		} else {
			hr.AddAssistantMessage(m.Text)
		}
	}
}

// Release closes the backend and returns the state to NotLoaded.
func (l *Lifecycle) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.backend.Close()
	if l.state.LoadState() != LoadNotLoaded {
		l.state.SetLoadState(LoadNotLoaded, nil)
	}
	l.log.Debug().Msg("lifecycle event=released")
	return err
}

// Backend returns the owned backend handle.
func (l *Lifecycle) Backend() InferenceBackend { return l.backend }
