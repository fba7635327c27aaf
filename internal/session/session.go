package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"localchat/pkg/types"
)

// Config wires a Session to its collaborators.
type Config struct {
	Backend InferenceBackend
	Gateway Gateway
	// Retrieval is optional; without it queries are sent as-is.
	Retrieval RetrievalService
	Logger    zerolog.Logger
	// Publishers receive every state event synchronously, in order, in
	// addition to bus subscribers.
	Publishers []EventPublisher
}

// Session is one conversation surface: the active chat, its backend and its
// single generation task.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	bus     *Bus
	state   *State
	life    *Lifecycle
	builder *PromptBuilder
	gen     *Controller
	gw      Gateway
	log     zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New constructs a Session. Call Init to select the default chat.
func New(cfg Config) *Session {
	if cfg.Backend == nil {
		cfg.Backend = NewLlamaBackend(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus()
	state := NewState(bus, cfg.Publishers...)
	life := NewLifecycle(cfg.Backend, cfg.Gateway, cfg.Gateway, state, cfg.Logger)
	builder := NewPromptBuilder(cfg.Retrieval)
	return &Session{
		ctx:     ctx,
		cancel:  cancel,
		bus:     bus,
		state:   state,
		life:    life,
		builder: builder,
		gen:     NewController(ctx, state, life, builder, cfg.Gateway, cfg.Logger),
		gw:      cfg.Gateway,
		log:     cfg.Logger,
	}
}

// Init selects the default chat, creating it if the store is empty.
func (s *Session) Init(ctx context.Context) error {
	c, err := s.gw.LoadDefaultChat(ctx)
	if err != nil {
		return err
	}
	s.state.SetChat(&c)
	s.log.Info().Int64("chat", c.ID).Msg("session event=init")
	return nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot { return s.state.Snapshot() }

// Subscribe returns the current state and a channel of subsequent events.
func (s *Session) Subscribe(buffer int) (Snapshot, <-chan Event, func()) {
	return s.state.Subscribe(buffer)
}

// SendQuery starts answering query in the active chat. A generation already
// running in this session is canceled and awaited first.
func (s *Session) SendQuery(ctx context.Context, query string) (*Generation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	chat := s.state.Chat()
	if chat == nil {
		return nil, ErrChatNotFound(0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.gen.Start(*chat, query), nil
}

// Stop cancels the running generation, if any.
func (s *Session) Stop() { s.gen.Stop() }

// Current returns the running generation, or nil.
func (s *Session) Current() *Generation { return s.gen.Current() }

// LoadModel loads the backend for the active chat ahead of the first query.
func (s *Session) LoadModel(ctx context.Context) bool {
	chat := s.state.Chat()
	if chat == nil {
		return false
	}
	s.gen.StopAndWait()
	return s.life.LoadModel(ctx, *chat)
}

// SwitchChat stops any generation and makes chat id active.
func (s *Session) SwitchChat(ctx context.Context, id int64) error {
	c, err := s.gw.GetChat(ctx, id)
	if err != nil {
		return err
	}
	s.gen.StopAndWait()
	s.state.SetChat(&c)
	s.log.Info().Int64("chat", id).Msg("session event=switch_chat")
	return nil
}

// NewChat persists c and makes it active.
func (s *Session) NewChat(ctx context.Context, c types.Chat) (types.Chat, error) {
	created, err := s.gw.CreateChat(ctx, c)
	if err != nil {
		return types.Chat{}, err
	}
	s.gen.StopAndWait()
	s.state.SetChat(&created)
	return created, nil
}

// UpdateChat persists parameter edits. Edits to the active chat take effect
// on the next load.
func (s *Session) UpdateChat(ctx context.Context, c types.Chat) error {
	if err := s.gw.UpdateChat(ctx, c); err != nil {
		return err
	}
	s.state.UpdateChat(c)
	return nil
}

// SelectModel assigns a model to the active chat and hides the picker.
func (s *Session) SelectModel(ctx context.Context, modelID int64) error {
	chat := s.state.Chat()
	if chat == nil {
		return ErrChatNotFound(0)
	}
	if _, ok, err := s.gw.GetModelFromID(ctx, modelID); err != nil {
		return err
	} else if !ok {
		return ErrSelectionRequired("model not found")
	}
	chat.LLMModelID = modelID
	if err := s.UpdateChat(ctx, *chat); err != nil {
		return err
	}
	s.state.SetModelPicker(false)
	return nil
}

// DeleteChat stops the running generation and removes chat id. When it was
// the active chat the default chat becomes active.
func (s *Session) DeleteChat(ctx context.Context, id int64) error {
	s.gen.StopAndWait()
	active := s.state.Chat()
	isActive := active != nil && active.ID == id
	if err := s.gw.DeleteChat(ctx, id); err != nil {
		return err
	}
	if !isActive {
		return nil
	}
	if err := s.life.Release(); err != nil {
		s.log.Warn().Err(err).Msg("session event=release_error")
	}
	return s.Init(ctx)
}

// DeleteModel removes model id; chats using it become unassigned.
func (s *Session) DeleteModel(ctx context.Context, id int64) error {
	active := s.state.Chat()
	if active != nil && active.LLMModelID == id {
		s.gen.StopAndWait()
		if err := s.life.Release(); err != nil {
			s.log.Warn().Err(err).Msg("session event=release_error")
		}
	}
	if err := s.gw.DeleteModel(ctx, id); err != nil {
		return err
	}
	if active != nil && active.LLMModelID == id {
		active.LLMModelID = types.UnassignedModelID
		s.state.UpdateChat(*active)
	}
	return nil
}

// GetChat returns chat id from the store.
func (s *Session) GetChat(ctx context.Context, id int64) (types.Chat, error) { return s.gw.GetChat(ctx, id) }

// ListChats returns all chats, most recently used first.
func (s *Session) ListChats(ctx context.Context) ([]types.Chat, error) { return s.gw.GetChats(ctx) }

// Messages returns the persisted turns of chat id.
func (s *Session) Messages(ctx context.Context, chatID int64) ([]types.Message, error) {
	return s.gw.GetMessages(ctx, chatID)
}

// ListModels returns the known models.
func (s *Session) ListModels(ctx context.Context) ([]types.Model, error) { return s.gw.ListModels(ctx) }

// ShowModelPicker opens the model picker.
func (s *Session) ShowModelPicker() { s.state.SetModelPicker(true) }

// HideModelPicker closes the model picker.
func (s *Session) HideModelPicker() { s.state.SetModelPicker(false) }

// ShowOptionsPopup opens the chat options popup.
func (s *Session) ShowOptionsPopup() { s.state.SetOptionsPopup(true) }

// HideOptionsPopup closes the chat options popup.
func (s *Session) HideOptionsPopup() { s.state.SetOptionsPopup(false) }

// ShowTaskList opens the task list.
func (s *Session) ShowTaskList() { s.state.SetTaskList(true) }

// HideTaskList closes the task list.
func (s *Session) HideTaskList() { s.state.SetTaskList(false) }

// DismissError clears the pending recoverable error.
func (s *Session) DismissError() { s.state.DismissError() }

// Close stops the running generation, releases the backend and closes the
// event bus. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.gen.StopAndWait()
		s.closeErr = s.life.Release()
		s.cancel()
		s.bus.Close()
		s.log.Info().Msg("session event=closed")
	})
	return s.closeErr
}
