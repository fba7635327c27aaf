package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"localchat/pkg/types"
)

// fakeBackend is an in-memory InferenceBackend. Generate emits tokens in order;
// when gate is set each token waits for a receive from it.
type fakeBackend struct {
	mu sync.Mutex

	createErr   error
	blockCreate bool
	genErr      error
	genErrAt    int
	tokens      []string
	gate        chan struct{}
	ctxUsed     int
	speed       float64

	creates   int
	closes    int
	cfgs      []BackendConfig
	systems   []string
	prompts   []string
	userTurns []string
	botTurns  []string
}

func (f *fakeBackend) Create(ctx context.Context, cfg BackendConfig) error {
	f.mu.Lock()
	f.creates++
	f.cfgs = append(f.cfgs, cfg)
	block, err := f.blockCreate, f.createErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeBackend) AddSystemPrompt(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systems = append(f.systems, text)
	return nil
}

func (f *fakeBackend) AddUserMessage(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userTurns = append(f.userTurns, text)
}

func (f *fakeBackend) AddAssistantMessage(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.botTurns = append(f.botTurns, text)
}

func (f *fakeBackend) Generate(ctx context.Context, prompt string, onToken func(string) error) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	tokens, gate, genErr, at := f.tokens, f.gate, f.genErr, f.genErrAt
	f.mu.Unlock()
	for i, tok := range tokens {
		if genErr != nil && i == at {
			return genErr
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	if genErr != nil && at >= len(tokens) {
		return genErr
	}
	return nil
}

func (f *fakeBackend) ContextLengthUsed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxUsed
}

func (f *fakeBackend) GenerationSpeed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeBackend) counts() (creates, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.closes
}

func (f *fakeBackend) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// fakeRetrieval returns a fixed prompt, or blocks until ctx is done.
type fakeRetrieval struct {
	prompt RetrievalPrompt
	err    error
	block  bool
	calls  int
	mu     sync.Mutex
}

func (r *fakeRetrieval) GetPrompt(ctx context.Context, query string) (RetrievalPrompt, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return RetrievalPrompt{}, ctx.Err()
	}
	if r.err != nil {
		return RetrievalPrompt{}, r.err
	}
	p := r.prompt
	p.Query = query
	return p, nil
}

// memGateway is an in-memory Gateway.
type memGateway struct {
	mu       sync.Mutex
	nextID   int64
	models   map[int64]types.Model
	chats    map[int64]types.Chat
	messages []types.Message
}

func newMemGateway() *memGateway {
	return &memGateway{models: map[int64]types.Model{}, chats: map[int64]types.Chat{}}
}

func (g *memGateway) addModel(m types.Model) types.Model {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	m.ID = g.nextID
	g.models[m.ID] = m
	return m
}

func (g *memGateway) addChat(c types.Chat) types.Chat {
	c, _ = g.CreateChat(context.Background(), c)
	return c
}

func (g *memGateway) GetModelFromID(ctx context.Context, id int64) (types.Model, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.models[id]
	return m, ok, nil
}

func (g *memGateway) LoadDefaultChat(ctx context.Context) (types.Chat, error) {
	chats, _ := g.GetChats(ctx)
	if len(chats) > 0 {
		return chats[0], nil
	}
	return g.CreateChat(ctx, types.Chat{Name: "New chat", LLMModelID: types.UnassignedModelID})
}

func (g *memGateway) GetChats(ctx context.Context) ([]types.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Chat, 0, len(g.chats))
	for _, c := range g.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateUsed.Equal(out[j].DateUsed) {
			return out[i].ID > out[j].ID
		}
		return out[i].DateUsed.After(out[j].DateUsed)
	})
	return out, nil
}

func (g *memGateway) GetChat(ctx context.Context, id int64) (types.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chats[id]
	if !ok {
		return types.Chat{}, ErrChatNotFound(id)
	}
	return c, nil
}

func (g *memGateway) CreateChat(ctx context.Context, c types.Chat) (types.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	c.ID = g.nextID
	g.chats[c.ID] = c
	return c, nil
}

func (g *memGateway) UpdateChat(ctx context.Context, c types.Chat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.chats[c.ID]; !ok {
		return ErrChatNotFound(c.ID)
	}
	g.chats[c.ID] = c
	return nil
}

func (g *memGateway) TouchChat(ctx context.Context, id int64, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chats[id]
	if !ok {
		return ErrChatNotFound(id)
	}
	c.DateUsed = at
	g.chats[id] = c
	return nil
}

func (g *memGateway) SetContextSizeConsumed(ctx context.Context, id int64, n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.chats[id]
	if !ok {
		return ErrChatNotFound(id)
	}
	c.ContextSizeConsumed = n
	g.chats[id] = c
	return nil
}

func (g *memGateway) DeleteChat(ctx context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.chats[id]; !ok {
		return ErrChatNotFound(id)
	}
	delete(g.chats, id)
	g.deleteMessagesLocked(id)
	return nil
}

func (g *memGateway) GetMessages(ctx context.Context, chatID int64) ([]types.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Message
	for _, m := range g.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *memGateway) addMessage(chatID int64, text string, user bool) {
	g.nextID++
	g.messages = append(g.messages, types.Message{ID: g.nextID, ChatID: chatID, Text: text, IsUserMessage: user, CreatedAt: time.Now()})
}

func (g *memGateway) AddUserMessage(ctx context.Context, chatID int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addMessage(chatID, text, true)
	return nil
}

func (g *memGateway) AddAssistantMessage(ctx context.Context, chatID int64, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addMessage(chatID, text, false)
	return nil
}

func (g *memGateway) DeleteMessages(ctx context.Context, chatID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteMessagesLocked(chatID)
	return nil
}

func (g *memGateway) deleteMessagesLocked(chatID int64) {
	kept := g.messages[:0]
	for _, m := range g.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	g.messages = kept
}

func (g *memGateway) ListModels(ctx context.Context) ([]types.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Model, 0, len(g.models))
	for _, m := range g.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGateway) DeleteModel(ctx context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.models, id)
	for cid, c := range g.chats {
		if c.LLMModelID == id {
			c.LLMModelID = types.UnassignedModelID
			g.chats[cid] = c
		}
	}
	return nil
}

// harness bundles a session with its fakes.
type harness struct {
	sess    *Session
	backend *fakeBackend
	gw      *memGateway
	pub     *MemoryPublisher
	model   types.Model
	chat    types.Chat
}

// newHarness builds a session whose active chat uses a resolvable model.
func newHarness(t *testing.T, backend *fakeBackend, r RetrievalService, chat types.Chat) *harness {
	t.Helper()
	gw := newMemGateway()
	mdl := gw.addModel(types.Model{Name: "tiny", Path: "/models/tiny.gguf"})
	if chat.LLMModelID == 0 {
		chat.LLMModelID = mdl.ID
	}
	if chat.Name == "" {
		chat.Name = "test"
	}
	chat = gw.addChat(chat)
	pub := NewMemoryPublisher()
	cfg := Config{Backend: backend, Gateway: gw, Logger: zerolog.Nop(), Publishers: []EventPublisher{pub}}
	if r != nil {
		cfg.Retrieval = r
	}
	s := New(cfg)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.SwitchChat(context.Background(), chat.ID); err != nil {
		t.Fatalf("switch chat: %v", err)
	}
	return &harness{sess: s, backend: backend, gw: gw, pub: pub, model: mdl, chat: chat}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitGen waits for g to exit with a deadline.
func waitGen(t *testing.T, g *Generation) (Outcome, error) {
	t.Helper()
	select {
	case <-g.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("generation %s did not exit", g.ID())
	}
	return g.Wait()
}
