package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"localchat/pkg/types"
)

// ChatStore is the slice of Gateway a generation writes to.
// Only the columns a generation owns are written, so parameter edits made
// while it streams survive.
type ChatStore interface {
	TouchChat(ctx context.Context, id int64, at time.Time) error
	SetContextSizeConsumed(ctx context.Context, id int64, n int) error
	AddUserMessage(ctx context.Context, chatID int64, text string) error
	AddAssistantMessage(ctx context.Context, chatID int64, text string) error
	DeleteMessages(ctx context.Context, chatID int64) error
}

// Generation is the handle of one generation task.
type Generation struct {
	id      string
	chatID  int64
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
	err     error
}

// ID identifies the task.
func (g *Generation) ID() string { return g.id }

// ChatID is the chat the task generates for.
func (g *Generation) ChatID() int64 { return g.chatID }

// Done is closed when the task has fully exited.
func (g *Generation) Done() <-chan struct{} { return g.done }

// Wait blocks until the task exits and returns how it ended. Cancellation is
// an outcome, not an error.
func (g *Generation) Wait() (Outcome, error) {
	<-g.done
	return g.outcome, g.err
}

// Controller owns the single active generation of a session.
//
//	Idle -> Loading -> Idle                                  (load refused)
//	Idle -> Loading -> PromptBuilding -> Streaming -> Idle   (completed|cancelled|errored)
type Controller struct {
	// startMu serializes Start so a new task is only spawned after the
	// previous one fully exited.
	startMu sync.Mutex

	mu  sync.Mutex
	cur *Generation

	baseCtx context.Context
	state   *State
	life    *Lifecycle
	builder *PromptBuilder
	store   ChatStore
	log     zerolog.Logger
	now     func() time.Time
}

// NewController constructs a Controller. Tasks run under baseCtx, not under
// the caller's context, so they outlive the request that started them.
func NewController(baseCtx context.Context, state *State, life *Lifecycle, builder *PromptBuilder, store ChatStore, log zerolog.Logger) *Controller {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Controller{
		baseCtx: baseCtx,
		state:   state,
		life:    life,
		builder: builder,
		store:   store,
		log:     log,
		now:     time.Now,
	}
}

// Start cancels and waits for any running generation, then spawns a new task
// answering query in chat.
func (c *Controller) Start(chat types.Chat, query string) *Generation {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.StopAndWait()

	ctx, cancel := context.WithCancel(c.baseCtx)
	g := &Generation{
		id:     uuid.NewString(),
		chatID: chat.ID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.cur = g
	c.mu.Unlock()

	c.state.BeginGeneration(g.id)
	go c.run(ctx, g, chat, query)
	return g
}

// Current returns the running generation, or nil.
func (c *Controller) Current() *Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Stop clears the generating flag and the buffer and requests cancellation of
// the running task. It does not wait and is safe to call at any time.
func (c *Controller) Stop() {
	prev := c.state.Stop()
	c.mu.Lock()
	g := c.cur
	c.mu.Unlock()
	if g != nil {
		g.cancel()
		c.log.Debug().Str("generation", g.id).Str("state_gen", prev).Msg("generation event=stop_requested")
	}
}

// StopAndWait is Stop followed by waiting for the task to exit.
func (c *Controller) StopAndWait() {
	c.Stop()
	c.mu.Lock()
	g := c.cur
	c.mu.Unlock()
	if g != nil {
		<-g.done
	}
}

func (c *Controller) run(ctx context.Context, g *Generation, chat types.Chat, query string) {
	defer close(g.done)
	defer g.cancel()

	g.outcome, g.err = c.execute(ctx, g, chat, query)
	generationsTotal.WithLabelValues(string(g.outcome)).Inc()

	c.mu.Lock()
	if c.cur == g {
		c.cur = nil
	}
	c.mu.Unlock()
}

func (c *Controller) execute(ctx context.Context, g *Generation, chat types.Chat, query string) (Outcome, error) {
	log := c.log.With().Str("generation", g.id).Int64("chat", chat.ID).Logger()
	log.Info().Msg("generation event=generation_start")

	if err := c.life.Load(ctx, chat); err != nil {
		if ctx.Err() != nil {
			return c.cancelled(g, log)
		}
		// the lifecycle already raised the selection or failure signal
		c.state.EndGeneration(g.id, OutcomeNotStarted)
		log.Info().Err(err).Msg("generation event=generation_not_started")
		return OutcomeNotStarted, err
	}
	if ctx.Err() != nil {
		return c.cancelled(g, log)
	}

	usedAt := c.now()
	if err := c.store.TouchChat(ctx, chat.ID, usedAt); err != nil {
		log.Warn().Err(err).Msg("generation event=date_used_not_saved")
	}
	c.state.PatchChat(chat.ID, func(a *types.Chat) { a.DateUsed = usedAt })
	if chat.IsTask {
		if err := c.store.DeleteMessages(ctx, chat.ID); err != nil {
			return c.fail(g, log, err)
		}
	}

	c.state.SetGenerating(g.id, true)
	c.state.SetPhase(g.id, PhasePromptBuilding)
	prompt, err := c.builder.BuildPrompt(ctx, query)
	if err != nil {
		if IsCancelled(err) || ctx.Err() != nil {
			return c.cancelled(g, log)
		}
		return c.fail(g, log, err)
	}
	if err := c.store.AddUserMessage(ctx, chat.ID, c.builder.Provenance(prompt)); err != nil {
		return c.fail(g, log, err)
	}

	c.state.SetPhase(g.id, PhaseStreaming)
	started := c.now()
	var text strings.Builder
	backend := c.life.Backend()
	err = backend.Generate(ctx, prompt.UserMessage, func(tok string) error {
		if !c.state.AppendFragment(g.id, tok) {
			// detached by Stop; ctx is being canceled too
			return context.Canceled
		}
		text.WriteString(tok)
		return nil
	})
	if err != nil {
		if IsCancelled(err) || ctx.Err() != nil {
			return c.cancelled(g, log)
		}
		return c.fail(g, log, err)
	}
	if ctx.Err() != nil {
		return c.cancelled(g, log)
	}

	// the answer is complete; a Stop arriving now must not lose it
	persistCtx := context.WithoutCancel(ctx)
	final := QuoteThinking(text.String())
	if err := c.store.AddAssistantMessage(persistCtx, chat.ID, final); err != nil {
		return c.fail(g, log, err)
	}
	consumed := backend.ContextLengthUsed()
	if err := c.store.SetContextSizeConsumed(persistCtx, chat.ID, consumed); err != nil {
		log.Warn().Err(err).Msg("generation event=context_size_not_saved")
	}
	c.state.PatchChat(chat.ID, func(a *types.Chat) { a.ContextSizeConsumed = consumed })

	elapsed := c.now().Sub(started)
	speed := backend.GenerationSpeed()
	generationSpeed.Set(speed)
	generationSeconds.Observe(elapsed.Seconds())
	c.state.CompleteGeneration(g.id, speed, int(elapsed.Seconds()))
	log.Info().Float64("tps", speed).Dur("dur", elapsed).Int("ctx_used", consumed).
		Msg("generation event=generation_done")
	return OutcomeCompleted, nil
}

func (c *Controller) cancelled(g *Generation, log zerolog.Logger) (Outcome, error) {
	c.state.EndGeneration(g.id, OutcomeCancelled)
	log.Info().Msg("generation event=generation_cancelled")
	return OutcomeCancelled, nil
}

func (c *Controller) fail(g *Generation, log zerolog.Logger, err error) (Outcome, error) {
	rec := types.RecoverableError{
		Title:     "An error occurred",
		Body:      err.Error(),
		Primary:   types.ActionChangeModel,
		Secondary: types.ActionDismiss,
	}
	if IsRetrievalUnavailable(err) {
		rec.Title = "Documents are still loading"
		rec.Primary = types.ActionDismiss
		rec.Secondary = types.ActionNone
	} else {
		err = ErrGeneration(err)
	}
	c.state.FailGeneration(g.id, rec)
	log.Error().Err(err).Msg("generation event=generation_failed")
	return OutcomeErrored, err
}
