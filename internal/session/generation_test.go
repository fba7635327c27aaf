package session

import (
	"context"
	"errors"
	"testing"

	"localchat/pkg/types"
)

func TestGeneration_Completes(t *testing.T) {
	b := &fakeBackend{tokens: []string{"Hel", "lo"}, ctxUsed: 42, speed: 12.5}
	h := newHarness(t, b, nil, types.Chat{})

	g, err := h.sess.SendQuery(context.Background(), "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out, err := waitGen(t, g)
	if out != OutcomeCompleted || err != nil {
		t.Fatalf("want completed, got %s %v", out, err)
	}
	msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID)
	if len(msgs) != 2 || msgs[0].Text != "hi" || !msgs[0].IsUserMessage || msgs[1].Text != "Hello" || msgs[1].IsUserMessage {
		t.Fatalf("unexpected history: %+v", msgs)
	}
	snap := h.sess.Snapshot()
	if snap.Generating || snap.Partial != "" || snap.Phase != PhaseIdle {
		t.Fatalf("expected idle state, got %+v", snap)
	}
	if snap.LastSpeed != 12.5 {
		t.Fatalf("speed not recorded: %v", snap.LastSpeed)
	}
	if snap.Chat.ContextSizeConsumed != 42 {
		t.Fatalf("context usage not recorded: %d", snap.Chat.ContextSizeConsumed)
	}
	stored, _ := h.gw.GetChat(context.Background(), h.chat.ID)
	if stored.ContextSizeConsumed != 42 || stored.DateUsed.IsZero() {
		t.Fatalf("chat not persisted: %+v", stored)
	}
	frags := h.pub.Named(EventFragment)
	if len(frags) != 2 || frags[0].Fields["fragment"] != "Hel" || frags[1].Fields["fragment"] != "lo" {
		t.Fatalf("fragments out of order: %+v", frags)
	}
}

func TestGeneration_ThinkTagsQuotedOnPersist(t *testing.T) {
	b := &fakeBackend{tokens: []string{"A<think>", "B", "</think>C"}}
	h := newHarness(t, b, nil, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "q")
	if out, _ := waitGen(t, g); out != OutcomeCompleted {
		t.Fatalf("want completed, got %s", out)
	}
	msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID)
	if got := msgs[len(msgs)-1].Text; got != "A<quote>B</quote>C" {
		t.Fatalf("unexpected persisted text %q", got)
	}
	// partial output keeps the raw tags
	frags := h.pub.Named(EventFragment)
	if frags[len(frags)-1].State.Partial != "A<think>B</think>C" {
		t.Fatalf("partial should be raw, got %q", frags[len(frags)-1].State.Partial)
	}
}

func TestGeneration_TaskChatClearsHistory(t *testing.T) {
	b := &fakeBackend{tokens: []string{"4"}}
	h := newHarness(t, b, nil, types.Chat{IsTask: true})
	ctx := context.Background()
	_ = h.gw.AddUserMessage(ctx, h.chat.ID, "1+1")
	_ = h.gw.AddAssistantMessage(ctx, h.chat.ID, "2")

	g, _ := h.sess.SendQuery(ctx, "2+2")
	if out, err := waitGen(t, g); out != OutcomeCompleted {
		t.Fatalf("want completed, got %s %v", out, err)
	}
	msgs, _ := h.gw.GetMessages(ctx, h.chat.ID)
	if len(msgs) != 2 || msgs[0].Text != "2+2" || msgs[1].Text != "4" {
		t.Fatalf("task chat should hold only the last exchange: %+v", msgs)
	}
	if b.cfgs[0].PersistHistory {
		t.Fatalf("task chat must not persist history")
	}
}

func TestGeneration_ProvenanceMessage(t *testing.T) {
	b := &fakeBackend{tokens: []string{"ok"}}
	r := &fakeRetrieval{prompt: RetrievalPrompt{Contexts: []string{"ctxA", "ctxB", "ctxC"}, UserMessage: "grounded prompt"}}
	h := newHarness(t, b, r, types.Chat{})

	g, _ := h.sess.SendQuery(context.Background(), "Q")
	if out, err := waitGen(t, g); out != OutcomeCompleted {
		t.Fatalf("want completed, got %s %v", out, err)
	}
	msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID)
	if msgs[0].Text != "Context ctxA\n\nContext ctxB\n\nQuery: Q" {
		t.Fatalf("unexpected provenance %q", msgs[0].Text)
	}
	if got := b.lastPrompt(); got != "grounded prompt" {
		t.Fatalf("backend should receive the grounded prompt, got %q", got)
	}
}

func TestGeneration_TooFewContextsFails(t *testing.T) {
	b := &fakeBackend{tokens: []string{"x"}}
	r := &fakeRetrieval{prompt: RetrievalPrompt{Contexts: []string{"only"}, UserMessage: "p"}}
	h := newHarness(t, b, r, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "Q")
	out, err := waitGen(t, g)
	if out != OutcomeErrored || !IsGeneration(err) {
		t.Fatalf("want generation error, got %s %v", out, err)
	}
}

func TestGeneration_RetrievalUnavailable(t *testing.T) {
	b := &fakeBackend{tokens: []string{"x"}}
	r := &fakeRetrieval{err: ErrRetrievalUnavailable("loading")}
	h := newHarness(t, b, r, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "Q")
	out, err := waitGen(t, g)
	if out != OutcomeErrored || !IsRetrievalUnavailable(err) {
		t.Fatalf("want retrieval unavailable, got %s %v", out, err)
	}
	snap := h.sess.Snapshot()
	if snap.Err == nil || snap.Err.Primary != types.ActionDismiss {
		t.Fatalf("unexpected error dialog: %+v", snap.Err)
	}
	if msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID); len(msgs) != 0 {
		t.Fatalf("nothing should be persisted: %+v", msgs)
	}
}

func TestGeneration_MidStreamErrorSignalsOnce(t *testing.T) {
	b := &fakeBackend{tokens: []string{"a", "b", "c"}, genErr: errors.New("decode failed"), genErrAt: 2}
	h := newHarness(t, b, nil, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "q")
	out, err := waitGen(t, g)
	if out != OutcomeErrored || !IsGeneration(err) {
		t.Fatalf("want errored, got %s %v", out, err)
	}
	if n := len(h.pub.Named(EventRecoverableError)); n != 1 {
		t.Fatalf("expected exactly one error signal, got %d", n)
	}
	snap := h.sess.Snapshot()
	if snap.Partial != "" || snap.Fragments != 0 || snap.Generating {
		t.Fatalf("buffer should be cleared: %+v", snap)
	}
	if snap.LoadState != LoadSuccess {
		t.Fatalf("load state must be untouched by generation errors, got %s", snap.LoadState)
	}
	if snap.Err.Title != "An error occurred" || snap.Err.Primary != types.ActionChangeModel {
		t.Fatalf("unexpected error: %+v", snap.Err)
	}
	msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID)
	for _, m := range msgs {
		if !m.IsUserMessage {
			t.Fatalf("no assistant message expected, got %+v", m)
		}
	}
}

func TestGeneration_UnassignedModelNotStarted(t *testing.T) {
	b := &fakeBackend{tokens: []string{"x"}}
	h := newHarness(t, b, nil, types.Chat{LLMModelID: types.UnassignedModelID})
	g, _ := h.sess.SendQuery(context.Background(), "q")
	out, err := waitGen(t, g)
	if out != OutcomeNotStarted || !IsSelectionRequired(err) {
		t.Fatalf("want not started, got %s %v", out, err)
	}
	snap := h.sess.Snapshot()
	if !snap.ShowModelPicker || snap.LoadState != LoadNotLoaded || snap.Err != nil {
		t.Fatalf("unexpected state: %+v", snap)
	}
	if msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID); len(msgs) != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil, types.Chat{})
	h.sess.Stop()
	h.sess.Stop()
	snap := h.sess.Snapshot()
	if snap.Generating || snap.Partial != "" || snap.Phase != PhaseIdle {
		t.Fatalf("unexpected state after stop: %+v", snap)
	}
}

func TestStop_DuringLoading(t *testing.T) {
	b := &fakeBackend{blockCreate: true}
	h := newHarness(t, b, nil, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "q")
	waitFor(t, "load in progress", func() bool { return h.sess.Snapshot().LoadState == LoadInProgress })

	h.sess.Stop()
	out, err := waitGen(t, g)
	if out != OutcomeCancelled || err != nil {
		t.Fatalf("want cancelled, got %s %v", out, err)
	}
	snap := h.sess.Snapshot()
	if snap.Generating || snap.Err != nil {
		t.Fatalf("cancel must not raise errors: %+v", snap)
	}
	if msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID); len(msgs) != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestStop_DuringPromptBuilding(t *testing.T) {
	b := &fakeBackend{tokens: []string{"x"}}
	r := &fakeRetrieval{block: true}
	h := newHarness(t, b, r, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "q")
	waitFor(t, "prompt building", func() bool { return h.sess.Snapshot().Phase == PhasePromptBuilding })

	h.sess.Stop()
	if snap := h.sess.Snapshot(); snap.Generating {
		t.Fatalf("generating must clear synchronously on stop")
	}
	if out, _ := waitGen(t, g); out != OutcomeCancelled {
		t.Fatalf("want cancelled, got %s", out)
	}
	if len(b.prompts) != 0 {
		t.Fatalf("backend must not be asked to generate")
	}
	if len(h.pub.Named(EventRecoverableError)) != 0 {
		t.Fatalf("cancel must not raise errors")
	}
}

func TestStop_DuringStreaming(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{tokens: []string{"a", "b", "c"}, gate: gate}
	h := newHarness(t, b, nil, types.Chat{})
	g, _ := h.sess.SendQuery(context.Background(), "q")

	gate <- struct{}{}
	waitFor(t, "first fragment", func() bool { return h.sess.Snapshot().Fragments == 1 })

	h.sess.Stop()
	snap := h.sess.Snapshot()
	if snap.Generating || snap.Partial != "" || snap.Fragments != 0 {
		t.Fatalf("stop must clear buffer immediately: %+v", snap)
	}
	if out, _ := waitGen(t, g); out != OutcomeCancelled {
		t.Fatalf("want cancelled, got %s", out)
	}
	if snap := h.sess.Snapshot(); snap.Partial != "" {
		t.Fatalf("stale task repopulated the buffer: %q", snap.Partial)
	}
	msgs, _ := h.gw.GetMessages(context.Background(), h.chat.ID)
	for _, m := range msgs {
		if !m.IsUserMessage {
			t.Fatalf("cancelled answer must not be persisted: %+v", m)
		}
	}
}

func TestStart_CancelsRunningGeneration(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{tokens: []string{"a", "b"}, gate: gate}
	h := newHarness(t, b, nil, types.Chat{})
	g1, _ := h.sess.SendQuery(context.Background(), "first")
	waitFor(t, "streaming", func() bool { return h.sess.Snapshot().Phase == PhaseStreaming })

	done := make(chan *Generation, 1)
	go func() {
		g2, _ := h.sess.SendQuery(context.Background(), "second")
		done <- g2
	}()
	if out, _ := waitGen(t, g1); out != OutcomeCancelled {
		t.Fatalf("first generation should be cancelled, got %s", out)
	}
	g2 := <-done
	if g2.ID() == g1.ID() {
		t.Fatalf("expected a new generation")
	}
	waitFor(t, "second streaming", func() bool { return h.sess.Snapshot().Phase == PhaseStreaming })
	gate <- struct{}{}
	gate <- struct{}{}
	if out, err := waitGen(t, g2); out != OutcomeCompleted {
		t.Fatalf("second generation should complete, got %s %v", out, err)
	}
	if h.sess.Current() != nil {
		t.Fatalf("no generation should be running")
	}
}

func TestSendQuery_RejectsEmpty(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, nil, types.Chat{})
	if _, err := h.sess.SendQuery(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestGeneration_KeepsEditsMadeWhileStreaming(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{tokens: []string{"a", "b"}, gate: gate, ctxUsed: 17}
	h := newHarness(t, b, nil, types.Chat{Temperature: 0.5})
	other := h.gw.addModel(types.Model{Name: "other", Path: "/models/other.gguf"})
	ctx := context.Background()

	g, _ := h.sess.SendQuery(ctx, "q")
	gate <- struct{}{}
	waitFor(t, "first fragment", func() bool { return h.sess.Snapshot().Fragments == 1 })

	if err := h.sess.SelectModel(ctx, other.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	edited := *h.sess.Snapshot().Chat
	edited.Temperature = 0.9
	if err := h.sess.UpdateChat(ctx, edited); err != nil {
		t.Fatalf("update: %v", err)
	}

	gate <- struct{}{}
	if out, err := waitGen(t, g); out != OutcomeCompleted {
		t.Fatalf("want completed, got %s %v", out, err)
	}

	stored, _ := h.gw.GetChat(ctx, h.chat.ID)
	if stored.LLMModelID != other.ID || stored.Temperature != 0.9 {
		t.Fatalf("stored edits lost: model=%d temp=%v", stored.LLMModelID, stored.Temperature)
	}
	if stored.ContextSizeConsumed != 17 || stored.DateUsed.IsZero() {
		t.Fatalf("generation fields not saved: %+v", stored)
	}
	snap := h.sess.Snapshot().Chat
	if snap.LLMModelID != other.ID || snap.Temperature != 0.9 || snap.ContextSizeConsumed != 17 {
		t.Fatalf("state edits lost: %+v", *snap)
	}
}
