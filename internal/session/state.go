package session

import (
	"strings"
	"sync"
	"time"

	"localchat/pkg/types"
)

// State is the observable container for one session. Every mutation happens
// under mu and is published before mu is released, so the event order seen by
// subscribers is exactly the order in which writes were applied.
//
// Writes made on behalf of a generation carry its id and are ignored once that
// generation is no longer the active one. A task that lost a race with Stop
// therefore cannot repopulate the buffer or raise the generating flag.
type State struct {
	mu  sync.Mutex
	seq uint64
	pub EventPublisher
	bus *Bus

	chat        *types.Chat
	loadState   LoadState
	phase       Phase
	generating  bool
	activeGen   string
	fragments   []string
	partial     strings.Builder
	lastSpeed   float64
	lastSeconds int
	err         *types.RecoverableError
	updatedAt   time.Time

	showModelPicker bool
	showOptions     bool
	showTaskList    bool
}

// NewState creates a State publishing to bus (may be nil) and any extra publishers.
func NewState(bus *Bus, extra ...EventPublisher) *State {
	s := &State{loadState: LoadNotLoaded, phase: PhaseIdle, bus: bus}
	var pubs multiPublisher
	if bus != nil {
		pubs = append(pubs, bus)
	}
	pubs = append(pubs, extra...)
	if len(pubs) == 0 {
		s.pub = noopPublisher{}
	} else {
		s.pub = pubs
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns the current snapshot together with a channel of every
// event published after it. Nothing is lost or repeated between the two.
func (s *State) Subscribe(buffer int) (Snapshot, <-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	if s.bus == nil {
		ch := make(chan Event)
		close(ch)
		return snap, ch, func() {}
	}
	ch, cancel := s.bus.Subscribe(s.seq, buffer)
	return snap, ch, cancel
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		LoadState:       s.loadState,
		Phase:           s.phase,
		Generating:      s.generating,
		Partial:         s.partial.String(),
		Fragments:       len(s.fragments),
		LastSpeed:       s.lastSpeed,
		LastSeconds:     s.lastSeconds,
		ShowModelPicker: s.showModelPicker,
		ShowOptions:     s.showOptions,
		ShowTaskList:    s.showTaskList,
		UpdatedAt:       s.updatedAt,
	}
	if s.chat != nil {
		c := *s.chat
		snap.Chat = &c
	}
	if s.err != nil {
		e := *s.err
		snap.Err = &e
	}
	return snap
}

func (s *State) publishLocked(name string, fields map[string]any) {
	s.seq++
	s.updatedAt = time.Now()
	var chatID int64
	if s.chat != nil {
		chatID = s.chat.ID
	}
	s.pub.Publish(Event{Seq: s.seq, Name: name, ChatID: chatID, Fields: fields, State: s.snapshotLocked()})
}

// Chat returns a copy of the active chat, or nil.
func (s *State) Chat() *types.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil {
		return nil
	}
	c := *s.chat
	return &c
}

// SetChat makes c the active chat (nil clears it).
func (s *State) SetChat(c *types.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		s.chat = nil
	} else {
		cc := *c
		s.chat = &cc
	}
	s.publishLocked(EventChatSelected, nil)
}

// UpdateChat replaces the active chat if it has the same id. It reports
// whether the active chat was updated.
func (s *State) UpdateChat(c types.Chat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil || s.chat.ID != c.ID {
		return false
	}
	s.chat = &c
	s.publishLocked(EventChatUpdated, nil)
	return true
}

// PatchChat applies fn to the active chat when it is chat id, keeping every
// field fn does not touch.
func (s *State) PatchChat(id int64, fn func(*types.Chat)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat == nil || s.chat.ID != id {
		return false
	}
	c := *s.chat
	fn(&c)
	s.chat = &c
	s.publishLocked(EventChatUpdated, nil)
	return true
}

// LoadState returns the current backend load state.
func (s *State) LoadState() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadState
}

// SetLoadState records a lifecycle transition.
func (s *State) SetLoadState(ls LoadState, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadState = ls
	s.publishLocked(EventLoadState, fields)
}

// RequireSelection raises the "pick a model" signal without touching the load state.
func (s *State) RequireSelection(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showModelPicker = true
	s.publishLocked(EventSelectionRequired, map[string]any{"reason": reason})
}

// BeginGeneration makes id the active generation and resets the buffer.
func (s *State) BeginGeneration(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeGen = id
	s.resetPartialLocked()
	s.phase = PhaseLoading
	s.publishLocked(EventPhase, map[string]any{"generation_id": id, "phase": string(PhaseLoading)})
}

// IsActive reports whether id is the running generation.
func (s *State) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id != "" && s.activeGen == id
}

// SetPhase moves generation id to phase p.
func (s *State) SetPhase(id string, p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != id {
		return false
	}
	s.phase = p
	s.publishLocked(EventPhase, map[string]any{"generation_id": id, "phase": string(p)})
	return true
}

// SetGenerating sets the generating flag on behalf of generation id.
func (s *State) SetGenerating(id string, v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != id {
		return false
	}
	s.generating = v
	s.publishLocked(EventGenerating, map[string]any{"generation_id": id, "generating": v})
	return true
}

// AppendFragment appends one streamed fragment in arrival order.
func (s *State) AppendFragment(id, fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != id {
		return false
	}
	s.fragments = append(s.fragments, fragment)
	s.partial.WriteString(fragment)
	s.publishLocked(EventFragment, map[string]any{"fragment": fragment})
	return true
}

// Fragments returns a copy of the partial buffer.
func (s *State) Fragments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.fragments))
	copy(out, s.fragments)
	return out
}

// CompleteGeneration records metrics and retires generation id.
func (s *State) CompleteGeneration(id string, speed float64, seconds int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != id {
		return false
	}
	s.lastSpeed = speed
	s.lastSeconds = seconds
	s.publishLocked(EventMetrics, map[string]any{"speed": speed, "seconds": seconds})
	s.retireLocked(id, OutcomeCompleted)
	return true
}

// FailGeneration clears in-flight output, retires generation id and raises e.
func (s *State) FailGeneration(id string, e types.RecoverableError) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != id {
		return false
	}
	s.retireLocked(id, OutcomeErrored)
	s.err = &e
	s.publishLocked(EventRecoverableError, map[string]any{"generation_id": id})
	return true
}

// EndGeneration retires generation id without recording metrics.
func (s *State) EndGeneration(id string, outcome Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != id {
		return false
	}
	s.retireLocked(id, outcome)
	return true
}

func (s *State) retireLocked(id string, outcome Outcome) {
	s.activeGen = ""
	s.generating = false
	s.phase = PhaseIdle
	s.resetPartialLocked()
	s.publishLocked(EventGenerating, map[string]any{"generation_id": id, "generating": false, "outcome": string(outcome)})
}

// Stop clears the generating flag and the buffer and detaches the active
// generation. It returns the id that was active, if any.
func (s *State) Stop() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.activeGen
	s.activeGen = ""
	s.generating = false
	s.phase = PhaseIdle
	s.resetPartialLocked()
	s.publishLocked(EventPartialReset, map[string]any{"generation_id": prev})
	return prev
}

func (s *State) resetPartialLocked() {
	s.fragments = nil
	s.partial.Reset()
}

// RaiseError publishes a recoverable error for the UI.
func (s *State) RaiseError(e types.RecoverableError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = &e
	s.publishLocked(EventRecoverableError, nil)
}

// DismissError clears the last recoverable error.
func (s *State) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = nil
	s.publishLocked(EventErrorDismissed, nil)
}

// SetModelPicker toggles model-picker visibility.
func (s *State) SetModelPicker(visible bool) { s.setVisibility(&s.showModelPicker, "model_picker", visible) }

// SetOptionsPopup toggles options-popup visibility.
func (s *State) SetOptionsPopup(visible bool) { s.setVisibility(&s.showOptions, "options_popup", visible) }

// SetTaskList toggles task-list visibility.
func (s *State) SetTaskList(visible bool) { s.setVisibility(&s.showTaskList, "task_list", visible) }

func (s *State) setVisibility(flag *bool, name string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*flag = visible
	s.publishLocked(EventVisibility, map[string]any{name: visible})
}
