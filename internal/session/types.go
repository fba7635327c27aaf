package session

import (
	"time"

	"localchat/pkg/types"
)

// LoadState is the lifecycle state of the backend for the active chat.
type LoadState string

const (
	LoadNotLoaded  LoadState = "not_loaded"
	LoadInProgress LoadState = "in_progress"
	LoadSuccess    LoadState = "success"
	LoadFailure    LoadState = "failure"
)

// Phase is the position of the generation task in its state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseLoading        Phase = "loading"
	PhasePromptBuilding Phase = "prompt_building"
	PhaseStreaming      Phase = "streaming"
)

// Outcome is how a generation task ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeErrored   Outcome = "errored"
	// OutcomeNotStarted means the model could not be loaded; the lifecycle
	// already signaled the reason.
	OutcomeNotStarted Outcome = "not_started"
)

// RetrievalPrompt is the grounded prompt for one query.
type RetrievalPrompt struct {
	Query string
	// Contexts are the retrieved passages in ranking order.
	Contexts []string
	// UserMessage is what the backend receives.
	UserMessage string
}

// Snapshot is a read-only projection of State.
type Snapshot struct {
	Chat            *types.Chat
	LoadState       LoadState
	Phase           Phase
	Generating      bool
	Partial         string
	Fragments       int
	LastSpeed       float64
	LastSeconds     int
	ShowModelPicker bool
	ShowOptions     bool
	ShowTaskList    bool
	Err             *types.RecoverableError
	UpdatedAt       time.Time
}

// API converts the snapshot into its wire form.
func (s Snapshot) API() types.SessionState {
	out := types.SessionState{
		LoadState:       string(s.LoadState),
		Phase:           string(s.Phase),
		Generating:      s.Generating,
		Partial:         s.Partial,
		LastSpeed:       s.LastSpeed,
		LastSeconds:     s.LastSeconds,
		ShowModelPicker: s.ShowModelPicker,
		ShowOptions:     s.ShowOptions,
		ShowTaskList:    s.ShowTaskList,
	}
	if s.Chat != nil {
		c := *s.Chat
		out.Chat = &c
	}
	if s.Err != nil {
		e := *s.Err
		out.Error = &e
	}
	return out
}
