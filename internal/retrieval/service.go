package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTopK is how many passages a prompt carries when TopK is unset.
const DefaultTopK = 4

// Engine ranks chunks for a query. Load is called once, before any Search.
type Engine interface {
	Load(ctx context.Context, a Assets) error
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Service wraps an Engine with two-phase readiness: assets load in the
// background while GetPrompt reports ErrNotReady until they are in place.
type Service struct {
	engine Engine
	topK   int
	log    zerolog.Logger

	mu      sync.RWMutex
	state   ReadyState
	loadErr error
	loaded  chan struct{}
}

// NewService returns a Service in StateNotStarted. topK <= 0 uses DefaultTopK.
func NewService(engine Engine, topK int, log zerolog.Logger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{engine: engine, topK: topK, log: log, state: StateNotStarted, loaded: make(chan struct{})}
}

// State returns the readiness state.
func (s *Service) State() ReadyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the load failure, if any.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Ready reports whether GetPrompt can answer.
func (s *Service) Ready() bool { return s.State() == StateReady }

// Loaded is closed once loading finished, successfully or not.
func (s *Service) Loaded() <-chan struct{} { return s.loaded }

// Load loads assets synchronously. Only the first call does any work.
func (s *Service) Load(ctx context.Context, a Assets) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		st, err := s.state, s.loadErr
		s.mu.Unlock()
		if st == StateLoading {
			return errors.New("retrieval load already in progress")
		}
		return err
	}
	s.state = StateLoading
	s.mu.Unlock()

	start := time.Now()
	s.log.Info().Str("chunks", a.Chunks).Msg("retrieval event=load_start")
	err := s.engine.Load(ctx, a)

	s.mu.Lock()
	if err != nil {
		s.state = StateLoadFailed
		s.loadErr = err
	} else {
		s.state = StateReady
	}
	s.mu.Unlock()
	close(s.loaded)

	if err != nil {
		s.log.Error().Err(err).Msg("retrieval event=load_failed")
		return err
	}
	s.log.Info().Dur("dur", time.Since(start)).Msg("retrieval event=load_ready")
	return nil
}

// Start loads assets in the background and returns immediately.
func (s *Service) Start(ctx context.Context, a Assets) {
	go func() { _ = s.Load(ctx, a) }()
}

// GetPrompt retrieves passages for query and formats the grounded prompt.
func (s *Service) GetPrompt(ctx context.Context, query string) (Prompt, error) {
	s.mu.RLock()
	st, loadErr := s.state, s.loadErr
	s.mu.RUnlock()
	if st != StateReady {
		return Prompt{}, ErrNotReady(st, loadErr)
	}
	hits, err := s.engine.Search(ctx, query, s.topK)
	if err != nil {
		return Prompt{}, fmt.Errorf("search: %w", err)
	}
	contexts := make([]string, 0, len(hits))
	for _, h := range hits {
		contexts = append(contexts, h.Chunk.Text)
	}
	return Prompt{Query: query, Contexts: contexts, UserMessage: FormatUserMessage(contexts, query)}, nil
}

// FormatUserMessage renders the passages as a numbered list followed by the
// question.
func FormatUserMessage(contexts []string, query string) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below.\n\n")
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, strings.TrimSpace(c))
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}
