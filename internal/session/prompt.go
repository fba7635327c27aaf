package session

import (
	"context"
	"fmt"
	"strings"
)

// minContexts is the number of retrieved passages the provenance message shows.
const minContexts = 2

// RetrievalService produces a grounded prompt for a query. It returns an
// error satisfying IsRetrievalUnavailable while its assets are still loading.
type RetrievalService interface {
	GetPrompt(ctx context.Context, query string) (RetrievalPrompt, error)
}

// PromptBuilder turns a raw query into the prompt sent to the backend and the
// provenance message recorded as the user turn.
type PromptBuilder struct {
	retrieval RetrievalService
}

// NewPromptBuilder returns a builder backed by r. A nil r disables retrieval:
// queries pass through unchanged.
func NewPromptBuilder(r RetrievalService) *PromptBuilder {
	return &PromptBuilder{retrieval: r}
}

// Grounded reports whether prompts are built from retrieved contexts.
func (b *PromptBuilder) Grounded() bool { return b.retrieval != nil }

// BuildPrompt asks the retrieval service for a prompt and checks its shape.
func (b *PromptBuilder) BuildPrompt(ctx context.Context, query string) (RetrievalPrompt, error) {
	if b.retrieval == nil {
		return RetrievalPrompt{Query: query, UserMessage: query}, nil
	}
	p, err := b.retrieval.GetPrompt(ctx, query)
	if err != nil {
		return RetrievalPrompt{}, err
	}
	if len(p.Contexts) < minContexts {
		return RetrievalPrompt{}, fmt.Errorf("retrieval returned %d contexts, need at least %d", len(p.Contexts), minContexts)
	}
	if p.Query == "" {
		p.Query = query
	}
	if p.UserMessage == "" {
		return RetrievalPrompt{}, fmt.Errorf("retrieval returned an empty user message")
	}
	return p, nil
}

// Provenance returns the user-facing record of p: the query alone for plain
// chats, ProvenanceMessage otherwise.
func (b *PromptBuilder) Provenance(p RetrievalPrompt) string {
	if !b.Grounded() {
		return p.Query
	}
	return ProvenanceMessage(p)
}

// ProvenanceMessage formats the first two contexts and the query:
//
//	Context <c0>\n\nContext <c1>\n\nQuery: <query>
//
// The format is stored with the chat history and must not change.
func ProvenanceMessage(p RetrievalPrompt) string {
	var sb strings.Builder
	for i := 0; i < minContexts && i < len(p.Contexts); i++ {
		sb.WriteString("Context ")
		sb.WriteString(p.Contexts[i])
		sb.WriteString("\n\n")
	}
	sb.WriteString("Query: ")
	sb.WriteString(p.Query)
	return sb.String()
}
