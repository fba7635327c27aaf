package app

import (
	"context"

	"localchat/internal/retrieval"
	"localchat/internal/session"
)

// retrievalSource adapts a retrieval.Service to session.RetrievalService.
type retrievalSource struct {
	svc *retrieval.Service
}

func (r retrievalSource) GetPrompt(ctx context.Context, query string) (session.RetrievalPrompt, error) {
	p, err := r.svc.GetPrompt(ctx, query)
	if err != nil {
		if retrieval.IsNotReady(err) {
			return session.RetrievalPrompt{}, session.ErrRetrievalUnavailable(err.Error())
		}
		return session.RetrievalPrompt{}, err
	}
	return session.RetrievalPrompt{Query: p.Query, Contexts: p.Contexts, UserMessage: p.UserMessage}, nil
}

// RetrievalDisabled is reported as the retrieval state when no corpus is configured.
const RetrievalDisabled = "disabled"
