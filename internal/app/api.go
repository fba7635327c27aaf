package app

import (
	"context"
	"sync"

	"localchat/internal/httpapi"
	"localchat/internal/session"
	"localchat/pkg/types"
)

var _ httpapi.Service = (*App)(nil)

func (a *App) ListModels(ctx context.Context) ([]types.Model, error) { return a.sess.ListModels(ctx) }
func (a *App) DeleteModel(ctx context.Context, id int64) error       { return a.sess.DeleteModel(ctx, id) }
func (a *App) SelectModel(ctx context.Context, id int64) error       { return a.sess.SelectModel(ctx, id) }
func (a *App) LoadModel(ctx context.Context) bool                    { return a.sess.LoadModel(ctx) }

func (a *App) ListChats(ctx context.Context) ([]types.Chat, error) { return a.sess.ListChats(ctx) }
func (a *App) GetChat(ctx context.Context, id int64) (types.Chat, error) {
	return a.sess.GetChat(ctx, id)
}
func (a *App) NewChat(ctx context.Context, c types.Chat) (types.Chat, error) {
	return a.sess.NewChat(ctx, c)
}
func (a *App) SwitchChat(ctx context.Context, id int64) error     { return a.sess.SwitchChat(ctx, id) }
func (a *App) UpdateChat(ctx context.Context, c types.Chat) error { return a.sess.UpdateChat(ctx, c) }
func (a *App) DeleteChat(ctx context.Context, id int64) error     { return a.sess.DeleteChat(ctx, id) }
func (a *App) Messages(ctx context.Context, chatID int64) ([]types.Message, error) {
	return a.sess.Messages(ctx, chatID)
}

// Query switches to req.ChatID when it names another chat, then starts a
// generation in the active chat.
func (a *App) Query(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error) {
	g, err := a.Ask(ctx, req.ChatID, req.Query)
	if err != nil {
		return types.QueryResponse{}, err
	}
	return types.QueryResponse{GenerationID: g.ID(), ChatID: g.ChatID()}, nil
}

// Ask is Query returning the generation handle, for callers that wait on it.
func (a *App) Ask(ctx context.Context, chatID int64, query string) (*session.Generation, error) {
	if chatID != 0 {
		if cur := a.sess.Snapshot().Chat; cur == nil || cur.ID != chatID {
			if err := a.sess.SwitchChat(ctx, chatID); err != nil {
				return nil, err
			}
		}
	}
	return a.sess.SendQuery(ctx, query)
}

func (a *App) Stop()         { a.sess.Stop() }
func (a *App) DismissError() { a.sess.DismissError() }

// Ready reports whether retrieval can serve prompts; always true when disabled.
func (a *App) Ready() bool { return a.retrieval == nil || a.retrieval.Ready() }

func (a *App) State() types.SessionState { return a.apiState(a.sess.Snapshot()) }

func (a *App) apiState(s session.Snapshot) types.SessionState {
	st := s.API()
	st.Retrieval = a.RetrievalState()
	return st
}

func (a *App) SetVisibility(p types.Panel, visible bool) {
	switch p {
	case types.PanelModelPicker:
		if visible {
			a.sess.ShowModelPicker()
		} else {
			a.sess.HideModelPicker()
		}
	case types.PanelOptions:
		if visible {
			a.sess.ShowOptionsPopup()
		} else {
			a.sess.HideOptionsPopup()
		}
	case types.PanelTaskList:
		if visible {
			a.sess.ShowTaskList()
		} else {
			a.sess.HideTaskList()
		}
	}
}

// Subscribe converts session events into their wire form. The returned
// channel closes when the session drops the subscriber or cancel is called.
func (a *App) Subscribe(buffer int) (types.SessionState, <-chan types.EventMessage, func()) {
	snap, in, cancel := a.sess.Subscribe(buffer)
	out := make(chan types.EventMessage, cap(in))
	done := make(chan struct{})
	go func() {
		defer close(out)
		for ev := range in {
			msg := types.EventMessage{
				Seq:    ev.Seq,
				Name:   ev.Name,
				ChatID: ev.ChatID,
				Fields: ev.Fields,
				State:  a.apiState(ev.State),
			}
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return a.apiState(snap), out, func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
}
