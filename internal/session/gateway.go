package session

import (
	"context"
	"time"

	"localchat/pkg/types"
)

// ModelRepository resolves model metadata by id.
type ModelRepository interface {
	// GetModelFromID returns the model and true, or false when no model has that id.
	GetModelFromID(ctx context.Context, id int64) (types.Model, bool, error)
}

// Gateway is the persistence collaborator for chats, messages and models.
// Calls are expected to be fast; the session does not retry them.
type Gateway interface {
	ModelRepository

	LoadDefaultChat(ctx context.Context) (types.Chat, error)
	GetChats(ctx context.Context) ([]types.Chat, error)
	GetChat(ctx context.Context, id int64) (types.Chat, error)
	CreateChat(ctx context.Context, c types.Chat) (types.Chat, error)
	UpdateChat(ctx context.Context, c types.Chat) error
	TouchChat(ctx context.Context, id int64, at time.Time) error
	SetContextSizeConsumed(ctx context.Context, id int64, n int) error
	DeleteChat(ctx context.Context, id int64) error

	GetMessages(ctx context.Context, chatID int64) ([]types.Message, error)
	AddUserMessage(ctx context.Context, chatID int64, text string) error
	AddAssistantMessage(ctx context.Context, chatID int64, text string) error
	DeleteMessages(ctx context.Context, chatID int64) error

	ListModels(ctx context.Context) ([]types.Model, error)
	DeleteModel(ctx context.Context, id int64) error
}

// historyReplayer is implemented by backends that can be primed with earlier
// turns after Create.
type historyReplayer interface {
	AddUserMessage(text string)
	AddAssistantMessage(text string)
}
