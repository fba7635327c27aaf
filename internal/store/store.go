package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"localchat/internal/session"
	"localchat/pkg/types"
)

// Chat defaults applied by CreateChat to zero fields.
const (
	DefaultChatName    = "New chat"
	DefaultTemperature = 0.8
	DefaultMinP        = 0.1
	DefaultContextSize = 2048
)

const chatColumns = "id, name, llm_model_id, system_prompt, min_p, temperature, context_size, context_size_consumed, is_task, date_used, date_created"

// Store is the SQLite persistence gateway for models, chats and messages.
type Store struct {
	db           *sql.DB
	systemPrompt string
	now          func() time.Time
}

// New wraps db. systemPrompt seeds chats created without one.
func New(db *sql.DB, systemPrompt string) *Store {
	return &Store{db: db, systemPrompt: systemPrompt, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ---- models ----

// GetModelFromID returns the model with id, or false when none exists.
func (s *Store) GetModelFromID(ctx context.Context, id int64) (types.Model, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name, path, quant, family, context_size FROM models WHERE id = ?", id)
	var m types.Model
	if err := row.Scan(&m.ID, &m.Name, &m.Path, &m.Quant, &m.Family, &m.ContextSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Model{}, false, nil
		}
		return types.Model{}, false, fmt.Errorf("get model: %w", err)
	}
	return m, true, nil
}

// ListModels returns every known model ordered by name.
func (s *Store) ListModels(ctx context.Context) ([]types.Model, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, path, quant, family, context_size FROM models ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()
	models := []types.Model{}
	for rows.Next() {
		var m types.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Path, &m.Quant, &m.Family, &m.ContextSize); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// UpsertModel inserts m or refreshes the row with the same path, and returns
// it with its id.
func (s *Store) UpsertModel(ctx context.Context, m types.Model) (types.Model, error) {
	query := `
		INSERT INTO models (name, path, quant, family, context_size) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET name = excluded.name, quant = excluded.quant, family = excluded.family, context_size = excluded.context_size
	`
	if _, err := s.db.ExecContext(ctx, query, m.Name, m.Path, m.Quant, m.Family, m.ContextSize); err != nil {
		return types.Model{}, fmt.Errorf("upsert model: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM models WHERE path = ?", m.Path).Scan(&m.ID); err != nil {
		return types.Model{}, fmt.Errorf("read model id: %w", err)
	}
	return m, nil
}

// DeleteModel removes model id and unassigns it from every chat.
func (s *Store) DeleteModel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "UPDATE chats SET llm_model_id = ? WHERE llm_model_id = ?", types.UnassignedModelID, id); err != nil {
		return fmt.Errorf("unassign model: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM models WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return tx.Commit()
}

// ---- chats ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (types.Chat, error) {
	var c types.Chat
	err := r.Scan(&c.ID, &c.Name, &c.LLMModelID, &c.SystemPrompt, &c.MinP, &c.Temperature,
		&c.ContextSize, &c.ContextSizeConsumed, &c.IsTask, &c.DateUsed, &c.DateCreated)
	return c, err
}

// LoadDefaultChat returns the most recently used chat, creating one when the
// store has none.
func (s *Store) LoadDefaultChat(ctx context.Context) (types.Chat, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats ORDER BY date_used DESC, id DESC LIMIT 1")
	c, err := scanChat(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.Chat{}, fmt.Errorf("load default chat: %w", err)
	}
	return s.CreateChat(ctx, types.Chat{LLMModelID: types.UnassignedModelID})
}

// GetChats returns all chats, most recently used first.
func (s *Store) GetChats(ctx context.Context) ([]types.Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+chatColumns+" FROM chats ORDER BY date_used DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()
	chats := []types.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns chat id or a chat-not-found error.
func (s *Store) GetChat(ctx context.Context, id int64) (types.Chat, error) {
	c, err := scanChat(s.db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Chat{}, session.ErrChatNotFound(id)
		}
		return types.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

// CreateChat inserts c with defaults for zero fields and returns it with its id.
func (s *Store) CreateChat(ctx context.Context, c types.Chat) (types.Chat, error) {
	now := s.now()
	if c.Name == "" {
		c.Name = DefaultChatName
	}
	if c.LLMModelID == 0 {
		c.LLMModelID = types.UnassignedModelID
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = s.systemPrompt
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MinP == 0 {
		c.MinP = DefaultMinP
	}
	if c.ContextSize == 0 {
		c.ContextSize = DefaultContextSize
	}
	if c.DateCreated.IsZero() {
		c.DateCreated = now
	}
	if c.DateUsed.IsZero() {
		c.DateUsed = now
	}
	// text-ordered DATETIME columns only sort correctly in one zone
	c.DateCreated, c.DateUsed = c.DateCreated.UTC(), c.DateUsed.UTC()
	query := `
		INSERT INTO chats (name, llm_model_id, system_prompt, min_p, temperature, context_size, context_size_consumed, is_task, date_used, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query, c.Name, c.LLMModelID, c.SystemPrompt, c.MinP, c.Temperature,
		c.ContextSize, c.ContextSizeConsumed, c.IsTask, c.DateUsed, c.DateCreated)
	if err != nil {
		return types.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return types.Chat{}, fmt.Errorf("read chat id: %w", err)
	}
	return c, nil
}

// UpdateChat overwrites every column of chat c.ID.
func (s *Store) UpdateChat(ctx context.Context, c types.Chat) error {
	query := `
		UPDATE chats SET name = ?, llm_model_id = ?, system_prompt = ?, min_p = ?, temperature = ?,
			context_size = ?, context_size_consumed = ?, is_task = ?, date_used = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, c.Name, c.LLMModelID, c.SystemPrompt, c.MinP, c.Temperature,
		c.ContextSize, c.ContextSizeConsumed, c.IsTask, c.DateUsed.UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return requireRow(res, c.ID)
}

// TouchChat sets the last-used time of chat id, leaving other columns alone.
func (s *Store) TouchChat(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET date_used = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return requireRow(res, id)
}

// SetContextSizeConsumed records how much of chat id's context window the
// last generation used.
func (s *Store) SetContextSizeConsumed(ctx context.Context, id int64, n int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET context_size_consumed = ? WHERE id = ?", n, id)
	if err != nil {
		return fmt.Errorf("set context size consumed: %w", err)
	}
	return requireRow(res, id)
}

// DeleteChat removes chat id and its messages.
func (s *Store) DeleteChat(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrChatNotFound(id)
	}
	return nil
}

// ---- messages ----

// GetMessages returns the turns of chat chatID in insertion order.
func (s *Store) GetMessages(ctx context.Context, chatID int64) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, chat_id, text, is_user_message, created_at FROM messages WHERE chat_id = ? ORDER BY id ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	msgs := []types.Message{}
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Text, &m.IsUserMessage, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AddUserMessage appends a user turn.
func (s *Store) AddUserMessage(ctx context.Context, chatID int64, text string) error {
	return s.addMessage(ctx, chatID, text, true)
}

// AddAssistantMessage appends a model turn.
func (s *Store) AddAssistantMessage(ctx context.Context, chatID int64, text string) error {
	return s.addMessage(ctx, chatID, text, false)
}

func (s *Store) addMessage(ctx context.Context, chatID int64, text string, user bool) error {
	query := "INSERT INTO messages (chat_id, text, is_user_message, created_at) VALUES (?, ?, ?, ?)"
	if _, err := s.db.ExecContext(ctx, query, chatID, text, user, s.now()); err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}
	return nil
}

// DeleteMessages removes every turn of chat chatID.
func (s *Store) DeleteMessages(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
