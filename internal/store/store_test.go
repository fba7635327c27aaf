package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localchat/internal/registry"
	"localchat/internal/session"
	"localchat/pkg/types"
)

var (
	_ session.Gateway     = (*Store)(nil)
	_ registry.ModelStore = (*Store)(nil)
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func setupMock(t *testing.T) (*Store, *sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(db, "be helpful")
	s.now = func() time.Time { return fixedNow }
	return s, db, mock
}

func chatRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "llm_model_id", "system_prompt", "min_p", "temperature",
		"context_size", "context_size_consumed", "is_task", "date_used", "date_created"})
}

func TestStore_GetModelFromID(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - found", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		rows := sqlmock.NewRows([]string{"id", "name", "path", "quant", "family", "context_size"}).
			AddRow(3, "tiny", "/m/tiny.gguf", "Q8_0", "tiny", 0)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, path, quant, family, context_size FROM models WHERE id = ?")).
			WithArgs(3).WillReturnRows(rows)

		m, ok, err := s.GetModelFromID(ctx, 3)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "/m/tiny.gguf", m.Path)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success - missing is not an error", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT id, name, path").WithArgs(9).WillReturnError(sql.ErrNoRows)

		_, ok, err := s.GetModelFromID(ctx, 9)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - DB error", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT id, name, path").WillReturnError(errors.New("disk I/O error"))

		_, _, err := s.GetModelFromID(ctx, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk I/O error")
	})
}

func TestStore_UpsertModel(t *testing.T) {
	s, db, mock := setupMock(t)
	defer func() { _ = db.Close() }()
	m := types.Model{Name: "tiny (Q8_0)", Path: "/m/tiny-Q8_0.gguf", Quant: "Q8_0", Family: "tiny"}
	mock.ExpectExec("INSERT INTO models").
		WithArgs(m.Name, m.Path, m.Quant, m.Family, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM models WHERE path = ?")).
		WithArgs(m.Path).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	saved, err := s.UpsertModel(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, int64(7), saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteModel(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - unassigns chats", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE chats SET llm_model_id = ? WHERE llm_model_id = ?")).
			WithArgs(types.UnassignedModelID, 4).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM models WHERE id = ?")).
			WithArgs(4).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.DeleteModel(ctx, 4))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - rollback on delete error", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE chats").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM models").WillReturnError(errors.New("locked"))
		mock.ExpectRollback()

		err := s.DeleteModel(ctx, 4)
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_LoadDefaultChat(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - most recent chat", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT .* FROM chats ORDER BY date_used DESC").
			WillReturnRows(chatRows().AddRow(2, "recent", 1, "", 0.1, 0.8, 2048, 10, false, fixedNow, fixedNow))

		c, err := s.LoadDefaultChat(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.ID)
		assert.Equal(t, "recent", c.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success - creates when empty", func(t *testing.T) {
		s, db, mock := setupMock(t)
		defer func() { _ = db.Close() }()
		mock.ExpectQuery("SELECT .* FROM chats ORDER BY date_used DESC").WillReturnRows(chatRows())
		mock.ExpectExec("INSERT INTO chats").
			WithArgs(DefaultChatName, types.UnassignedModelID, "be helpful", sqlmock.AnyArg(), sqlmock.AnyArg(),
				DefaultContextSize, 0, false, fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))

		c, err := s.LoadDefaultChat(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.ID)
		assert.False(t, c.HasModel())
		assert.Equal(t, "be helpful", c.SystemPrompt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_GetChatNotFound(t *testing.T) {
	s, db, mock := setupMock(t)
	defer func() { _ = db.Close() }()
	mock.ExpectQuery("SELECT .* FROM chats WHERE id = ?").WithArgs(5).WillReturnRows(chatRows())

	_, err := s.GetChat(context.Background(), 5)
	assert.True(t, session.IsChatNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateChatNotFound(t *testing.T) {
	s, db, mock := setupMock(t)
	defer func() { _ = db.Close() }()
	mock.ExpectExec("UPDATE chats SET name").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateChat(context.Background(), types.Chat{ID: 11})
	assert.True(t, session.IsChatNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TouchChat(t *testing.T) {
	s, db, mock := setupMock(t)
	defer func() { _ = db.Close() }()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chats SET date_used = ? WHERE id = ?")).
		WithArgs(fixedNow, 4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chats SET context_size_consumed = ? WHERE id = ?")).
		WithArgs(256, 4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chats SET context_size_consumed = ? WHERE id = ?")).
		WithArgs(1, 9).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.TouchChat(context.Background(), 4, fixedNow))
	require.NoError(t, s.SetContextSizeConsumed(context.Background(), 4, 256))
	assert.True(t, session.IsChatNotFound(s.SetContextSizeConsumed(context.Background(), 9, 1)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteChat(t *testing.T) {
	s, db, mock := setupMock(t)
	defer func() { _ = db.Close() }()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE chat_id = ?")).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chats WHERE id = ?")).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteChat(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AddMessage(t *testing.T) {
	s, db, mock := setupMock(t)
	defer func() { _ = db.Close() }()
	mock.ExpectExec("INSERT INTO messages").WithArgs(3, "hi", true, fixedNow).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO messages").WithArgs(3, "hello", false, fixedNow).WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, s.AddUserMessage(context.Background(), 3, "hi"))
	require.NoError(t, s.AddAssistantMessage(context.Background(), 3, "hello"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
