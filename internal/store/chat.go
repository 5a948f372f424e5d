package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quarryworks/quarry/internal/models"
)

// ChatStore handles chat sessions and their immutable message history.
type ChatStore struct {
	Base
}

// NewChatStore creates a new ChatStore.
func NewChatStore(base Base) *ChatStore {
	return &ChatStore{Base: base}
}

// CreateSession opens a session bound to a workspace, copying the workspace's
// rag mode so retrieval routing stays stable for the session's lifetime.
func (s *ChatStore) CreateSession(ctx context.Context, workspaceID uuid.UUID, mode models.RagMode) (*models.ChatSession, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	session := &models.ChatSession{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		RagMode:     mode,
	}

	err := s.Pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, workspace_id, rag_mode)
		VALUES ($1, $2, $3) RETURNING created_at`,
		session.ID, workspaceID, mode).Scan(&session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting chat session: %w", translateDBError(err))
	}

	return session, nil
}

// GetSession returns a session by ID.
func (s *ChatStore) GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var session models.ChatSession

	err := s.Pool.QueryRow(ctx,
		"SELECT id, workspace_id, rag_mode, created_at FROM chat_sessions WHERE id = $1", id).
		Scan(&session.ID, &session.WorkspaceID, &session.RagMode, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}

		return nil, fmt.Errorf("scanning chat session: %w", err)
	}

	return &session, nil
}

// ListSessions returns a workspace's sessions, newest first.
func (s *ChatStore) ListSessions(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]models.ChatSession, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT id, workspace_id, rag_mode, created_at FROM chat_sessions
		WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chat sessions: %w", err)
	}
	defer rows.Close()

	var out []models.ChatSession

	for rows.Next() {
		var session models.ChatSession
		if err := rows.Scan(&session.ID, &session.WorkspaceID, &session.RagMode, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}

		out = append(out, session)
	}

	return out, rows.Err()
}

// AppendMessage writes one turn to a session's history.
func (s *ChatStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	var contextJSON []byte

	if len(msg.RetrievedContext) > 0 {
		var err error

		contextJSON, err = json.Marshal(msg.RetrievedContext)
		if err != nil {
			return nil, fmt.Errorf("marshaling retrieved context: %w", err)
		}
	}

	err := s.Pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, retrieved_context)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, contextJSON).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting chat message: %w", translateDBError(err))
	}

	return msg, nil
}

// GetMessages returns a session's history in chronological order.
func (s *ChatStore) GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 100
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		`SELECT id, session_id, role, content, retrieved_context, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage

	for rows.Next() {
		var (
			msg         models.ChatMessage
			contextJSON []byte
		)

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &contextJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &msg.RetrievedContext); err != nil {
				return nil, fmt.Errorf("decoding retrieved context: %w", err)
			}
		}

		out = append(out, msg)
	}

	return out, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *ChatStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, "DELETE FROM chat_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting chat session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}

	return nil
}
