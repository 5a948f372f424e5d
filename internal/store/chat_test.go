package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/store"
)

func TestChatSession_InheritsWorkspaceMode(t *testing.T) {
	base := setupTestBase(t)
	chats := store.NewChatStore(base)
	ctx := context.Background()

	w := createTestWorkspace(t, base, models.ModeGraph)

	session, err := chats.CreateSession(ctx, w.ID, w.RagMode)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if session.RagMode != models.ModeGraph {
		t.Errorf("session should copy the workspace mode, got %s", session.RagMode)
	}

	got, err := chats.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	if got.WorkspaceID != w.ID {
		t.Errorf("workspace binding lost: %s", got.WorkspaceID)
	}
}

func TestChatMessages_OrderedWithContext(t *testing.T) {
	base := setupTestBase(t)
	chats := store.NewChatStore(base)
	ctx := context.Background()

	w := createTestWorkspace(t, base, models.ModeVector)

	session, err := chats.CreateSession(ctx, w.ID, w.RagMode)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := chats.AppendMessage(ctx, &models.ChatMessage{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   "what is a quarry?",
	}); err != nil {
		t.Fatalf("append user: %v", err)
	}

	if _, err := chats.AppendMessage(ctx, &models.ChatMessage{
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   "an open excavation",
		RetrievedContext: []models.RetrievedChunk{
			{Provenance: models.ProvenanceVector, Text: "a quarry is an open pit", Score: 0.91},
		},
	}); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := chats.GetMessages(ctx, session.ID, 100, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("messages out of order: %s, %s", msgs[0].Role, msgs[1].Role)
	}

	if len(msgs[0].RetrievedContext) != 0 {
		t.Error("user turns carry no retrieved context")
	}

	rc := msgs[1].RetrievedContext
	if len(rc) != 1 || rc[0].Provenance != models.ProvenanceVector || rc[0].Score != 0.91 {
		t.Errorf("retrieved context lost in round trip: %+v", rc)
	}
}

func TestDeleteSession_RemovesHistory(t *testing.T) {
	base := setupTestBase(t)
	chats := store.NewChatStore(base)
	ctx := context.Background()

	w := createTestWorkspace(t, base, models.ModeVector)

	session, err := chats.CreateSession(ctx, w.ID, w.RagMode)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := chats.AppendMessage(ctx, &models.ChatMessage{
		SessionID: session.ID, Role: models.RoleUser, Content: "hello",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := chats.DeleteSession(ctx, session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := chats.GetSession(ctx, session.ID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if err := chats.DeleteSession(ctx, uuid.New()); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("deleting unknown session: expected ErrSessionNotFound, got %v", err)
	}
}
