package api_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/api"
	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
	"github.com/quarryworks/quarry/internal/storage"
)

func newDocumentRouter(workspaces *mockWorkspaceService, documents *mockDocumentService, objects storage.ObjectStore, b *mockBus) *gin.Engine {
	r := newTestRouter()
	h := api.NewDocumentHandler(workspaces, documents, objects, b, testLogger())

	r.POST("/workspaces/:id/documents", h.Upload)
	r.GET("/workspaces/:id/documents", h.List)
	r.GET("/documents/:id", h.Get)

	return r
}

func TestDocumentUpload_AcceptedAndEnqueued(t *testing.T) {
	b := &mockBus{}
	objects := storage.NewMemory()
	w := readyWorkspace(models.ModeVector)

	var gotReq models.UploadDocumentRequest

	workspaces := &mockWorkspaceService{
		getFn: func(context.Context, uuid.UUID) (*models.Workspace, error) { return w, nil },
	}
	documents := &mockDocumentService{
		createFn: func(_ context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest) (*models.Document, error) {
			gotReq = req

			return &models.Document{ID: uuid.New(), WorkspaceID: workspaceID, Status: models.DocPending}, nil
		},
	}

	r := newDocumentRouter(workspaces, documents, objects, b)

	rec := doRequestWith(r, http.MethodPost, "/workspaces/"+w.ID.String()+"/documents",
		"# Title\n\nBody text.", "text/markdown")

	assertStatus(t, rec, http.StatusAccepted)
	assertBodyContains(t, rec, `"pending"`)

	if gotReq.MimeType != "text/markdown" {
		t.Errorf("mime type not taken from Content-Type: %q", gotReq.MimeType)
	}

	// Bytes landed under the workspace prefix before the row was created.
	if !strings.HasPrefix(gotReq.SourceURI, "mem://"+w.StoragePrefix()+"/") {
		t.Errorf("source URI outside workspace prefix: %q", gotReq.SourceURI)
	}

	if objects.Len() != 1 {
		t.Errorf("expected the upload stored, got %d objects", objects.Len())
	}

	env, ok := b.lastOn(bus.TopicDocumentUploaded)
	if !ok {
		t.Fatal("expected document.uploaded on the bus")
	}

	if env.WorkspaceID != w.ID || env.DocumentID == uuid.Nil {
		t.Errorf("uploaded event incomplete: %+v", env)
	}
}

func TestDocumentUpload_WorkspaceNotReady(t *testing.T) {
	w := readyWorkspace(models.ModeVector)
	w.Status = models.WorkspaceProvisioning

	workspaces := &mockWorkspaceService{
		getFn: func(context.Context, uuid.UUID) (*models.Workspace, error) { return w, nil },
	}

	r := newDocumentRouter(workspaces, &mockDocumentService{}, storage.NewMemory(), &mockBus{})

	rec := doRequestWith(r, http.MethodPost, "/workspaces/"+w.ID.String()+"/documents", "text", "text/plain")

	assertStatus(t, rec, http.StatusConflict)
	assertBodyContains(t, rec, "workspace_not_ready")
}

func TestDocumentUpload_EmptyBody(t *testing.T) {
	w := readyWorkspace(models.ModeVector)

	workspaces := &mockWorkspaceService{
		getFn: func(context.Context, uuid.UUID) (*models.Workspace, error) { return w, nil },
	}

	r := newDocumentRouter(workspaces, &mockDocumentService{}, storage.NewMemory(), &mockBus{})

	rec := doRequestWith(r, http.MethodPost, "/workspaces/"+w.ID.String()+"/documents", "", "text/plain")

	assertStatus(t, rec, http.StatusBadRequest)
	assertBodyContains(t, rec, "empty document")
}

func TestDocumentUpload_UnknownWorkspace(t *testing.T) {
	workspaces := &mockWorkspaceService{
		getFn: func(context.Context, uuid.UUID) (*models.Workspace, error) {
			return nil, models.ErrWorkspaceNotFound
		},
	}

	r := newDocumentRouter(workspaces, &mockDocumentService{}, storage.NewMemory(), &mockBus{})

	rec := doRequestWith(r, http.MethodPost, "/workspaces/"+uuid.New().String()+"/documents", "text", "text/plain")

	assertStatus(t, rec, http.StatusNotFound)
}

func TestDocumentGet_NotFound(t *testing.T) {
	documents := &mockDocumentService{
		getFn: func(context.Context, uuid.UUID) (*models.Document, error) {
			return nil, models.ErrDocumentNotFound
		},
	}

	r := newDocumentRouter(&mockWorkspaceService{}, documents, storage.NewMemory(), &mockBus{})

	rec := doRequest(r, http.MethodGet, "/documents/"+uuid.New().String(), "")

	assertStatus(t, rec, http.StatusNotFound)
	assertBodyContains(t, rec, "not_found")
}

func TestDocumentList_PassesPagination(t *testing.T) {
	var gotLimit, gotOffset int

	documents := &mockDocumentService{
		listFn: func(_ context.Context, _ uuid.UUID, limit, offset int) ([]models.Document, error) {
			gotLimit, gotOffset = limit, offset

			return nil, nil
		},
	}

	r := newDocumentRouter(&mockWorkspaceService{}, documents, storage.NewMemory(), &mockBus{})

	rec := doRequest(r, http.MethodGet, "/workspaces/"+uuid.New().String()+"/documents?limit=5&offset=10", "")

	assertStatus(t, rec, http.StatusOK)

	if gotLimit != 5 || gotOffset != 10 {
		t.Errorf("pagination not passed through: limit=%d offset=%d", gotLimit, gotOffset)
	}
}
