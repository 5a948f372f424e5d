package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/api"
	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
)

func newWorkspaceRouter(workspaces *mockWorkspaceService, documents *mockDocumentService, b *mockBus) *gin.Engine {
	r := newTestRouter()
	h := api.NewWorkspaceHandler(workspaces, documents, b, testLogger())

	r.POST("/workspaces", h.Create)
	r.GET("/workspaces/:id", h.Get)
	r.DELETE("/workspaces/:id", h.Delete)
	r.GET("/workspaces/:id/stats", h.Stats)

	return r
}

func TestWorkspaceCreate_AcceptedAndProvisionRequested(t *testing.T) {
	b := &mockBus{}
	created := readyWorkspace(models.ModeHybrid)
	created.Status = models.WorkspaceProvisioning

	workspaces := &mockWorkspaceService{
		createFn: func(_ context.Context, req models.CreateWorkspaceRequest) (*models.Workspace, *models.RagConfigSnapshot, error) {
			if req.Name != "docs" || req.RagMode != models.ModeHybrid {
				t.Errorf("request not passed through: %+v", req)
			}

			return created, &models.RagConfigSnapshot{ID: uuid.New(), WorkspaceID: created.ID}, nil
		},
	}

	r := newWorkspaceRouter(workspaces, &mockDocumentService{}, b)

	rec := doRequest(r, http.MethodPost, "/workspaces", `{"name":"docs","rag_mode":"hybrid"}`)

	assertStatus(t, rec, http.StatusAccepted)
	assertBodyContains(t, rec, `"provisioning"`)

	env, ok := b.lastOn(bus.TopicProvisionRequested)
	if !ok {
		t.Fatal("expected a provision request on the bus")
	}

	if env.WorkspaceID != created.ID {
		t.Errorf("provision request for wrong workspace: %s", env.WorkspaceID)
	}
}

func TestWorkspaceCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"name":`, "invalid_request"},
		{"missing name", `{"rag_mode":"vector"}`, "validation_error"},
		{"unknown mode", `{"name":"x","rag_mode":"psychic"}`, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newWorkspaceRouter(&mockWorkspaceService{}, &mockDocumentService{}, &mockBus{})

			rec := doRequest(r, http.MethodPost, "/workspaces", tt.body)

			assertStatus(t, rec, http.StatusBadRequest)
			assertBodyContains(t, rec, tt.want)
		})
	}
}

func TestWorkspaceDelete_PublishesDeletionRequest(t *testing.T) {
	b := &mockBus{}
	id := uuid.New()

	workspaces := &mockWorkspaceService{
		markDeletingFn: func(_ context.Context, got uuid.UUID) error {
			if got != id {
				t.Errorf("marked wrong workspace: %s", got)
			}

			return nil
		},
	}

	r := newWorkspaceRouter(workspaces, &mockDocumentService{}, b)

	rec := doRequest(r, http.MethodDelete, "/workspaces/"+id.String(), "")

	assertStatus(t, rec, http.StatusAccepted)

	if _, ok := b.lastOn(bus.TopicDeletionRequested); !ok {
		t.Error("expected a deletion request on the bus")
	}
}

func TestWorkspaceDelete_RepeatRepublishes(t *testing.T) {
	// A second DELETE while teardown runs must re-enqueue, not fail.
	b := &mockBus{}

	workspaces := &mockWorkspaceService{
		markDeletingFn: func(context.Context, uuid.UUID) error {
			return models.ErrResourceConflict
		},
	}

	r := newWorkspaceRouter(workspaces, &mockDocumentService{}, b)

	rec := doRequest(r, http.MethodDelete, "/workspaces/"+uuid.New().String(), "")

	assertStatus(t, rec, http.StatusAccepted)

	if _, ok := b.lastOn(bus.TopicDeletionRequested); !ok {
		t.Error("repeat delete should still publish the deletion request")
	}
}

func TestWorkspaceDelete_NotFound(t *testing.T) {
	workspaces := &mockWorkspaceService{
		markDeletingFn: func(context.Context, uuid.UUID) error {
			return models.ErrWorkspaceNotFound
		},
	}

	r := newWorkspaceRouter(workspaces, &mockDocumentService{}, &mockBus{})

	rec := doRequest(r, http.MethodDelete, "/workspaces/"+uuid.New().String(), "")

	assertStatus(t, rec, http.StatusNotFound)
}

func TestWorkspaceGet_InvalidUUID(t *testing.T) {
	r := newWorkspaceRouter(&mockWorkspaceService{}, &mockDocumentService{}, &mockBus{})

	rec := doRequest(r, http.MethodGet, "/workspaces/not-a-uuid", "")

	assertStatus(t, rec, http.StatusBadRequest)
	assertBodyContains(t, rec, "invalid_request")
}

func TestWorkspaceStats_AggregatesCounts(t *testing.T) {
	w := readyWorkspace(models.ModeVector)

	workspaces := &mockWorkspaceService{
		getFn: func(context.Context, uuid.UUID) (*models.Workspace, error) { return w, nil },
	}
	documents := &mockDocumentService{
		countFn: func(context.Context, uuid.UUID) (map[models.DocumentStatus]int, error) {
			return map[models.DocumentStatus]int{models.DocReady: 3, models.DocFailed: 1}, nil
		},
	}

	r := newWorkspaceRouter(workspaces, documents, &mockBus{})

	rec := doRequest(r, http.MethodGet, "/workspaces/"+w.ID.String()+"/stats", "")

	assertStatus(t, rec, http.StatusOK)
	assertBodyContains(t, rec, `"documents":4`)
	assertBodyContains(t, rec, `"ready":3`)
}
