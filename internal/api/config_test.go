package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quarryworks/quarry/internal/api"
	"github.com/quarryworks/quarry/internal/models"
)

func newConfigRouter(config *mockConfigService) *gin.Engine {
	r := newTestRouter()
	h := api.NewConfigHandler(config, testLogger())

	r.GET("/config", h.GetDefault)
	r.PUT("/config", h.UpdateDefault)
	r.GET("/workspaces/:id/config", h.GetSnapshot)
	r.PUT("/workspaces/:id/config", h.UpdateSnapshot)

	return r
}

func TestConfigUpdateSnapshot_AlwaysImmutable(t *testing.T) {
	r := newConfigRouter(&mockConfigService{})

	rec := doRequest(r, http.MethodPut, "/workspaces/"+uuid.New().String()+"/config",
		`{"chunk_size":999}`)

	assertStatus(t, rec, http.StatusConflict)
	assertBodyContains(t, rec, "config_immutable")
}

func TestConfigUpdateDefault_Validates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown chunking algorithm", `{"chunking_algorithm":"psychic","chunk_size":512,"chunk_overlap":64,"distance_metric":"cosine","traversal_depth":2}`},
		{"overlap not below size", `{"chunking_algorithm":"sentence","chunk_size":100,"chunk_overlap":100,"distance_metric":"cosine","traversal_depth":2}`},
		{"depth out of range", `{"chunking_algorithm":"sentence","chunk_size":512,"chunk_overlap":64,"distance_metric":"cosine","traversal_depth":9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newConfigRouter(&mockConfigService{})

			rec := doRequest(r, http.MethodPut, "/config", tt.body)

			assertStatus(t, rec, http.StatusBadRequest)
			assertBodyContains(t, rec, "validation_error")
		})
	}
}

func TestConfigUpdateDefault_Persists(t *testing.T) {
	var gotCfg *models.DefaultRagConfig

	config := &mockConfigService{
		updateDefaultFn: func(_ context.Context, cfg *models.DefaultRagConfig) (*models.DefaultRagConfig, error) {
			gotCfg = cfg
			cfg.Version = 2

			return cfg, nil
		},
	}

	r := newConfigRouter(config)

	rec := doRequest(r, http.MethodPut, "/config",
		`{"chunking_algorithm":"paragraph","chunk_size":1024,"chunk_overlap":0,"distance_metric":"l2","traversal_depth":3}`)

	assertStatus(t, rec, http.StatusOK)
	assertBodyContains(t, rec, `"version":2`)

	if gotCfg == nil || gotCfg.ChunkingAlgorithm != models.ChunkByParagraph {
		t.Errorf("update not passed through: %+v", gotCfg)
	}
}

func TestConfigGetSnapshot_NotFound(t *testing.T) {
	config := &mockConfigService{
		getSnapshotFn: func(context.Context, uuid.UUID) (*models.RagConfigSnapshot, error) {
			return nil, models.ErrSnapshotNotFound
		},
	}

	r := newConfigRouter(config)

	rec := doRequest(r, http.MethodGet, "/workspaces/"+uuid.New().String()+"/config", "")

	assertStatus(t, rec, http.StatusNotFound)
}
