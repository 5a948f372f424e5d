package api_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testLogger returns a logger that stays quiet unless something panics.
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// newTestRouter returns a bare engine; each test registers only the routes it
// exercises.
func newTestRouter() *gin.Engine {
	return gin.New()
}

// doRequest performs a JSON request against the router and returns the recorder.
func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	return doRequestWith(r, method, path, body, "application/json")
}

func doRequestWith(r *gin.Engine, method, path, body, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	return rec
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()

	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func assertBodyContains(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()

	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("expected body to contain %q, got %s", want, rec.Body.String())
	}
}

// mockBus records published envelopes.
type mockBus struct {
	published []publishedEvent
}

type publishedEvent struct {
	topic string
	env   models.Envelope
}

func (b *mockBus) Publish(_ context.Context, topic string, env models.Envelope) error {
	b.published = append(b.published, publishedEvent{topic: topic, env: env})

	return nil
}

func (b *mockBus) Subscribe(string, bus.Handler) {}

func (b *mockBus) lastOn(topic string) (models.Envelope, bool) {
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].topic == topic {
			return b.published[i].env, true
		}
	}

	return models.Envelope{}, false
}
