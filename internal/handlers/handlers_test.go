package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"calentian-mail-pipeline/internal/assigner"
	"calentian-mail-pipeline/internal/db/dbtest"
	"calentian-mail-pipeline/internal/metrics"
	"calentian-mail-pipeline/internal/models"
	"calentian-mail-pipeline/internal/poller"
	"calentian-mail-pipeline/internal/repository"
)

type stubPoller struct{ status poller.Status }

func (s stubPoller) Status() poller.Status { return s.status }

func setup(t *testing.T, opts Options) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.New(t)
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	router := gin.New()
	NewHandlers(db, opts).SetupRoutes(router)
	return router, db
}

func do(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func insert(t *testing.T, db *gorm.DB, in repository.NewInbound) uint {
	t.Helper()
	msg, err := repository.NewMessageRepository(db).InsertInbound(context.Background(), in)
	require.NoError(t, err)
	return msg.ID
}

func TestHealthCheck(t *testing.T) {
	router, db := setup(t, Options{Poller: stubPoller{poller.Status{Running: true, State: poller.StateIdle}}})
	insert(t, db, repository.NewInbound{Subject: "a", Timestamp: time.Now()})
	insert(t, db, repository.NewInbound{Subject: "b", Timestamp: time.Now()})

	w := do(router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, "ok", resp.Mailbox)
	assert.Equal(t, "IDLE", resp.Metrics["poller_state"])
	assert.Equal(t, "2", resp.Metrics["messages_unclassified"])
}

func TestGetMessageSanitizesHTML(t *testing.T) {
	router, db := setup(t, Options{})
	id := insert(t, db, repository.NewInbound{
		Subject:     "Hi",
		Body:        "Hello",
		HTMLBody:    `<p onclick="steal()">Hello</p><script>alert(1)</script>`,
		Timestamp:   time.Now(),
		Attachments: []string{"/attachments/menu.pdf"},
	})

	w := do(router, http.MethodGet, "/api/v1/messages/"+jsonID(id))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Hello", resp.Body)
	assert.Equal(t, "<p>Hello</p>", resp.HTMLBody)
	assert.Equal(t, []string{"/attachments/menu.pdf"}, resp.Attachments)
	assert.Equal(t, "unclassified", resp.StatusLabel)
}

func TestGetMessageErrors(t *testing.T) {
	router, _ := setup(t, Options{})

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/messages/abc").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/messages/42").Code)
}

func TestListMessages(t *testing.T) {
	router, db := setup(t, Options{})
	for i := 0; i < 3; i++ {
		insert(t, db, repository.NewInbound{Subject: "m"})
	}

	w := do(router, http.MethodGet, "/api/v1/messages?limit=2&status=0")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages   []models.MessageResponse `json:"messages"`
		Pagination struct {
			Page  int   `json:"page"`
			Limit int   `json:"limit"`
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 2)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.Limit)
	assert.Empty(t, resp.Messages[0].Body, "list omits bodies")

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/messages?status=9").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/messages?tenant_id=x").Code)
}

func TestAssignerEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)
	worker := assigner.NewWorker(time.Hour,
		repository.NewMessageRepository(db),
		repository.NewDirectoryRepository(db),
		nil,
		metrics.NewMetrics(prometheus.NewRegistry()))
	router := gin.New()
	NewHandlers(db, Options{Worker: worker, Gatherer: prometheus.NewRegistry()}).SetupRoutes(router)
	id := insert(t, db, repository.NewInbound{Subject: "m", Sender: "stranger@example.com"})

	w := do(router, http.MethodPost, "/api/v1/assigner/run-once")
	require.Equal(t, http.StatusOK, w.Code)

	msg, err := repository.NewMessageRepository(db).GetMessage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, msg.Status)

	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/assigner/start").Code)
	assert.Equal(t, http.StatusConflict, do(router, http.MethodPost, "/api/v1/assigner/start").Code)

	w = do(router, http.MethodGet, "/api/v1/assigner/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "running", status["status"])

	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/assigner/stop").Code)
	assert.False(t, worker.IsRunning())
}

func TestDisabledComponents(t *testing.T) {
	router, _ := setup(t, Options{})

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/assigner/status").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/poller/status").Code)
}

func TestPollerStatus(t *testing.T) {
	router, _ := setup(t, Options{Poller: stubPoller{poller.Status{Running: true, State: poller.StateFetching, LastUID: 9}}})

	w := do(router, http.MethodGet, "/api/v1/poller/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status poller.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, poller.StateFetching, status.State)
	assert.Equal(t, uint32(9), status.LastUID)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
