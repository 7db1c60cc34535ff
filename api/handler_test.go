package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ffprogress/config"
	"ffprogress/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct{}

func (m *mockRunner) Run(ctx context.Context, t *task.Task) (string, error) {
	t.UpdateProgress(task.ProgressSnapshot{Frame: 50, Speed: 1.2, Done: true})
	t.SetOutputPath(fmt.Sprintf("/tmp/%s_output.mp4", t.ID))
	return "ok", nil
}

func setupTestRouter() (*gin.Engine, *config.Config, *task.Manager) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MaxConcurrency:      1,
		FFTimeout:           10 * time.Second,
		AuthEnable:          false,
		OutputLocalLifetime: 1 * time.Hour,
	}
	runner := &mockRunner{}
	tm, _ := task.NewManager(cfg, runner)
	router := SetupRouter(tm, cfg)
	return router, cfg, tm
}

func TestHandleCreateTask(t *testing.T) {
	router, _, tm := setupTestRouter()

	w := httptest.NewRecorder()
	reqBody := `{"inputMedia": "test.mkv", "outputArgs": "-vcodec copy", "outputExt": "mp4"}`
	req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.NotEmpty(t, resp["taskId"])

	_, found := tm.Get(resp["taskId"])
	assert.True(t, found)
}

func TestHandleCreateTaskRejectsBadArgs(t *testing.T) {
	router, _, _ := setupTestRouter()

	t.Run("shell metacharacters", func(t *testing.T) {
		w := httptest.NewRecorder()
		reqBody := `{"inputMedia": "test.mkv", "outputArgs": "-vf $(reboot)", "outputExt": "mp4"}`
		req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString(reqBody))
		req.Header.Set("Content-Type", "application/json")

		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "disallowed character")
	})

	t.Run("stray value", func(t *testing.T) {
		w := httptest.NewRecorder()
		reqBody := `{"inputMedia": "test.mkv", "outputArgs": "libx265", "outputExt": "mp4"}`
		req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString(reqBody))
		req.Header.Set("Content-Type", "application/json")

		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "is not an option")
	})

	t.Run("missing required fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")

		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetTaskStatus(t *testing.T) {
	router, _, tm := setupTestRouter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tm.Start(ctx)

	testTask, err := tm.Submit("test.mp4", "-vcodec copy", "mp4")
	assert.NoError(t, err)
	time.Sleep(100 * time.Millisecond) // Give time for processing

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/tasks/"+testTask.ID, nil)

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var respTask struct {
		ID          string                 `json:"id"`
		Status      task.Status            `json:"status"`
		DownloadURL string                 `json:"downloadUrl"`
		Progress    *task.ProgressSnapshot `json:"progress"`
	}
	err = json.Unmarshal(w.Body.Bytes(), &respTask)
	assert.NoError(t, err)
	assert.Equal(t, testTask.ID, respTask.ID)
	assert.Equal(t, task.StatusCompleted, respTask.Status)
	assert.Contains(t, respTask.DownloadURL, "/api/v1/files/"+testTask.ID+"_output.mp4")

	// The mock runner left a final progress snapshot behind
	require.NotNil(t, respTask.Progress)
	assert.Equal(t, uint64(50), respTask.Progress.Frame)
	assert.Equal(t, 1.2, respTask.Progress.Speed)
	assert.True(t, respTask.Progress.Done)

	// Test Not Found
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/tasks/nonexistent", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _ := setupTestRouter()

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
