package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.ObserveCall("create_task", "ok", 10*time.Millisecond)
	r.ObserveCall("create_task", "ok", 20*time.Millisecond)
	r.ObserveCall("create_task", "VALIDATION_ERROR", time.Millisecond)
	r.ObserveTokens("list_tasks", 300)
	r.LockTimeout()

	body := scrape(t, r)
	assert.Contains(t, body, `taskmem_tool_calls_total{code="ok",tool="create_task"} 2`)
	assert.Contains(t, body, `taskmem_tool_calls_total{code="VALIDATION_ERROR",tool="create_task"} 1`)
	assert.Contains(t, body, `taskmem_lock_timeouts_total 1`)
	assert.Contains(t, body, `taskmem_response_tokens_count{tool="list_tasks"} 1`)
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.ObserveCall("x", "ok", time.Second)
	r.ObserveTokens("x", 1)
	r.LockTimeout()
	assert.Nil(t, r.Registry())
}

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
