package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-cbt/internal/model"
)

func TestPublishCountsLifecycleEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Publish(model.AttemptEvent{Kind: model.EventLoadFailed})
	m.Publish(model.AttemptEvent{Kind: model.EventAutosaved, Saved: 3, Failed: 1})
	m.Publish(model.AttemptEvent{Kind: model.EventAutosaved, Saved: 2})
	m.Publish(model.AttemptEvent{Kind: model.EventSubmitFailed, Trigger: model.SubmitTriggerTimeout})
	m.Publish(model.AttemptEvent{Kind: model.EventSubmitted, Trigger: model.SubmitTriggerManual})
	m.Publish(model.AttemptEvent{Kind: model.EventTick})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadFailures))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.AnswersSaved))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AutosaveFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmitFailures.WithLabelValues("TIMEOUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submits.WithLabelValues("MANUAL")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Submits.WithLabelValues("TIMEOUT")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/papers/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/papers/abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCounter.WithLabelValues("GET", "/papers/:id", "204")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "exstem_cbt_http_requests_total"))
}
