package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	engine := gin.New()
	engine.Use(m.Middleware())
	engine.GET("/api/boxes/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/api/boxes/1", "/api/boxes/2", "/missing"} {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/boxes/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", unmatchedRoute, "404")))

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), "boxboard_http_requests_total"))
}

func TestDomainCounters(t *testing.T) {
	m := New()
	var notifier boxes.Notifier = m
	notifier.Publish(boxes.BoxEvent{BoxID: 3, Kind: boxes.EventApplied, At: time.Now()})
	notifier.Publish(boxes.BoxEvent{BoxID: 3, Kind: boxes.EventAccepted, At: time.Now()})
	notifier.Publish(boxes.BoxEvent{BoxID: 4, Kind: boxes.EventApplied, At: time.Now()})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.boxEvents.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boxEvents.WithLabelValues("accepted")))

	m.RecordLinkOutcome("")
	m.RecordLinkOutcome("linked")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linkOutcomes.WithLabelValues("unknown")))

	m.RecordRateLimited()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))

	m.RecordJobRun("sweep_states", 0, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("sweep_states", "true")))

	m.SubscriberOpened()
	m.SubscriberOpened()
	m.SubscriberClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sseSubscriber))
}
