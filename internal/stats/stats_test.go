package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(MessagesSent)
	su.Run()
	defer su.Stop()

	su.Incr(MessagesSent)
	su.Incr(MessagesSent)
	su.Decr(MessagesSent)
	su.Incr("UnregisteredMetric")

	assert.Eventually(t, func() bool {
		v, ok := su.vars.Get(MessagesSent).(*expvar.Int)
		return ok && v.Value() == 1
	}, time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(1), body[MessagesSent])
	assert.Contains(t, body, "Uptime")
}

func TestStatsUpdater_StopTwice(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.Run()
	su.Stop()
	assert.NotPanics(t, su.Stop)
}
