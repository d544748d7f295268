package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(c *Controller) *httptest.ResponseRecorder {
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/systema", nil))
	return rec
}

func TestAdmitsWhenIdle(t *testing.T) {
	c := New(200*time.Millisecond, 5, func() int { return 0 })
	rec := serve(c)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsOnPoolDepth(t *testing.T) {
	c := New(200*time.Millisecond, 5, func() int { return 6 })
	rec := serve(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
}

func TestRejectsOnLag(t *testing.T) {
	c := New(200*time.Millisecond, 5, func() int { return 0 })
	c.lagNanos.Store(int64(300 * time.Millisecond))

	busy, signal := c.Overloaded()
	require.True(t, busy)
	assert.Equal(t, "cpu", signal)

	rec := serve(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProbeStartsNearZero(t *testing.T) {
	c := New(200*time.Millisecond, 5, func() int { return 0 })
	c.Start()
	defer c.Stop()

	time.Sleep(2 * sampleInterval)
	assert.Less(t, c.Lag(), 100*time.Millisecond, "an idle process has negligible lag")
}
