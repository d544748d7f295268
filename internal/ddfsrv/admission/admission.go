// Package admission sheds load before a request reaches a handler. Two
// signals gate admission: scheduling lag measured by a sampling probe, and
// the number of callers queued on the connection pool. Either one above its
// threshold turns new requests away with a 503.
package admission

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/common/httpx"
)

// sampleInterval is how often the lag probe sleeps and measures its drift.
const sampleInterval = 250 * time.Millisecond

// Controller holds the thresholds and the live lag measurement.
type Controller struct {
	lagThreshold time.Duration
	poolDepth    int
	pending      func() int

	lagNanos atomic.Int64
	stop     chan struct{}
	stopped  chan struct{}
}

// New builds a controller. pending reports how many callers currently wait
// on the connection pool; poolDepth is the rejection threshold for it.
func New(lagThreshold time.Duration, poolDepth int, pending func() int) *Controller {
	return &Controller{
		lagThreshold: lagThreshold,
		poolDepth:    poolDepth,
		pending:      pending,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start launches the lag probe. The probe sleeps for a fixed interval and
// records how much longer the wakeup took than asked for; a starved
// scheduler shows up as drift.
func (c *Controller) Start() {
	go func() {
		defer close(c.stopped)
		ticker := time.NewTimer(sampleInterval)
		defer ticker.Stop()
		for {
			start := time.Now()
			ticker.Reset(sampleInterval)
			select {
			case <-c.stop:
				return
			case <-ticker.C:
			}
			lag := time.Since(start) - sampleInterval
			if lag < 0 {
				lag = 0
			}
			c.lagNanos.Store(int64(lag))
		}
	}()
}

// Stop terminates the probe and waits for it to exit.
func (c *Controller) Stop() {
	close(c.stop)
	<-c.stopped
}

// Lag returns the most recent probe measurement.
func (c *Controller) Lag() time.Duration {
	return time.Duration(c.lagNanos.Load())
}

// Overloaded reports whether new requests should be rejected, and which
// signal tripped.
func (c *Controller) Overloaded() (bool, string) {
	if lag := c.Lag(); c.lagThreshold > 0 && lag > c.lagThreshold {
		return true, "cpu"
	}
	if c.poolDepth > 0 && c.pending != nil && c.pending() > c.poolDepth {
		return true, "pool"
	}
	return false, ""
}

// Middleware rejects requests while the process is overloaded.
func (c *Controller) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if busy, signal := c.Overloaded(); busy {
			log.Ctx(r.Context()).Warn().
				Str("signal", signal).
				Dur("lag", c.Lag()).
				Int("pending", c.pending()).
				Msg("rejecting request, service overloaded")
			httpx.ErrServiceBusy().Send(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
