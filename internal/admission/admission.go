// Package admission enforces static resource limits on incoming
// connections: a hard connection cap, a CPU emergency brake, a goroutine
// semaphore, and a request-rate limiter. Unlike a capacity manager that
// recalculates limits from observed throughput, this guard only ever
// enforces the limits it was configured with.
package admission

import (
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// Limits is the static configuration a Guard enforces.
type Limits struct {
	MaxConnections     int
	MaxGoroutines      int
	MaxRequestsPerSec  int
	CPURejectThreshold float64
	CPUPauseThreshold  float64
}

// Guard tracks live resource usage against Limits and decides whether to
// accept new connections or pause background work.
type Guard struct {
	limits Limits
	logger zerolog.Logger

	requestLimiter *rate.Limiter
	goroutines     chan struct{}

	activeConns int64
	currentCPU  atomic.Value // float64
}

func New(limits Limits, logger zerolog.Logger) *Guard {
	g := &Guard{
		limits:         limits,
		logger:         logger,
		requestLimiter: rate.NewLimiter(rate.Limit(limits.MaxRequestsPerSec), limits.MaxRequestsPerSec*2),
		goroutines:     make(chan struct{}, limits.MaxGoroutines),
	}
	g.currentCPU.Store(0.0)
	return g
}

// AcceptConnection reports whether a new connection should be admitted, and
// if not, why. It also increments the active-connection count on success;
// callers must call ReleaseConnection when the connection closes.
func (g *Guard) AcceptConnection() (accept bool, reason string) {
	current := atomic.LoadInt64(&g.activeConns)
	if current >= int64(g.limits.MaxConnections) {
		return false, "at max connections"
	}
	if cpuPct := g.currentCPU.Load().(float64); cpuPct > g.limits.CPURejectThreshold {
		return false, "cpu overloaded"
	}
	atomic.AddInt64(&g.activeConns, 1)
	return true, ""
}

func (g *Guard) ReleaseConnection() {
	atomic.AddInt64(&g.activeConns, -1)
}

// AllowRequest applies the request-rate limiter. Called once per request,
// independent of connection admission.
func (g *Guard) AllowRequest() bool {
	return g.requestLimiter.Allow()
}

// ShouldPauseBackground reports whether background work (like a proactive
// compaction sweep) should yield because CPU usage is critically high.
func (g *Guard) ShouldPauseBackground() bool {
	return g.currentCPU.Load().(float64) > g.limits.CPUPauseThreshold
}

// AcquireGoroutine reserves a slot in the goroutine semaphore. Returns
// false if the configured ceiling has been reached.
func (g *Guard) AcquireGoroutine() bool {
	select {
	case g.goroutines <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *Guard) ReleaseGoroutine() {
	<-g.goroutines
}

// SampleCPU measures system-wide CPU usage since the previous call and
// records it for AcceptConnection/ShouldPauseBackground to consult. Meant
// to be called periodically from a ticker, not per-request.
func (g *Guard) SampleCPU() float64 {
	percents, err := cpu.Percent(0, false)
	var pct float64
	if err == nil && len(percents) > 0 {
		pct = percents[0]
	}
	g.currentCPU.Store(pct)
	g.logger.Debug().
		Float64("cpu_percent", pct).
		Int64("active_connections", atomic.LoadInt64(&g.activeConns)).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("admission sample")
	return pct
}

func (g *Guard) ActiveConnections() int64 { return atomic.LoadInt64(&g.activeConns) }
