package pool

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// NaiveThreadPool spawns one goroutine per Task and never reuses them. It
// exists as the simplest possible ThreadPool implementation — useful as a
// baseline in benchmarks and as a fallback with no dispatcher bookkeeping at
// all, at the cost of unbounded goroutine growth under load.
type NaiveThreadPool struct {
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewNaiveThreadPool(logger zerolog.Logger) *NaiveThreadPool {
	return &NaiveThreadPool{logger: logger}
}

func (p *NaiveThreadPool) Spawn(task Task) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Interface("panic_value", r).
					Str("stack_trace", string(debug.Stack())).
					Msg("pool worker recovered from panic")
			}
		}()
		task()
	}()
}

// Shutdown waits for every goroutine spawned so far to finish. There is no
// notion of refusing new Spawns afterward; callers are expected to stop
// calling Spawn before calling Shutdown.
func (p *NaiveThreadPool) Shutdown() {
	p.wg.Wait()
}
