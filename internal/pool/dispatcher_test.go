package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPool() *DispatcherPool {
	return NewDispatcherPool(4, zerolog.Nop())
}

func TestDispatcherRunsAllTasks(t *testing.T) {
	p := newTestPool()
	defer p.Shutdown()

	const n = 100
	var wg sync.WaitGroup
	var count int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Spawn(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
	}
	wg.Wait()
	if atomic.LoadInt64(&count) != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
}

func TestDispatcherReusesWorkerOnceIdle(t *testing.T) {
	p := newTestPool()
	defer p.Shutdown()

	done := make(chan struct{})
	p.Spawn(func() { close(done) })
	<-done

	// Give the worker time to report itself idle before the next task
	// arrives; not load-bearing for correctness, just what lets this test
	// exercise the post-idle handoff rather than racing JobComplete.
	time.Sleep(10 * time.Millisecond)

	done2 := make(chan struct{})
	p.Spawn(func() { close(done2) })
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("second task never ran")
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	const workers = 2
	p := NewDispatcherPool(workers, zerolog.Nop())
	defer p.Shutdown()

	var inFlight, maxInFlight int64
	release := make(chan struct{})
	var wg sync.WaitGroup

	const tasks = 6
	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		p.Spawn(func() {
			defer wg.Done()
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				max := atomic.LoadInt64(&maxInFlight)
				if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
					break
				}
			}
			<-release
			atomic.AddInt64(&inFlight, -1)
		})
	}

	// Give every task a chance to reach the pool before releasing them;
	// with only `workers` goroutines available, at most that many can be
	// mid-task at once no matter how long this waits.
	time.Sleep(20 * time.Millisecond)
	close(release)

	wg.Wait()
	if got := atomic.LoadInt64(&maxInFlight); got > workers {
		t.Fatalf("observed %d tasks in flight at once, want <= %d", got, workers)
	}
}

func TestDispatcherPanicIsolation(t *testing.T) {
	p := newTestPool()
	defer p.Shutdown()

	p.Spawn(func() { panic("boom") })

	// The pool must still accept and run work after a panic.
	done := make(chan struct{})
	p.Spawn(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not recover from panic")
	}
}

func TestDispatcherShutdownWaitsForWorkers(t *testing.T) {
	p := newTestPool()
	var ran int64
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Spawn(func() {
			defer wg.Done()
			atomic.AddInt64(&ran, 1)
		})
	}
	wg.Wait()
	p.Shutdown()
	if atomic.LoadInt64(&ran) != n {
		t.Fatalf("ran = %d, want %d", ran, n)
	}
}

func TestDispatcherShutdownIsIdempotent(t *testing.T) {
	p := newTestPool()
	p.Shutdown()
	p.Shutdown()
}

// TestDispatcherShutdownWaitsForInFlightTask guards against the dispatcher
// closing worker channels and exiting while a task is still running: that
// worker's subsequent JobComplete send would then have nobody left to
// receive it and Shutdown would hang forever.
func TestDispatcherShutdownWaitsForInFlightTask(t *testing.T) {
	p := NewDispatcherPool(1, zerolog.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	var finished int64
	p.Spawn(func() {
		close(started)
		<-release
		atomic.AddInt64(&finished, 1)
	})
	<-started

	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown()
		close(shutdownDone)
	}()

	// Shutdown must block while the task is still in flight, not race past
	// it and close the worker's channel out from under it.
	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the in-flight task finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-shutdownDone:
	case <-time.After(time.Second):
		t.Fatal("Shutdown never returned after the in-flight task finished")
	}
	if atomic.LoadInt64(&finished) != 1 {
		t.Fatalf("finished = %d, want 1", finished)
	}
}
