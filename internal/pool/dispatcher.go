package pool

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// DispatcherPool is a thread pool built around a single dispatcher
// goroutine that owns three pieces of state no other goroutine touches: a
// FIFO queue of idle worker ids, the worker_id -> inbox map used to hand a
// worker its next task, and a FIFO queue of tasks waiting for a worker to
// free up. Workers never talk to each other and never read each other's
// channels; every handoff goes worker -> dispatcher -> worker, which is
// what lets the idle queue and the channel map live without their own
// lock. The worker count is fixed at construction: all n workers are
// started up front, so "bounded concurrency" holds from the first task
// onward rather than only after some warm-up burst.
type DispatcherPool struct {
	inbox  chan dispatcherMsg
	logger zerolog.Logger

	wg      sync.WaitGroup
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

type msgKind int

const (
	msgRunJob msgKind = iota
	msgJobComplete
	msgShutdown
)

type dispatcherMsg struct {
	kind     msgKind
	task     Task
	workerID uint64
}

// NewDispatcherPool starts n worker goroutines and the dispatcher goroutine
// that routes tasks to them. n is clamped to at least 1. A task submitted
// while every worker is busy waits in the dispatcher's pending FIFO queue
// until a worker reports itself idle — spawn never blocks and never drops
// a task.
func NewDispatcherPool(n int, logger zerolog.Logger) *DispatcherPool {
	if n < 1 {
		n = 1
	}
	p := &DispatcherPool{
		inbox:  make(chan dispatcherMsg),
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.run(n)
	return p
}

func (p *DispatcherPool) Spawn(task Task) {
	p.inbox <- dispatcherMsg{kind: msgRunJob, task: task}
}

func (p *DispatcherPool) Shutdown() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()

	p.inbox <- dispatcherMsg{kind: msgShutdown}
	<-p.done
	p.wg.Wait()
}

// run is the dispatcher loop. It owns idle, workers, and pending
// exclusively; nothing else in this file reads or writes any of them
// outside of run.
func (p *DispatcherPool) run(n int) {
	idle := make([]uint64, 0, n)
	workers := make(map[uint64]chan Task, n)
	var pending []Task
	shuttingDown := false

	for id := uint64(0); id < uint64(n); id++ {
		ch := make(chan Task)
		workers[id] = ch
		idle = append(idle, id)
		p.wg.Add(1)
		go p.work(id, ch)
	}

	finalizeShutdown := func() {
		for _, ch := range workers {
			close(ch)
		}
		close(p.done)
	}

	for msg := range p.inbox {
		switch msg.kind {
		case msgRunJob:
			if len(idle) > 0 {
				id := idle[0]
				idle = idle[1:]
				workers[id] <- msg.task
				continue
			}
			// Every worker is busy: hold the task in FIFO order until
			// one reports JobComplete rather than growing the pool.
			pending = append(pending, msg.task)

		case msgJobComplete:
			if len(pending) > 0 {
				task := pending[0]
				pending = pending[1:]
				workers[msg.workerID] <- task
				continue
			}
			if _, ok := workers[msg.workerID]; ok {
				idle = append(idle, msg.workerID)
			}
			// A worker can only go idle here once its in-flight task has
			// returned, so once every worker has reported idle it is safe
			// to close their channels — no JobComplete send can still be
			// in flight waiting on this loop to read it.
			if shuttingDown && len(idle) == n {
				finalizeShutdown()
				return
			}

		case msgShutdown:
			shuttingDown = true
			if len(idle) == n {
				finalizeShutdown()
				return
			}
			// Workers are still mid-task: keep servicing the inbox so
			// their JobComplete sends never block, instead of closing
			// worker channels (and this loop) out from under them.
		}
	}
}

// work is one worker's loop: run whatever task arrives on ch, report back
// to the dispatcher, repeat until ch is closed at shutdown. The dispatcher
// never stops reading p.inbox until every worker has reported idle, so
// this send is never left with nobody on the other end.
func (p *DispatcherPool) work(id uint64, ch chan Task) {
	defer p.wg.Done()
	for task := range ch {
		p.runTask(task)
		p.inbox <- dispatcherMsg{kind: msgJobComplete, workerID: id}
	}
}

func (p *DispatcherPool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("pool worker recovered from panic")
		}
	}()
	task()
}
