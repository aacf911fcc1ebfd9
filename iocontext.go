package msgnet

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ioContext is the background execution context shared by every
// connection of one Server or Client.
//
// Posted tasks run one at a time, in order, on a single goroutine. Socket
// close requests and write pump arming go through it so they never race
// each other. Pumps run as their own goroutines in the same group and are
// joined by stop.
type ioContext struct {
	tasks  *Queue[func()]
	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	stopped bool
}

func newIOContext() *ioContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &ioContext{
		tasks:  NewQueue[func()](),
		ctx:    ctx,
		cancel: cancel,
	}
}

// run starts the task goroutine. It is a no-op after the first call.
func (x *ioContext) run() {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.running || x.stopped {
		return
	}
	x.running = true

	x.group.Go(func() error {
		for {
			task := x.tasks.PopFront()
			if task == nil {
				return nil
			}
			task()
		}
	})
}

// post queues fn to run on the task goroutine. It reports false once the
// context has been stopped.
func (x *ioContext) post(fn func()) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.stopped {
		return false
	}
	x.tasks.PushBack(fn)
	return true
}

// spawn starts fn as a pump goroutine owned by the context.
func (x *ioContext) spawn(fn func(ctx context.Context) error) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.stopped {
		return false
	}
	x.group.Go(func() error {
		return fn(x.ctx)
	})
	return true
}

// stop lets every task posted so far run, then halts the task goroutine
// and waits for all pumps to return. Pumps blocked on a socket only return
// once that socket is closed, so owners post their close requests first.
// stop must not be called from a posted task or a pump.
func (x *ioContext) stop() error {
	x.mu.Lock()
	if x.stopped {
		x.mu.Unlock()
		return nil
	}
	x.stopped = true
	x.tasks.PushBack(nil)
	x.cancel()
	x.mu.Unlock()

	return x.group.Wait()
}
