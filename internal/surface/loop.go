package surface

import (
	"errors"
	"sync"

	"github.com/gaspardpetit/detpay/internal/logx"
)

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("event loop stopped")

// Loop runs posted tasks one at a time, in order, on a single goroutine. A
// task posted from inside another task runs on a later turn.
//
// Foreign code (host listeners) is run through Call. While a Call is in
// progress the loop goroutine keeps serving Do, so a listener may call back
// into the surface that notified it.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	nested  []func()
	calls   int
	wake    chan struct{}
	reenter chan struct{}
	stopped bool
	done    chan struct{}
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		reenter: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn for a later turn. It reports false if the loop stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	signal(l.wake)
	return true
}

// Do runs fn on the loop and waits for it to finish. While a Call is in
// progress fn runs inside the current turn instead of a later one. Calling
// Do directly from a task, outside Call, deadlocks.
func (l *Loop) Do(fn func()) error {
	ran := make(chan struct{})
	task := func() {
		defer close(ran)
		fn()
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	if l.calls > 0 {
		l.nested = append(l.nested, task)
		l.mu.Unlock()
		signal(l.reenter)
	} else {
		l.queue = append(l.queue, task)
		l.mu.Unlock()
		signal(l.wake)
	}
	return l.await(ran)
}

// Sync waits until every task queued before it has run. Unlike Do it never
// jumps into a Call in progress.
func (l *Loop) Sync() error {
	ran := make(chan struct{})
	if !l.Post(func() { close(ran) }) {
		return ErrStopped
	}
	return l.await(ran)
}

func (l *Loop) await(ran <-chan struct{}) error {
	select {
	case <-ran:
		return nil
	case <-l.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Call runs fn on its own goroutine and waits for it, running any Do issued
// meanwhile. It must be called from a task.
func (l *Loop) Call(fn func()) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		runTask(fn)
	}()
	for {
		select {
		case <-l.reenter:
			l.runNested()
		case <-finished:
			for {
				l.mu.Lock()
				if len(l.nested) == 0 {
					l.calls--
					l.mu.Unlock()
					return
				}
				l.mu.Unlock()
				l.runNested()
			}
		}
	}
}

func (l *Loop) runNested() {
	for {
		l.mu.Lock()
		if len(l.nested) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.nested[0]
		l.nested[0] = nil
		l.nested = l.nested[1:]
		l.mu.Unlock()
		runTask(fn)
	}
}

// Stop discards pending tasks and ends the loop after the running task.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
	signal(l.wake)
}

// Done is closed once the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if l.stopped {
				l.mu.Unlock()
				return
			}
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			runTask(fn)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// runTask keeps a failing task from taking the loop down with it.
func runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logx.Log.Error().Interface("panic", r).Msg("surface task panicked")
		}
	}()
	fn()
}
