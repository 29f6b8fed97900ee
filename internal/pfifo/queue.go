package pfifo

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by WaitIdle once the queue has shut down.
var ErrQueueClosed = errors.New("command queue closed")

// Command is one method invocation decoded by the pusher.
type Command struct {
	Channel       uint32
	Subchannel    uint32
	Method        uint32
	Parameter     uint32
	NonIncreasing bool
}

func (c Command) String() string {
	kind := "inc"
	if c.NonIncreasing {
		kind = "non-inc"
	}
	return fmt.Sprintf("ch%d subch%d method 0x%04X param 0x%08X %s",
		c.Channel, c.Subchannel, c.Method, c.Parameter, kind)
}

// Queue is an unbounded FIFO of commands between the pusher and the puller.
// Enqueue never blocks on the consumer: Drain hands the whole backlog over
// at once and the consumer processes it without the lock.
type Queue struct {
	mu       sync.Mutex
	ready    *sync.Cond // commands available, pulling enabled or closed
	idle     *sync.Cond // backlog processed
	commands []Command

	pullEnabled bool
	busy        bool // a drained batch is being processed
	closed      bool
	err         error
}

// NewQueue creates an empty queue with pulling disabled.
func NewQueue() *Queue {
	q := &Queue{}
	q.ready = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends cmds in order. Commands enqueued after shutdown are
// dropped.
func (q *Queue) Enqueue(cmds ...Command) {
	if len(cmds) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.commands = append(q.commands, cmds...)
	q.ready.Signal()
}

// SetPullEnabled gates the consumer. Commands keep queuing while disabled.
func (q *Queue) SetPullEnabled(enabled bool) {
	q.mu.Lock()
	q.pullEnabled = enabled
	q.ready.Broadcast()
	q.mu.Unlock()
}

// PullEnabled reports whether the consumer may drain the queue.
func (q *Queue) PullEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pullEnabled
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.commands)
}

// Drain blocks until commands are queued and pulling is enabled, then moves
// every queued command into buf and returns it. The queue stays busy until
// Done. ok is false once the queue is shut down.
func (q *Queue) Drain(buf []Command) (cmds []Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && (len(q.commands) == 0 || !q.pullEnabled) {
		q.ready.Wait()
	}
	if q.closed {
		return buf, false
	}

	buf = append(buf, q.commands...)
	q.commands = q.commands[:0]
	q.busy = true
	return buf, true
}

// Done marks the last drained batch as processed.
func (q *Queue) Done() {
	q.mu.Lock()
	q.busy = false
	q.idle.Broadcast()
	q.mu.Unlock()
}

// WaitIdle blocks until every enqueued command has been processed. It
// returns the error the queue was halted with, ErrQueueClosed after a plain
// shutdown, or the context error.
func (q *Queue) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.commands) > 0 || q.busy {
		if q.closed {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.idle.Wait()
	}
	if q.closed {
		if q.err != nil {
			return q.err
		}
		return ErrQueueClosed
	}
	return nil
}

// Shutdown wakes the consumer, which observes the flag and exits. Pending
// commands are discarded.
func (q *Queue) Shutdown() {
	q.halt(nil)
}

// halt closes the queue, recording err as the reason.
func (q *Queue) halt(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	q.busy = false
	q.commands = nil
	q.ready.Broadcast()
	q.idle.Broadcast()
}
