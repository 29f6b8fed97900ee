package pfifo

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue()
	q.SetPullEnabled(true)

	var want []Command
	for i := range 10 {
		c := Command{Method: 0x100 + uint32(4*i), Parameter: uint32(i)}
		q.Enqueue(c)
		want = append(want, c)
	}

	got, ok := q.Drain(nil)
	if !ok {
		t.Fatal("Drain() ok = false")
	}
	if !slices.Equal(got, want) {
		t.Errorf("Drain() = %v, want %v", got, want)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", q.Len())
	}
}

func TestQueueDrainWaitsForPullEnable(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Command{Method: 0x100})

	drained := make(chan []Command)
	go func() {
		cmds, _ := q.Drain(nil)
		drained <- cmds
	}()

	select {
	case <-drained:
		t.Fatal("Drain() returned with pulling disabled")
	case <-time.After(50 * time.Millisecond):
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}

	q.SetPullEnabled(true)
	select {
	case cmds := <-drained:
		if len(cmds) != 1 {
			t.Errorf("Drain() returned %d commands, want 1", len(cmds))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Drain() did not return after pulling was enabled")
	}
}

func TestQueueShutdownWakesDrain(t *testing.T) {
	q := NewQueue()
	q.SetPullEnabled(true)

	done := make(chan bool)
	go func() {
		_, ok := q.Drain(nil)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		if ok {
			t.Error("Drain() ok = true after shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Drain() not woken by shutdown")
	}

	q.Enqueue(Command{Method: 0x100})
	if q.Len() != 0 {
		t.Errorf("Len() = %d after shutdown, want 0", q.Len())
	}
}

func TestQueueWaitIdle(t *testing.T) {
	q := NewQueue()
	q.SetPullEnabled(true)
	q.Enqueue(Command{Method: 0x100}, Command{Method: 0x104})

	if _, ok := q.Drain(nil); !ok {
		t.Fatal("Drain() ok = false")
	}

	idle := make(chan error)
	go func() {
		idle <- q.WaitIdle(context.Background())
	}()

	select {
	case <-idle:
		t.Fatal("WaitIdle() returned while a batch was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	q.Done()
	select {
	case err := <-idle:
		if err != nil {
			t.Errorf("WaitIdle() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitIdle() did not return after Done")
	}
}

func TestQueueWaitIdleErrors(t *testing.T) {
	errHalt := errors.New("halted")

	tests := []struct {
		name string
		stop func(*Queue)
		want error
	}{
		{"shutdown", func(q *Queue) { q.Shutdown() }, ErrQueueClosed},
		{"halted", func(q *Queue) { q.halt(errHalt) }, errHalt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue()
			q.Enqueue(Command{Method: 0x100})
			tt.stop(q)

			if err := q.WaitIdle(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("WaitIdle() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQueueWaitIdleContext(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Command{Method: 0x100}) // never pulled

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := q.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIdle() error = %v, want %v", err, context.DeadlineExceeded)
	}
}
