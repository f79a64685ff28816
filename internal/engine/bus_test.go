package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talgya/firesim/internal/fire"
)

func TestDispatchDeliversOneAtATimeInOrder(t *testing.T) {
	bus := NewEventBus()
	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		mu       sync.Mutex
		got      []uint64
	)
	bus.OnAll(func(ev fire.Event) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(50 * time.Microsecond)
		mu.Lock()
		got = append(got, ev.Tick)
		mu.Unlock()
		inFlight.Add(-1)
	})

	const workers, perWorker = 8, 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				bus.Emit(fire.Event{Kind: fire.EventNotice, Tick: uint64(w*1000 + i)})
				bus.Dispatch()
			}
		}(w)
	}
	wg.Wait()
	bus.Dispatch()

	if overlap.Load() {
		t.Fatal("handlers ran concurrently")
	}
	if len(got) != workers*perWorker {
		t.Fatalf("delivered %d events, want %d", len(got), workers*perWorker)
	}
	last := make(map[uint64]int64)
	for _, tick := range got {
		w, i := tick/1000, int64(tick%1000)
		if prev, ok := last[w]; ok && i <= prev {
			t.Fatalf("worker %d: event %d delivered after %d", w, i, prev)
		}
		last[w] = i
	}
}

func TestDispatchFromHandler(t *testing.T) {
	bus := NewEventBus()
	var order []fire.EventKind
	bus.On(fire.EventCreated, func(ev fire.Event) {
		bus.Emit(fire.Event{Kind: fire.EventNotice})
		bus.Dispatch()
		order = append(order, ev.Kind)
	})
	bus.On(fire.EventNotice, func(ev fire.Event) { order = append(order, ev.Kind) })

	bus.Emit(fire.Event{Kind: fire.EventCreated})
	bus.Dispatch()

	if len(order) != 2 || order[0] != fire.EventCreated || order[1] != fire.EventNotice {
		t.Fatalf("order = %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	n := 0
	unsub := bus.On(fire.EventReset, func(fire.Event) { n++ })
	bus.Emit(fire.Event{Kind: fire.EventReset})
	bus.Dispatch()
	unsub()
	bus.Emit(fire.Event{Kind: fire.EventReset})
	bus.Dispatch()
	if n != 1 {
		t.Fatalf("handler ran %d times", n)
	}
}
