package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPriorityWait bounds how long an anomaly or rejection event waits for
// buffer space before it is dropped.
const DefaultPriorityWait = 50 * time.Millisecond

// Config controls dispatcher buffering.
type Config struct {
	Enabled bool
	// BufferSize is the capacity of each lane.
	BufferSize int
	// DropIfFull drops access events immediately when their lane is full.
	// Anomaly and rejection events wait up to PriorityWait first.
	DropIfFull   bool
	PriorityWait time.Duration
	// OnDrop runs on the emitting goroutine for every lost event.
	OnDrop func(Event)
	// Now stamps events emitted without a timestamp. Nil means time.Now.
	Now func() time.Time
}

// Dispatcher forwards gate events to a sink on one goroutine. Anomaly and
// rejection events travel in a priority lane that is always drained before
// access events. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	cfg  Config
	sink Sink

	priority chan Event
	access   chan Event
	done     chan struct{}
	wg       sync.WaitGroup

	droppedAccess   atomic.Uint64
	droppedPriority atomic.Uint64
	closed          atomic.Bool
	closeOnce       sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.PriorityWait <= 0 {
		cfg.PriorityWait = DefaultPriorityWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		priority: make(chan Event, cfg.BufferSize),
		access:   make(chan Event, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func isPriority(eventType string) bool {
	return eventType == TypeAnomaly || eventType == TypeRejection
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ctx := context.Background()
	for {
		select {
		case event := <-d.priority:
			d.sink.Emit(ctx, event)
			continue
		default:
		}

		select {
		case event := <-d.priority:
			d.sink.Emit(ctx, event)
		case event := <-d.access:
			d.sink.Emit(ctx, event)
		case <-d.done:
			d.drain(ctx, d.priority)
			d.drain(ctx, d.access)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, ch chan Event) {
	for {
		select {
		case event := <-ch:
			d.sink.Emit(ctx, event)
		default:
			return
		}
	}
}

// Emit queues event. Without DropIfFull it blocks until there is room, ctx
// ends (the event is then counted as dropped) or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now()
	}

	lane := d.access
	if isPriority(event.EventType) {
		lane = d.priority
	}

	select {
	case lane <- event:
		return
	case <-d.done:
		return
	default:
	}

	var wait <-chan time.Time
	if d.cfg.DropIfFull {
		if lane == d.access {
			d.drop(event)
			return
		}
		timer := time.NewTimer(d.cfg.PriorityWait)
		defer timer.Stop()
		wait = timer.C
	}

	select {
	case lane <- event:
	case <-d.done:
	case <-ctx.Done():
		d.drop(event)
	case <-wait:
		d.drop(event)
	}
}

func (d *Dispatcher) drop(event Event) {
	if isPriority(event.EventType) {
		d.droppedPriority.Add(1)
	} else {
		d.droppedAccess.Add(1)
	}
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop(event)
	}
}

// Close stops accepting events and waits until buffered ones are delivered,
// anomalies and rejections first.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports every lost event.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.droppedAccess.Load() + d.droppedPriority.Load()
}

// DroppedPriority reports lost anomaly and rejection events.
func (d *Dispatcher) DroppedPriority() uint64 {
	if d == nil {
		return 0
	}
	return d.droppedPriority.Load()
}
