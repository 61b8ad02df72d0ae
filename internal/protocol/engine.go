// Package protocol implements the register protocol engine: bus events
// captured in receive context are queued without blocking and dispatched by a
// single worker to the register table's getters and setters.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/greenloop/hydroctl/internal/hardware"
	"github.com/greenloop/hydroctl/internal/registers"
)

// Replier transmits the reply to a read request.
type Replier interface {
	Reply(ctx context.Context, p []byte) error
}

// Config holds the engine tunables.
type Config struct {
	QueueDepth   int           // pending events before new ones are dropped
	Wait         time.Duration // bounded wait between idle housekeeping passes
	ReplyTimeout time.Duration // deadline for transmitting a read reply
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		QueueDepth:   3,
		Wait:         10 * time.Millisecond,
		ReplyTimeout: time.Second,
	}
}

// NoActiveRegister is reported by Stats before the first valid select.
const NoActiveRegister = -1

// Stats is a snapshot of engine counters.
type Stats struct {
	Submitted      uint64 `json:"submitted"`
	Delivered      uint64 `json:"delivered"`
	Dropped        uint64 `json:"dropped"`
	InvalidAddress uint64 `json:"invalid_address"`
	Writes         uint64 `json:"writes"`
	Replies        uint64 `json:"replies"`
	ReplyTimeouts  uint64 `json:"reply_timeouts"`
	ReplyErrors    uint64 `json:"reply_errors"`
	ActiveRegister int    `json:"active_register"`
}

// Engine dispatches queued bus events to a register table.
type Engine struct {
	cfg   Config
	table *registers.Table
	queue chan Event

	// Owned by the worker goroutine.
	active  *registers.Descriptor
	scratch [registers.MaxPayload]byte

	running atomic.Bool
	done    chan struct{}

	submitted, delivered, dropped atomic.Uint64
	invalid, writes               atomic.Uint64
	replies, timeouts, replyErrs  atomic.Uint64
	activeAddr                    atomic.Int32

	reportedDrops uint64
	dropLog       rate.Sometimes
}

var _ hardware.TargetHandler = (*Engine)(nil)

// New creates an engine over table. Zero config fields take their defaults.
func New(table *registers.Table, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.Wait <= 0 {
		cfg.Wait = def.Wait
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	e := &Engine{
		cfg:     cfg,
		table:   table,
		queue:   make(chan Event, cfg.QueueDepth),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	e.activeAddr.Store(NoActiveRegister)
	return e
}

// Submit queues ev without blocking. It is safe to call from receive
// context. When the queue is full ev is dropped and false is returned.
func (e *Engine) Submit(ev Event) bool {
	e.submitted.Add(1)
	select {
	case e.queue <- ev:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// OnReceive submits a controller write.
func (e *Engine) OnReceive(p []byte) { e.Submit(IncomingEvent(p)) }

// OnRequest submits a controller read request.
func (e *Engine) OnRequest() { e.Submit(ReadRequestEvent()) }

// Start runs the worker in a new goroutine.
func (e *Engine) Start(ctx context.Context, r Replier) {
	go func() {
		if err := e.Run(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("protocol: worker stopped", "err", err)
		}
	}()
}

// Run is the single worker loop. It returns when ctx is cancelled. Run may
// be called once per engine.
func (e *Engine) Run(ctx context.Context, r Replier) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("protocol: engine already running")
	}
	defer close(e.done)
	e.active = nil
	e.activeAddr.Store(NoActiveRegister)

	slog.Info("protocol: worker started", "queue_depth", e.cfg.QueueDepth, "registers", e.table.Len())
	ticker := time.NewTicker(e.cfg.Wait)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.queue:
			e.handle(ctx, r, &ev)
		case <-ticker.C:
			e.reportDrops()
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Running reports whether the worker loop is active.
func (e *Engine) Running() bool {
	select {
	case <-e.done:
		return false
	default:
		return e.running.Load()
	}
}

func (e *Engine) handle(ctx context.Context, r Replier, ev *Event) {
	e.delivered.Add(1)

	if ev.Kind == Incoming {
		if ev.Len < 1 {
			return
		}
		d, ok := e.table.Lookup(ev.Data[0])
		if !ok {
			e.invalid.Add(1)
			slog.Debug("protocol: invalid register address", "addr", fmt.Sprintf("0x%02x", ev.Data[0]))
			return
		}
		e.active = d
		e.activeAddr.Store(int32(d.Address))
		if ev.Len > 1 && d.Set != nil {
			d.Set(ev.Data[1:ev.Len])
			e.writes.Add(1)
		}
		return
	}

	if ev.Kind != ReadRequested {
		return
	}
	d := e.active
	if d == nil || d.Get == nil {
		return
	}
	out := e.scratch[:d.Size]
	clear(out)
	d.Get(out)

	rctx, cancel := context.WithTimeout(ctx, e.cfg.ReplyTimeout)
	err := r.Reply(rctx, out)
	cancel()
	switch {
	case err == nil:
		e.replies.Add(1)
	case errors.Is(err, hardware.ErrReplyTimeout) || errors.Is(err, context.DeadlineExceeded):
		e.timeouts.Add(1)
		slog.Warn("protocol: reply timed out", "register", d.Name, "timeout", e.cfg.ReplyTimeout)
	default:
		e.replyErrs.Add(1)
		slog.Warn("protocol: reply failed", "register", d.Name, "err", err)
	}
}

// reportDrops surfaces queue overflow from the worker, since the receive
// context never logs.
func (e *Engine) reportDrops() {
	n := e.dropped.Load()
	if n == e.reportedDrops {
		return
	}
	e.dropLog.Do(func() {
		slog.Warn("protocol: events dropped, queue full", "dropped", n-e.reportedDrops, "total", n)
		e.reportedDrops = n
	})
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Submitted:      e.submitted.Load(),
		Delivered:      e.delivered.Load(),
		Dropped:        e.dropped.Load(),
		InvalidAddress: e.invalid.Load(),
		Writes:         e.writes.Load(),
		Replies:        e.replies.Load(),
		ReplyTimeouts:  e.timeouts.Load(),
		ReplyErrors:    e.replyErrs.Load(),
		ActiveRegister: int(e.activeAddr.Load()),
	}
}
