package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
	"tinygo.org/x/drivers"
)

// Mode is the current configuration of the shared two-wire bus.
type Mode int

const (
	ModeIdle       Mode = iota // no lease held
	ModeController             // negotiation-master: this device initiates transactions
	ModeTarget                 // target: this device answers the downstream controller
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeController:
		return "controller"
	case ModeTarget:
		return "target"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	// ErrBusInUse is returned when a lease is requested while another is live.
	ErrBusInUse = errors.New("bus: in use")
	// ErrLeaseReleased is returned when a consumed or closed lease is used.
	ErrLeaseReleased = errors.New("bus: lease released")
	// ErrWrongMode is returned when controller mode is requested after the
	// bus has been handed to target mode.
	ErrWrongMode = errors.New("bus: wrong mode")
	// ErrReplyTimeout is returned when a target reply misses its deadline.
	ErrReplyTimeout = errors.New("bus: reply timeout")
)

// ControllerConn is an open controller-mode connection to the bus.
type ControllerConn interface {
	drivers.I2C
	Close() error
}

// TargetHandler receives bus activity in target mode. Both methods are called
// from the port's receive context and must not block. p is only valid for the
// duration of the call.
type TargetHandler interface {
	OnReceive(p []byte)
	OnRequest()
}

// TargetConn is an open target-mode connection to the bus.
type TargetConn interface {
	// Reply transmits the response to the pending read request.
	Reply(ctx context.Context, p []byte) error
	Close() error
}

// Port is the physical two-wire peripheral. It can be opened in one mode at a
// time; Bus enforces that.
type Port interface {
	OpenController() (ControllerConn, error)
	OpenTarget(addr uint16, h TargetHandler) (TargetConn, error)
}

// Bus arbitrates ownership of a Port. Controller mode is obtained with
// AcquireController and converted into target mode exactly once with
// ControllerLease.HandOff.
type Bus struct {
	mu      sync.Mutex
	port    Port
	mode    Mode
	leased  bool
	limiter *rate.Limiter
}

// NewBus wraps port. maxOpsPerSec limits controller-mode transactions; zero
// or less means unlimited.
func NewBus(port Port, maxOpsPerSec int) *Bus {
	limit := rate.Inf
	if maxOpsPerSec > 0 {
		limit = rate.Limit(maxOpsPerSec)
	}
	return &Bus{
		port:    port,
		limiter: rate.NewLimiter(limit, 10),
	}
}

// Mode reports the current bus mode.
func (b *Bus) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// AcquireController opens the bus in controller mode.
func (b *Bus) AcquireController(ctx context.Context) (*ControllerLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode == ModeTarget {
		return nil, ErrWrongMode
	}
	if b.leased {
		return nil, ErrBusInUse
	}
	conn, err := b.port.OpenController()
	if err != nil {
		return nil, fmt.Errorf("bus: open controller: %w", err)
	}
	b.leased = true
	b.mode = ModeController
	slog.Debug("bus: controller mode acquired")
	return &ControllerLease{bus: b, conn: conn}, nil
}

func (b *Bus) release(mode Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leased = false
	b.mode = mode
}

// ControllerLease is the negotiation-mode ownership token. It implements
// drivers.I2C so peer drivers can be built on it directly.
type ControllerLease struct {
	bus  *Bus
	mu   sync.Mutex
	conn ControllerConn
}

var _ drivers.I2C = (*ControllerLease)(nil)

// Tx performs a write-then-read transaction with the device at addr.
func (l *ControllerLease) Tx(addr uint16, w, r []byte) error {
	if err := l.bus.limiter.Wait(context.Background()); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrLeaseReleased
	}
	return l.conn.Tx(addr, w, r)
}

// Release closes controller mode without handing off. The bus returns to idle
// and may be acquired again.
func (l *ControllerLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrLeaseReleased
	}
	err := l.conn.Close()
	l.conn = nil
	l.bus.release(ModeIdle)
	return err
}

// HandOff consumes the lease: it closes controller mode and opens the bus in
// target mode at addr with h receiving events. The bus can never return to
// controller mode afterwards.
func (l *ControllerLease) HandOff(ctx context.Context, addr uint16, h TargetHandler) (*TargetLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, ErrLeaseReleased
	}
	if err := l.conn.Close(); err != nil {
		slog.Warn("bus: close controller", "err", err)
	}
	l.conn = nil

	b := l.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	tc, err := b.port.OpenTarget(addr, h)
	if err != nil {
		b.leased = false
		b.mode = ModeIdle
		return nil, fmt.Errorf("bus: open target 0x%02x: %w", addr, err)
	}
	b.mode = ModeTarget
	slog.Info("bus: handed off to target mode", "addr", fmt.Sprintf("0x%02x", addr))
	return &TargetLease{bus: b, addr: addr, conn: tc}, nil
}

// TargetLease is the target-mode ownership token held by the register
// protocol engine for the rest of the process lifetime.
type TargetLease struct {
	bus  *Bus
	addr uint16
	mu   sync.Mutex
	conn TargetConn
}

// Addr returns the target address the bus answers on.
func (l *TargetLease) Addr() uint16 { return l.addr }

// Reply transmits p as the answer to the pending read request. When ctx
// expires first the error wraps ErrReplyTimeout.
func (l *TargetLease) Reply(ctx context.Context, p []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrLeaseReleased
	}
	if err := conn.Reply(ctx, p); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrReplyTimeout, err)
		}
		return err
	}
	return nil
}

// Close shuts target mode down. The bus stays marked as target mode.
func (l *TargetLease) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrLeaseReleased
	}
	err := l.conn.Close()
	l.conn = nil
	l.bus.release(ModeTarget)
	return err
}
