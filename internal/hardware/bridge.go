package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// Bridge frame layout. The bridge answers on the bus as a target and forwards
// each transaction over serial as {frameStart, kind, len, data...}.
const (
	frameStart   = 0x7E
	frameReceive = 'R' // controller wrote data to us
	frameRequest = 'Q' // controller is clocking out a read
	frameReply   = 'W' // our reply to the pending read
	assignHeader = 'A'
	maxFrameData = 255
)

// BridgeConfig selects the serial port of the target bridge.
type BridgeConfig struct {
	Port string
	Baud int
}

// OpenBridge opens the serial target bridge, assigns it addr and starts
// forwarding bus events to h.
func OpenBridge(cfg BridgeConfig, addr uint16, h TargetHandler) (TargetConn, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", cfg.Port, err)
	}
	t, err := newBridgeTarget(port, addr, h)
	if err != nil {
		port.Close()
		return nil, err
	}
	slog.Debug("bridge: target mode started", "port", cfg.Port, "addr", fmt.Sprintf("0x%02x", addr))
	return t, nil
}

// errBridgeClosed is returned by Reply after Close.
var errBridgeClosed = errors.New("bridge: closed")

// replyQueue bounds replies waiting behind a slow serial write.
const replyQueue = 1

type reply struct {
	ctx   context.Context
	frame []byte
	errc  chan error
}

// bridgeTarget speaks the bridge framing over any byte stream. Replies go
// through a single writer so they leave in order, and a reply whose deadline
// passed while queued is dropped instead of being sent late.
type bridgeTarget struct {
	rwc     io.ReadWriteCloser
	h       TargetHandler
	replies chan reply
	stale   atomic.Uint64
	done    chan struct{}
	wdone   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newBridgeTarget(rwc io.ReadWriteCloser, addr uint16, h TargetHandler) (*bridgeTarget, error) {
	if addr > 0x7F {
		return nil, fmt.Errorf("bridge: address 0x%02x is not 7-bit", addr)
	}
	// {'A', address, '\n'}: the bridge firmware waits for this before it
	// starts acknowledging on the bus.
	if _, err := rwc.Write([]byte{assignHeader, byte(addr), '\n'}); err != nil {
		return nil, fmt.Errorf("bridge: assign address: %w", err)
	}
	t := &bridgeTarget{
		rwc:     rwc,
		h:       h,
		replies: make(chan reply, replyQueue),
		done:    make(chan struct{}),
		wdone:   make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

func (t *bridgeTarget) writeLoop() {
	defer close(t.wdone)
	for {
		select {
		case <-t.closed:
			return
		case r := <-t.replies:
			if err := r.ctx.Err(); err != nil {
				n := t.stale.Add(1)
				slog.Debug("bridge: dropped stale reply", "dropped", n)
				r.errc <- err
				continue
			}
			_, err := t.rwc.Write(r.frame)
			r.errc <- err
		}
	}
}

// readLoop plays the role of the interrupt context: it parses frames and
// hands them to the handler without blocking on anything but the stream.
func (t *bridgeTarget) readLoop() {
	defer close(t.done)
	br := bufio.NewReader(t.rwc)
	var buf [maxFrameData]byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			t.readErr(err)
			return
		}
		if b != frameStart {
			continue
		}
		kind, err := br.ReadByte()
		if err != nil {
			t.readErr(err)
			return
		}
		n, err := br.ReadByte()
		if err != nil {
			t.readErr(err)
			return
		}
		if _, err := io.ReadFull(br, buf[:n]); err != nil {
			t.readErr(err)
			return
		}
		switch kind {
		case frameReceive:
			t.h.OnReceive(buf[:n])
		case frameRequest:
			t.h.OnRequest()
		}
	}
}

func (t *bridgeTarget) readErr(err error) {
	select {
	case <-t.closed:
		return
	default:
	}
	if !errors.Is(err, io.EOF) {
		slog.Warn("bridge: read failed", "err", err)
	}
}

// Reply queues a reply frame and waits for it to be written. A write already
// on the wire cannot be interrupted; on ctx expiry Reply returns and the
// frame is dropped if it has not started.
func (t *bridgeTarget) Reply(ctx context.Context, p []byte) error {
	if len(p) > maxFrameData {
		return fmt.Errorf("bridge: reply of %d bytes too long", len(p))
	}
	frame := make([]byte, 0, len(p)+3)
	frame = append(frame, frameStart, frameReply, byte(len(p)))
	frame = append(frame, p...)

	select {
	case <-t.closed:
		return errBridgeClosed
	default:
	}
	r := reply{ctx: ctx, frame: frame, errc: make(chan error, 1)}
	select {
	case t.replies <- r:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return errBridgeClosed
	}
	select {
	case err := <-r.errc:
		if err != nil {
			return fmt.Errorf("bridge: write reply: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.wdone:
		return errBridgeClosed
	}
}

func (t *bridgeTarget) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.rwc.Close()
		<-t.done
		<-t.wdone
	})
	return err
}
