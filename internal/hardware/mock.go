package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is a thread-safe in-memory board for testing and development.
type Mock struct {
	mu           sync.Mutex
	waterLevel   uint8
	conductivity float32
	pumpDuty     uint8
	pumpHistory  []uint8
	leds         [numLEDs]uint8
	pdResets     int
	failResetPD  bool

	port *MockPort
	bus  *Bus
}

var _ Board = (*Mock)(nil)

// NewMock creates a mock board with a half-full reservoir and a MockPort
// bus.
func NewMock() *Mock {
	port := NewMockPort()
	return &Mock{
		waterLevel:   50,
		conductivity: 1.2,
		port:         port,
		bus:          NewBus(port, 0),
	}
}

// Port returns the mock bus peripheral for scripting peers and bus traffic.
func (m *Mock) Port() *MockPort { return m.port }

func (m *Mock) Init(ctx context.Context) error { return nil }

// SetWaterLevel sets the value returned by WaterLevel.
func (m *Mock) SetWaterLevel(v uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waterLevel = v
}

func (m *Mock) WaterLevel() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waterLevel
}

// SetConductivity sets the value returned by Conductivity.
func (m *Mock) SetConductivity(v float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conductivity = v
}

func (m *Mock) Conductivity() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conductivity
}

func (m *Mock) SetPumpDuty(duty uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pumpDuty = duty
	m.pumpHistory = append(m.pumpHistory, duty)
}

func (m *Mock) PumpDuty() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pumpDuty
}

// PumpHistory returns every duty written, oldest first.
func (m *Mock) PumpHistory() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint8, len(m.pumpHistory))
	copy(out, m.pumpHistory)
	return out
}

func (m *Mock) SetLED(led LED, level uint8) {
	if led < 0 || led >= numLEDs {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leds[led] = level
}

func (m *Mock) ToggleLED(led LED) {
	if led < 0 || led >= numLEDs {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leds[led] == 0 {
		m.leds[led] = 255
	} else {
		m.leds[led] = 0
	}
}

// LED returns the current LED level for testing purposes.
func (m *Mock) LED(led LED) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leds[led]
}

// SetFailResetPD configures ResetPD to fail.
func (m *Mock) SetFailResetPD(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failResetPD = fail
}

func (m *Mock) ResetPD(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failResetPD {
		return ErrHardware("mock: PD reset failure configured")
	}
	m.pdResets++
	return nil
}

// PDResets returns how many times ResetPD succeeded.
func (m *Mock) PDResets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pdResets
}

func (m *Mock) Bus() *Bus { return m.bus }

func (m *Mock) IsReal() bool { return false }

func (m *Mock) Close() error {
	m.SetPumpDuty(0)
	return nil
}

// RegisterFunc computes a register value on every read.
type RegisterFunc func() []byte

// MockPort is an in-memory two-wire peripheral. In controller mode it
// emulates register-addressed peers; in target mode tests inject controller
// traffic with Receive and Request.
type MockPort struct {
	mu        sync.Mutex
	regs      map[uint16]map[byte]RegisterFunc
	writes    []Write
	failOpen  bool
	failTx    bool
	ctrlOpens int
	tgtOpens  int

	target     *mockTarget
	replies    chan []byte
	replyDelay time.Duration
}

// Write records one controller-mode write transaction.
type Write struct {
	Addr uint16
	Data []byte
}

var _ Port = (*MockPort)(nil)

func NewMockPort() *MockPort {
	return &MockPort{
		regs:    make(map[uint16]map[byte]RegisterFunc),
		replies: make(chan []byte, 16),
	}
}

// SetRegister sets a fixed register value on the peer at addr. Registering
// any value makes the peer acknowledge its address.
func (p *MockPort) SetRegister(addr uint16, reg byte, val []byte) {
	v := append([]byte(nil), val...)
	p.SetRegisterFunc(addr, reg, func() []byte { return v })
}

// SetRegisterFunc installs a computed register on the peer at addr.
func (p *MockPort) SetRegisterFunc(addr uint16, reg byte, fn RegisterFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.regs[addr] == nil {
		p.regs[addr] = make(map[byte]RegisterFunc)
	}
	p.regs[addr][reg] = fn
}

// Writes returns the recorded controller-mode writes, oldest first.
func (p *MockPort) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Write, len(p.writes))
	copy(out, p.writes)
	return out
}

// SetFailOpen makes both Open calls fail.
func (p *MockPort) SetFailOpen(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOpen = fail
}

// SetFailTx makes every controller transaction fail.
func (p *MockPort) SetFailTx(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTx = fail
}

// Opens returns how many times controller and target mode were opened.
func (p *MockPort) Opens() (controller, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrlOpens, p.tgtOpens
}

func (p *MockPort) OpenController() (ControllerConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOpen {
		return nil, ErrHardware("mock: open failure configured")
	}
	p.ctrlOpens++
	return &mockController{port: p}, nil
}

func (p *MockPort) OpenTarget(addr uint16, h TargetHandler) (TargetConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOpen {
		return nil, ErrHardware("mock: open failure configured")
	}
	p.tgtOpens++
	p.target = &mockTarget{port: p, addr: addr, h: h}
	return p.target, nil
}

func (p *MockPort) tx(addr uint16, w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTx {
		return ErrHardware("mock: transaction failure configured")
	}
	dev, ok := p.regs[addr]
	if !ok {
		return ErrHardware(fmt.Sprintf("mock: no device at 0x%02x", addr))
	}
	if len(w) > 0 {
		p.writes = append(p.writes, Write{Addr: addr, Data: append([]byte(nil), w...)})
	}
	if len(r) == 0 {
		return nil
	}
	var reg byte
	if len(w) > 0 {
		reg = w[0]
	}
	clear(r)
	if fn, ok := dev[reg]; ok {
		copy(r, fn())
	}
	return nil
}

// Receive injects a controller write of data, as the target interrupt would.
func (p *MockPort) Receive(data []byte) error {
	t, err := p.activeTarget()
	if err != nil {
		return err
	}
	t.h.OnReceive(data)
	return nil
}

// Request injects a controller read and waits for the reply.
func (p *MockPort) Request(ctx context.Context) ([]byte, error) {
	t, err := p.activeTarget()
	if err != nil {
		return nil, err
	}
	t.h.OnRequest()
	select {
	case b := <-p.replies:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetReplyDelay delays every target reply, to exercise reply timeouts.
func (p *MockPort) SetReplyDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyDelay = d
}

func (p *MockPort) activeTarget() (*mockTarget, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target == nil || p.target.closed {
		return nil, ErrHardware("mock: target mode not open")
	}
	return p.target, nil
}

type mockController struct {
	port   *MockPort
	closed bool
}

func (c *mockController) Tx(addr uint16, w, r []byte) error {
	if c.closed {
		return ErrHardware("mock: controller closed")
	}
	return c.port.tx(addr, w, r)
}

func (c *mockController) Close() error {
	c.closed = true
	return nil
}

type mockTarget struct {
	port   *MockPort
	addr   uint16
	h      TargetHandler
	closed bool
}

func (t *mockTarget) Reply(ctx context.Context, p []byte) error {
	t.port.mu.Lock()
	delay := t.port.replyDelay
	t.port.mu.Unlock()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	select {
	case t.port.replies <- append([]byte(nil), p...):
	default:
	}
	return nil
}

func (t *mockTarget) Close() error {
	t.port.mu.Lock()
	defer t.port.mu.Unlock()
	t.closed = true
	return nil
}
