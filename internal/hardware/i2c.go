//go:build linux

package hardware

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	i2cRdwrIOCTL = 0x0707 // I2C_RDWR ioctl: combined write+read with REPEATED START
	i2cMsgRD     = 0x0001 // i2c_msg flag: read direction
)

// i2cMsg mirrors struct i2c_msg from linux/i2c.h
type i2cMsg struct {
	addr   uint16
	flags  uint16
	length uint16
	_pad   uint16 // struct alignment
	buf    uintptr
}

// i2cRdwr mirrors struct i2c_rdwr_ioctl_data from linux/i2c-dev.h
type i2cRdwr struct {
	msgs  uintptr
	nmsgs uint32
}

// I2CController is a controller-mode connection to a Linux i2c-dev adapter.
// Every transaction is issued with I2C_RDWR so a write followed by a read is
// joined by a REPEATED START, which register-addressed peers require.
type I2CController struct {
	mu   sync.Mutex
	fd   int
	path string
}

// OpenI2C opens the i2c-dev character device at path.
func OpenI2C(path string) (*I2CController, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &I2CController{fd: fd, path: path}, nil
}

// Tx writes w and then reads len(r) bytes from the device at addr. Either
// buffer may be empty.
func (c *I2CController) Tx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return fmt.Errorf("i2c: %s closed", c.path)
	}

	var msgs [2]i2cMsg
	n := 0
	if len(w) > 0 {
		msgs[n] = i2cMsg{addr: addr, length: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		msgs[n] = i2cMsg{addr: addr, flags: i2cMsgRD, length: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	if n == 0 {
		return nil
	}
	rdwr := i2cRdwr{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(n)}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), i2cRdwrIOCTL, uintptr(unsafe.Pointer(&rdwr))); errno != 0 {
		return fmt.Errorf("i2c: I2C_RDWR 0x%02x w=%d r=%d: %w", addr, len(w), len(r), errno)
	}
	return nil
}

// Close releases the file descriptor.
func (c *I2CController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// SystemPort combines the Linux i2c-dev adapter (controller mode) with the
// USB-serial target bridge (target mode) that share the same two-wire bus.
type SystemPort struct {
	Device string // i2c-dev path, e.g. /dev/i2c-1
	Bridge BridgeConfig
}

var _ Port = (*SystemPort)(nil)

func (p *SystemPort) OpenController() (ControllerConn, error) {
	return OpenI2C(p.Device)
}

func (p *SystemPort) OpenTarget(addr uint16, h TargetHandler) (TargetConn, error) {
	return OpenBridge(p.Bridge, addr, h)
}
