// Package registers defines the register table exposed to the downstream bus
// controller. Each address maps to an optional getter, an optional setter and a
// fixed payload width.
package registers

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
)

// Address is a register address as carried in the first byte of a bus write.
type Address = uint8

// Register addresses. The set is dense and zero-based.
const (
	RegReserved     Address = 0x00 // unused, no getter or setter
	RegChipID       Address = 0x01 // read-only, 1 byte
	RegVersion      Address = 0x02 // read/write, 1 byte
	RegPumpDuty     Address = 0x03 // read/write, 1 byte (0-255)
	RegWaterLevel   Address = 0x04 // read-only, 1 byte (0-100, 0xFF on sensor fault)
	RegConductivity Address = 0x05 // read-only, 4 bytes float32 little-endian
	RegFloodControl Address = 0x06 // read/write, 1 byte (1=start, 0=stop)

	NumRegisters = 7
)

// MaxPayload bounds the reply scratch buffer; no register may be wider.
const MaxPayload = 16

// Flood control register values.
const (
	FloodStop  byte = 0
	FloodStart byte = 1
)

// Getter fills out with the register value. len(out) equals the payload size.
type Getter func(out []byte)

// Setter applies a written payload. in holds every byte after the address.
type Setter func(in []byte)

// Descriptor describes one register.
type Descriptor struct {
	Address Address
	Name    string
	Get     Getter
	Set     Setter
	Size    int
}

func (d *Descriptor) Readable() bool { return d.Get != nil }
func (d *Descriptor) Writable() bool { return d.Set != nil }

// Access returns "r", "w", "rw" or "-".
func (d *Descriptor) Access() string {
	switch {
	case d.Readable() && d.Writable():
		return "rw"
	case d.Readable():
		return "r"
	case d.Writable():
		return "w"
	default:
		return "-"
	}
}

// Table is an immutable, address-indexed register table.
type Table struct {
	descs []Descriptor
}

// NewTable validates descs and returns a table. Descriptors must be ordered by
// address starting at zero with no gaps, and no payload may exceed MaxPayload.
func NewTable(descs []Descriptor) (*Table, error) {
	if len(descs) > 256 {
		return nil, fmt.Errorf("registers: %d descriptors exceed the address space", len(descs))
	}
	out := make([]Descriptor, len(descs))
	for i, d := range descs {
		if int(d.Address) != i {
			return nil, fmt.Errorf("registers: descriptor %d has address 0x%02x", i, d.Address)
		}
		if d.Size < 0 || d.Size > MaxPayload {
			return nil, fmt.Errorf("registers: 0x%02x payload size %d out of range", d.Address, d.Size)
		}
		if d.Get != nil && d.Size == 0 {
			return nil, fmt.Errorf("registers: 0x%02x is readable with zero payload", d.Address)
		}
		out[i] = d
	}
	return &Table{descs: out}, nil
}

// Lookup returns the descriptor at addr, or false if addr is out of range.
func (t *Table) Lookup(addr byte) (*Descriptor, bool) {
	if int(addr) >= len(t.descs) {
		return nil, false
	}
	return &t.descs[addr], true
}

// Len returns the number of registers.
func (t *Table) Len() int { return len(t.descs) }

// Descriptors returns a copy of the table in address order.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, len(t.descs))
	copy(out, t.descs)
	return out
}

// PutFloat32 encodes v little-endian into out[0:4].
func PutFloat32(out []byte, v float32) {
	binary.LittleEndian.PutUint32(out, math32.Float32bits(v))
}

// Float32 decodes a little-endian float32 from in[0:4].
func Float32(in []byte) float32 {
	return math32.Float32frombits(binary.LittleEndian.Uint32(in))
}
