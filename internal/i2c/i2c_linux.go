//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Linux I2C bus backed by the /dev/i2c-* character device.
//
// Transfers go through I2C_RDWR so a register write followed by a read is a
// single combined transaction (repeated start).

const (
	i2cMrd  = 0x0001
	i2cRdwr = 0x0707
)

// ErrClosed is returned by Tx after Close.
var ErrClosed = errors.New("i2c: bus closed")

type msg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened I2C adapter (e.g., /dev/i2c-1). It satisfies
// periph.io/x/conn/v3/i2c.BusCloser so chip drivers from periph can sit on it.
//
// Tx is serialized internally.
type Bus struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

var _ i2c.BusCloser = (*Bus)(nil)

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) String() string {
	if b == nil {
		return "i2c(nil)"
	}
	return b.path
}

// SetSpeed is not supported: the clock rate of an i2c-dev adapter is fixed by
// the kernel driver (dtparam=i2c_arm_baudrate on a Pi).
func (b *Bus) SetSpeed(f physic.Frequency) error {
	return fmt.Errorf("i2c: %s: bus speed is set by the kernel, not %s", b, f)
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Tx writes w then reads into r from the 7-bit address addr. Either slice may
// be empty; both empty is a no-op.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if b == nil {
		return ErrClosed
	}
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("i2c: invalid addr 0x%X", addr)
	}

	msgs := make([]msg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, msg{addr: addr, flags: 0, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, msg{addr: addr, flags: i2cMrd, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return ErrClosed
	}

	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("i2c: %s addr 0x%02X: %w", b.path, addr, errno)
	}
	return nil
}
