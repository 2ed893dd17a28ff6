//go:build !linux

package i2c

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var ErrClosed = errors.New("i2c: bus closed")

type Bus struct{}

func Open(path string) (*Bus, error) {
	return nil, fmt.Errorf("i2c: unsupported OS (need linux)")
}

func (b *Bus) String() string                    { return "i2c(unsupported)" }
func (b *Bus) SetSpeed(f physic.Frequency) error { return fmt.Errorf("i2c: unsupported OS") }
func (b *Bus) Close() error                      { return nil }
func (b *Bus) Tx(addr uint16, w, r []byte) error { return fmt.Errorf("i2c: unsupported OS") }
