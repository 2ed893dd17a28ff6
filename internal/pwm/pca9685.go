package pwm

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
)

// PCA9685 LEDn_ON_H / LEDn_OFF_H bit 4 forces the output fully on / off.
const fullBit gpio.Duty = 0x1000

type chip struct {
	mu     sync.Mutex
	bus    i2c.BusCloser
	dev    *pca9685.Dev
	closed bool
}

func newChip(bus i2c.BusCloser, addr uint16) (*chip, error) {
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("pwm: pca9685 at 0x%02X on %s: %w", addr, bus, err)
	}
	return &chip{bus: bus, dev: dev}, nil
}

func (c *chip) SetFrequency(hz int) error {
	if err := checkFrequency(hz); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.dev.SetPwmFreq(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("pwm: set frequency %dHz: %w", hz, err)
	}
	return nil
}

func (c *chip) SetDuty(channel int, value uint16) error {
	if err := checkWrite(channel, value); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	on, off := ledCounts(value)
	if err := c.dev.SetPwm(channel, on, off); err != nil {
		return fmt.Errorf("pwm: set duty ch=%d: %w", channel, err)
	}
	return nil
}

func (c *chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var offErr error
	if err := c.dev.SetAllPwm(0, fullBit); err != nil {
		offErr = fmt.Errorf("pwm: all outputs off: %w", err)
	}
	return errors.Join(offErr, c.bus.Close())
}

// ledCounts maps a 12-bit duty onto the chip's ON/OFF count pair. The two ends
// of the range use the full-off and full-on bits so they carry no glitch.
func ledCounts(value uint16) (on, off gpio.Duty) {
	switch {
	case value == 0:
		return 0, fullBit
	case value >= MaxDuty:
		return fullBit, 0
	default:
		return 0, gpio.Duty(value)
	}
}
