// Package pwm drives the PWM controller that powers the tank's motors.
//
// A Driver writes 12-bit duty values to numbered channels. The production
// backend is a PCA9685 on an I2C bus; the sim backend records writes in memory
// for development hosts and tests.
package pwm

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

const (
	// MaxDuty is full power in the PCA9685 native 12-bit range.
	MaxDuty = 4095
	// Channels is the number of outputs on one PCA9685.
	Channels = 16

	// DefaultAddress is the PCA9685 power-on I2C address.
	DefaultAddress = 0x40

	// MinFrequencyHz and MaxFrequencyHz bound what the PCA9685 prescaler
	// can produce from its 25 MHz oscillator.
	MinFrequencyHz = 24
	MaxFrequencyHz = 1526
)

const (
	BackendI2CDev = "i2cdev"
	BackendPeriph = "periph"
	BackendSim    = "sim"
)

var (
	ErrChannelRange = errors.New("pwm: channel out of range")
	ErrDutyRange    = errors.New("pwm: duty out of range")
	ErrClosed       = errors.New("pwm: driver closed")
)

// Driver is the minimal surface the motor controller needs from a PWM chip.
//
// Close drives every output off before releasing the hardware and may be
// called twice.
type Driver interface {
	SetFrequency(hz int) error
	SetDuty(channel int, value uint16) error
	Close() error
}

type Config struct {
	// Backend is one of i2cdev, periph or sim.
	Backend string
	// Bus is a device path for i2cdev (/dev/i2c-1) or a periph bus name (1, I2C1).
	Bus         string
	Address     uint16
	FrequencyHz int

	// EnableChip/EnableLine name an optional GPIO that gates the motor driver
	// board (STBY on a TB6612, EN on an L298N). EnableLine < 0 disables it.
	EnableChip string
	EnableLine int
}

var openBusFn = openBus
var openEnableFn = openEnableLine

// Open brings up the configured backend and programs the switching frequency.
// There is no retry: callers treat an error as fatal.
func Open(cfg Config) (Driver, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Address == 0 {
		cfg.Address = DefaultAddress
	}

	var d Driver
	switch backend {
	case BackendSim:
		d = NewSim()
	case BackendI2CDev, BackendPeriph:
		bus, err := openBusFn(backend, cfg.Bus)
		if err != nil {
			return nil, err
		}
		c, err := newChip(bus, cfg.Address)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		d = c
	default:
		return nil, fmt.Errorf("pwm: unknown backend %q", cfg.Backend)
	}

	if err := d.SetFrequency(cfg.FrequencyHz); err != nil {
		_ = d.Close()
		return nil, err
	}

	if cfg.EnableLine >= 0 && strings.TrimSpace(cfg.EnableChip) != "" {
		line, err := openEnableFn(cfg.EnableChip, cfg.EnableLine)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d = &gated{Driver: d, line: line}
	}

	log.Printf("pwm: backend=%s bus=%s addr=0x%02X freq=%dHz", backend, cfg.Bus, cfg.Address, cfg.FrequencyHz)
	return d, nil
}

func checkFrequency(hz int) error {
	if hz < MinFrequencyHz || hz > MaxFrequencyHz {
		return fmt.Errorf("pwm: frequency %dHz outside [%d,%d]", hz, MinFrequencyHz, MaxFrequencyHz)
	}
	return nil
}

func checkWrite(channel int, value uint16) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("%w: %d", ErrChannelRange, channel)
	}
	if value > MaxDuty {
		return fmt.Errorf("%w: %d", ErrDutyRange, value)
	}
	return nil
}

// enableLine is a driver-board enable output, asserted while open.
type enableLine interface {
	Close() error
}

type gated struct {
	Driver
	line enableLine
}

func (g *gated) Close() error {
	// Outputs first, then drop the enable line.
	err := g.Driver.Close()
	if g.line != nil {
		err = errors.Join(err, g.line.Close())
		g.line = nil
	}
	return err
}
