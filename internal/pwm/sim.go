package pwm

import (
	"sync"
	"time"
)

// Write is one duty update observed by a Sim.
type Write struct {
	Channel int
	Value   uint16
	At      time.Time
}

// Sim is an in-memory Driver. It keeps the current duty per channel and the
// full write history, and can inject a fault on chosen writes.
type Sim struct {
	mu     sync.Mutex
	freq   int
	duty   [Channels]uint16
	writes []Write
	closed bool
	fault  func(channel int, value uint16) error

	now func() time.Time
}

func NewSim() *Sim {
	return &Sim{now: time.Now}
}

func (s *Sim) SetFrequency(hz int) error {
	if err := checkFrequency(hz); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.freq = hz
	return nil
}

func (s *Sim) SetDuty(channel int, value uint16) error {
	if err := checkWrite(channel, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.fault != nil {
		if err := s.fault(channel, value); err != nil {
			return err
		}
	}
	s.duty[channel] = value
	s.writes = append(s.writes, Write{Channel: channel, Value: value, At: s.now()})
	return nil
}

// Close zeroes every channel, like a chip that loses its enable line.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.duty = [Channels]uint16{}
	return nil
}

// SetFault installs fn to be consulted before every write; a non-nil return
// fails that write and leaves the channel unchanged.
func (s *Sim) SetFault(fn func(channel int, value uint16) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Sim) Frequency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freq
}

func (s *Sim) Duty(channel int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel < 0 || channel >= Channels {
		return 0
	}
	return s.duty[channel]
}

func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

func (s *Sim) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
