// Package motor turns symbolic drive commands into duty writes on the two
// track motors of a differential-drive robot.
package motor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tankd/internal/pwm"
)

// DefaultHold is how long a movement keeps its duties before the trailing stop.
const DefaultHold = 2 * time.Second

type Command int

const (
	Stop Command = iota
	Forward
	Backward
	Left
	Right
)

var commandNames = map[Command]string{
	Stop:     "stop",
	Forward:  "forward",
	Backward: "backward",
	Left:     "left",
	Right:    "right",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Commands lists every command in declaration order.
func Commands() []Command {
	return []Command{Stop, Forward, Backward, Left, Right}
}

type plan struct {
	a, b uint16
	hold bool
}

// Forward and backward are identical on the wire: the board has no polarity
// input wired, so direction cannot be encoded in duty alone.
var plans = map[Command]plan{
	Forward:  {a: pwm.MaxDuty, b: pwm.MaxDuty, hold: true},
	Backward: {a: pwm.MaxDuty, b: pwm.MaxDuty, hold: true},
	Left:     {a: 0, b: pwm.MaxDuty, hold: true},
	Right:    {a: pwm.MaxDuty, b: 0, hold: true},
	Stop:     {},
}

type Config struct {
	ChannelA int
	ChannelB int
	Hold     time.Duration

	// After replaces the hold timer. Nil uses a real time.Timer.
	After func(time.Duration) <-chan time.Time
}

// Controller owns the PWM driver for the process lifetime. Each command runs
// start to finish under one lock, so concurrent callers are serialized and
// never interleave writes on the channels.
type Controller struct {
	drv   pwm.Driver
	chA   int
	chB   int
	hold  time.Duration
	after func(time.Duration) <-chan time.Time

	mu sync.Mutex

	stateMu sync.Mutex
	active  Command
	busy    bool
}

func New(drv pwm.Driver, cfg Config) (*Controller, error) {
	if drv == nil {
		return nil, fmt.Errorf("motor: driver is nil")
	}
	for _, ch := range []int{cfg.ChannelA, cfg.ChannelB} {
		if ch < 0 || ch >= pwm.Channels {
			return nil, fmt.Errorf("motor: channel %d out of range [0,%d)", ch, pwm.Channels)
		}
	}
	if cfg.ChannelA == cfg.ChannelB {
		return nil, fmt.Errorf("motor: channel_a and channel_b are both %d", cfg.ChannelA)
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	return &Controller{
		drv:   drv,
		chA:   cfg.ChannelA,
		chB:   cfg.ChannelB,
		hold:  cfg.Hold,
		after: cfg.After,
	}, nil
}

func (c *Controller) Forward(ctx context.Context) error  { return c.Do(ctx, Forward) }
func (c *Controller) Backward(ctx context.Context) error { return c.Do(ctx, Backward) }
func (c *Controller) Left(ctx context.Context) error     { return c.Do(ctx, Left) }
func (c *Controller) Right(ctx context.Context) error    { return c.Do(ctx, Right) }
func (c *Controller) Stop(ctx context.Context) error     { return c.Do(ctx, Stop) }

// Do runs cmd to completion. A movement writes channel A, then channel B,
// holds, then writes zero to both. A movement whose ctx is already done when
// it reaches the front of the queue writes nothing. If ctx ends during the
// hold the motors are stopped early and ctx.Err() is returned. A failed write aborts the sequence
// after a best-effort stop.
func (c *Controller) Do(ctx context.Context, cmd Command) error {
	p, ok := plans[cmd]
	if !ok {
		return fmt.Errorf("motor: unknown %s", cmd)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setActive(cmd, true)
	defer c.setActive(cmd, false)

	if !p.hold {
		if err := c.halt(); err != nil {
			return fmt.Errorf("motor: %s: %w", cmd, err)
		}
		return nil
	}

	// A caller that gave up while queued gets nothing energized.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("motor: %s: %w", cmd, err)
	}

	if err := c.drive(p.a, p.b); err != nil {
		log.Printf("motor: %s aborted: %v", cmd, err)
		return fmt.Errorf("motor: %s: %w", cmd, errors.Join(err, c.halt()))
	}

	waitErr := c.wait(ctx)
	if waitErr != nil {
		log.Printf("motor: %s hold cut short: %v", cmd, waitErr)
	}
	if err := c.halt(); err != nil {
		return fmt.Errorf("motor: %s: %w", cmd, errors.Join(waitErr, err))
	}
	return waitErr
}

// Active reports the command currently holding the controller, if any.
func (c *Controller) Active() (Command, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.active, c.busy
}

func (c *Controller) Hold() time.Duration { return c.hold }

func (c *Controller) Channels() (a, b int) { return c.chA, c.chB }

func (c *Controller) setActive(cmd Command, busy bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.active = cmd
	c.busy = busy
}

func (c *Controller) drive(a, b uint16) error {
	if err := c.drv.SetDuty(c.chA, a); err != nil {
		return err
	}
	return c.drv.SetDuty(c.chB, b)
}

// halt zeroes both channels, trying B even when A fails.
func (c *Controller) halt() error {
	errA := c.drv.SetDuty(c.chA, 0)
	errB := c.drv.SetDuty(c.chB, 0)
	return errors.Join(errA, errB)
}

func (c *Controller) wait(ctx context.Context) error {
	var fire <-chan time.Time
	if c.after != nil {
		fire = c.after(c.hold)
	} else {
		t := time.NewTimer(c.hold)
		defer t.Stop()
		fire = t.C
	}
	select {
	case <-fire:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
