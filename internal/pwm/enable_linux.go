//go:build linux

package pwm

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

type gpiodEnable struct {
	line *gpiocdev.Line
}

// openEnableLine requests offset on the GPIO character device chip (gpiochip0
// or /dev/gpiochip0) as an output driven high.
func openEnableLine(chip string, offset int) (enableLine, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("tankd-enable"))
	if err != nil {
		return nil, fmt.Errorf("pwm: enable line %s:%d: %w", chip, offset, err)
	}
	return &gpiodEnable{line: line}, nil
}

func (g *gpiodEnable) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	return err
}
