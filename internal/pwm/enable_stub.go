//go:build !linux

package pwm

import "fmt"

func openEnableLine(chip string, offset int) (enableLine, error) {
	return nil, fmt.Errorf("pwm: gpio enable line unsupported on this platform")
}
