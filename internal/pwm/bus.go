package pwm

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	tanki2c "tankd/internal/i2c"
)

func openBus(backend, name string) (i2c.BusCloser, error) {
	switch backend {
	case BackendI2CDev:
		if strings.TrimSpace(name) == "" {
			name = "/dev/i2c-1"
		}
		bus, err := tanki2c.Open(name)
		if err != nil {
			return nil, fmt.Errorf("pwm: %w", err)
		}
		return bus, nil
	case BackendPeriph:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("pwm: periph host init: %w", err)
		}
		bus, err := i2creg.Open(periphBusName(name))
		if err != nil {
			return nil, fmt.Errorf("pwm: periph open bus %q: %w", name, err)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("pwm: backend %q has no bus", backend)
	}
}

// periphBusName accepts the i2c-dev path form too, so the same config value
// works for both bus backends.
func periphBusName(name string) string {
	name = strings.TrimSpace(name)
	return strings.TrimPrefix(name, "/dev/i2c-")
}
