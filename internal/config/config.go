package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"

	"tankd/internal/pwm"
)

// EnvPrefix marks environment overrides. Nesting uses a double underscore:
// TANKD_SERVER__LISTEN=:8080 sets server.listen.
const EnvPrefix = "TANKD_"

type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	PWM    PWMConfig    `koanf:"pwm" yaml:"pwm"`
	Motor  MotorConfig  `koanf:"motor" yaml:"motor"`
	Logs   LogsConfig   `koanf:"logs" yaml:"logs"`
}

type ServerConfig struct {
	Listen string `koanf:"listen" yaml:"listen"`
}

type PWMConfig struct {
	// Backend is i2cdev, periph or sim.
	Backend     string           `koanf:"backend" yaml:"backend"`
	Bus         string           `koanf:"bus" yaml:"bus"`
	Address     uint16           `koanf:"address" yaml:"address"`
	FrequencyHz int              `koanf:"frequency_hz" yaml:"frequency_hz"`
	EnableGPIO  EnableGPIOConfig `koanf:"enable_gpio" yaml:"enable_gpio"`
}

type EnableGPIOConfig struct {
	Chip string `koanf:"chip" yaml:"chip"`
	// Line < 0 disables the enable output.
	Line int `koanf:"line" yaml:"line"`
}

type MotorConfig struct {
	ChannelA int           `koanf:"channel_a" yaml:"channel_a"`
	ChannelB int           `koanf:"channel_b" yaml:"channel_b"`
	Hold     time.Duration `koanf:"hold" yaml:"hold"`
}

type LogsConfig struct {
	MaxLines int `koanf:"max_lines" yaml:"max_lines"`
}

// Default matches the robot as wired: PCA9685 at 0x40 on I2C bus 1 running
// at 40 Hz, motors on channels 0 and 1, two second moves, port 5000.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: "0.0.0.0:5000"},
		PWM: PWMConfig{
			Backend:     "i2cdev",
			Bus:         "/dev/i2c-1",
			Address:     0x40,
			FrequencyHz: 40,
			EnableGPIO:  EnableGPIOConfig{Line: -1},
		},
		Motor: MotorConfig{ChannelA: 0, ChannelB: 1, Hold: 2 * time.Second},
		Logs:  LogsConfig{MaxLines: 2000},
	}
}

// Load layers defaults, the YAML file at path (skipped when path is empty or
// the file does not exist) and TANKD_* environment variables, then validates.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: defaults: %w", err)
	}

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// DefaultAndValidate fills zero values and rejects configs the hardware
// cannot honor.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	def := Default()

	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = def.Server.Listen
	}

	cfg.PWM.Backend = strings.ToLower(strings.TrimSpace(cfg.PWM.Backend))
	switch cfg.PWM.Backend {
	case "":
		cfg.PWM.Backend = def.PWM.Backend
	case "i2cdev", "periph", "sim":
	default:
		return fmt.Errorf("pwm.backend must be one of i2cdev, periph, sim (got %q)", cfg.PWM.Backend)
	}
	if cfg.PWM.Backend != "sim" && strings.TrimSpace(cfg.PWM.Bus) == "" {
		cfg.PWM.Bus = def.PWM.Bus
	}
	if cfg.PWM.Address == 0 {
		cfg.PWM.Address = def.PWM.Address
	}
	if cfg.PWM.Address > 0x7F {
		return fmt.Errorf("pwm.address 0x%X is not a 7-bit i2c address", cfg.PWM.Address)
	}
	if cfg.PWM.FrequencyHz == 0 {
		cfg.PWM.FrequencyHz = def.PWM.FrequencyHz
	}
	if cfg.PWM.FrequencyHz < pwm.MinFrequencyHz || cfg.PWM.FrequencyHz > pwm.MaxFrequencyHz {
		return fmt.Errorf("pwm.frequency_hz must be in [%d,%d] (got %d)", pwm.MinFrequencyHz, pwm.MaxFrequencyHz, cfg.PWM.FrequencyHz)
	}
	if cfg.PWM.EnableGPIO.Line >= 0 && strings.TrimSpace(cfg.PWM.EnableGPIO.Chip) == "" {
		cfg.PWM.EnableGPIO.Chip = "gpiochip0"
	}

	for name, ch := range map[string]int{"motor.channel_a": cfg.Motor.ChannelA, "motor.channel_b": cfg.Motor.ChannelB} {
		if ch < 0 || ch > 15 {
			return fmt.Errorf("%s must be in [0,15] (got %d)", name, ch)
		}
	}
	if cfg.Motor.ChannelA == cfg.Motor.ChannelB {
		return fmt.Errorf("motor.channel_a and motor.channel_b must differ (both %d)", cfg.Motor.ChannelA)
	}
	if cfg.Motor.Hold <= 0 {
		cfg.Motor.Hold = def.Motor.Hold
	}

	if cfg.Logs.MaxLines <= 0 {
		cfg.Logs.MaxLines = def.Logs.MaxLines
	}
	return nil
}

// Write emits cfg as YAML, in the shape Load reads back.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
