package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tankd/internal/config"
	"tankd/internal/motor"
	"tankd/internal/pwm"
	"tankd/internal/web"
)

func main() {
	var configPath string
	var printConfig bool
	flag.StringVar(&configPath, "config", "./tankd.yaml", "Path to YAML config (optional)")
	flag.BoolVar(&printConfig, "print-config", false, "Print the effective config as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if printConfig {
		if err := config.Write(os.Stdout, cfg); err != nil {
			log.Fatalf("config print failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(cfg.Logs.MaxLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logs); err != nil {
		log.Fatalf("tankd: %v", err)
	}
}

func pwmConfig(cfg config.Config) pwm.Config {
	return pwm.Config{
		Backend:     cfg.PWM.Backend,
		Bus:         cfg.PWM.Bus,
		Address:     cfg.PWM.Address,
		FrequencyHz: cfg.PWM.FrequencyHz,
		EnableChip:  cfg.PWM.EnableGPIO.Chip,
		EnableLine:  cfg.PWM.EnableGPIO.Line,
	}
}

var openPWMFn = pwm.Open

// run owns the hardware for the life of the process. It returns once ctx ends
// and the motors have been stopped.
func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	drv, err := openPWMFn(pwmConfig(cfg))
	if err != nil {
		return fmt.Errorf("pwm init failed: %w", err)
	}
	defer func() {
		if err := drv.Close(); err != nil {
			log.Printf("pwm close: %v", err)
		}
	}()

	ctl, err := motor.New(drv, motor.Config{
		ChannelA: cfg.Motor.ChannelA,
		ChannelB: cfg.Motor.ChannelB,
		Hold:     cfg.Motor.Hold,
	})
	if err != nil {
		return err
	}

	chA, chB := ctl.Channels()
	status := web.NewStatus()
	status.SetStatic(web.StaticInfo{
		Listen:      cfg.Server.Listen,
		Backend:     cfg.PWM.Backend,
		FrequencyHz: cfg.PWM.FrequencyHz,
		ChannelA:    chA,
		ChannelB:    chB,
		Hold:        ctl.Hold().String(),
	})

	srv := web.NewServer(ctx, cfg.Server.Listen, web.Handler(ctl, status, logs), ctl.Hold())

	log.Printf("tankd starting")
	log.Printf("http listen=%s channels=%d,%d hold=%s", cfg.Server.Listen, chA, chB, ctl.Hold())

	serveErr := web.Serve(ctx, srv)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	log.Printf("tankd stopping")
	if err := ctl.Stop(context.Background()); err != nil {
		log.Printf("final stop failed: %v", err)
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}
