package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastercactapus/gsla/bus"
	"github.com/mastercactapus/gsla/command"
	"github.com/mastercactapus/gsla/config"
	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/hw"
	"github.com/mastercactapus/gsla/logging"
	"github.com/mastercactapus/gsla/motor"
	"github.com/mastercactapus/gsla/netif"
	"github.com/mastercactapus/gsla/printer"
	"github.com/mastercactapus/gsla/terminal"
	"github.com/rs/zerolog"
)

type options struct {
	configFile string
	noStdio    bool
	simulate   bool
}

type source struct {
	t   event.Type
	src event.Source
}

type subscription struct {
	s     event.Subscriber
	types []event.Type
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if opts.simulate {
		cfg.Serial.Simulate = true
	}

	log, logCloser, err := logging.New(cfg.LogOptions(os.Stderr))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	var sources []source

	var motorBus motor.Bus
	var rotations event.Source
	if cfg.Serial.Simulate {
		sim := bus.NewSim(cfg.SimConfig(), log)
		defer sim.Close()
		motorBus = sim
		rotations = sim.Rotations()
		sources = append(sources, source{event.MotorInterrupt, sim.Interrupts()})
		log.Warn().Msg("using simulated motor controller")
	} else {
		conn, err := bus.Open(cfg.BusConfig(), log)
		if err != nil {
			return err
		}
		defer conn.Close()
		motorBus = conn
		sources = append(sources, source{event.MotorInterrupt, conn.Interrupts()})
	}

	motorTimer := event.NewTimer()
	ctrl := motor.NewController(motorBus, motorTimer, cfg.MotorConfig(), log)
	if err := ctrl.Initialize(); err != nil {
		return err
	}

	timers := printer.Timers{
		Exposure:    event.NewTimer(),
		Delay:       event.NewTimer(),
		Temperature: event.NewTimer(),
	}
	statusQ := event.NewQueue(0)
	uiQ := event.NewQueue(64)

	var thermo printer.Thermometer
	if cfg.Temperature.Path != "" {
		th := hw.NewThermometer(cfg.Temperature.Path, cfg.Temperature.Interval, log)
		defer th.Close()
		thermo = th
	}

	engine, err := printer.NewEngine(ctrl, timers, statusQ, thermo, cfg.Settings(), cfg.Job(), log)
	if err != nil {
		return err
	}
	ctrl.SetOutcomeHandler(engine)

	lines := map[event.Type]int{
		event.DoorInterrupt:     cfg.GPIO.Door,
		event.ButtonInterrupt:   cfg.GPIO.Button,
		event.RotationInterrupt: cfg.GPIO.Rotation,
	}
	for _, t := range []event.Type{event.DoorInterrupt, event.ButtonInterrupt, event.RotationInterrupt} {
		lineCfg, ok := cfg.Line(lines[t])
		if !ok {
			continue
		}
		line, err := hw.OpenLine(lineCfg, log)
		if err != nil {
			return fmt.Errorf("%s line: %w", t, err)
		}
		defer line.Close()
		sources = append(sources, source{t, line})
		if t == event.DoorInterrupt {
			engine.HandleEvent(t, line.Value())
		}
		if t == event.RotationInterrupt {
			rotations = nil
		}
	}
	if rotations != nil {
		sources = append(sources, source{event.RotationInterrupt, rotations})
	}

	sources = append(sources,
		source{event.MotorTimeout, motorTimer},
		source{event.ExposureEnd, timers.Exposure.(*event.Timer)},
		source{event.DelayEnd, timers.Delay.(*event.Timer)},
		source{event.TemperatureTimer, timers.Temperature.(*event.Timer)},
		source{event.PrinterStatusUpdate, statusQ},
		source{event.UICommand, uiQ},
	)
	if !opts.noStdio {
		keyQ := event.NewQueue(64)
		sources = append(sources, source{event.Keyboard, keyQ})
		go terminal.ReadLines(os.Stdin, keyQ, log)
	}

	events := logging.NewEventLogger(log)
	m := event.NewMultiplexer(log, events)
	for _, s := range sources {
		if err := m.RegisterSource(s.t, s.src); err != nil {
			return err
		}
	}

	api := netif.NewAPI(uiQ, log)
	defer api.Close()
	interp := command.NewInterpreter(engine, log)

	subs := []subscription{
		// the logger goes first so its entries precede everything an event causes
		{events, event.Types()},
		{ctrl, []event.Type{event.MotorInterrupt, event.MotorTimeout}},
		{engine, []event.Type{
			event.ButtonInterrupt, event.DoorInterrupt, event.RotationInterrupt,
			event.DelayEnd, event.ExposureEnd, event.TemperatureTimer,
		}},
		{interp, []event.Type{event.UICommand, event.Keyboard}},
		{api, []event.Type{event.PrinterStatusUpdate}},
	}
	if !opts.noStdio {
		console := terminal.NewConsole(os.Stdout)
		interp.SetReplier(event.Keyboard, console)
		subs = append(subs, subscription{console, []event.Type{event.PrinterStatusUpdate}})
	}
	for _, sub := range subs {
		for _, t := range sub.types {
			if err := m.Subscribe(t, sub.s); err != nil {
				return err
			}
		}
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: withCORS(api, log)}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	signal.Ignore(syscall.SIGHUP)

	engine.Begin()
	err = m.Run(ctx)

	engine.Shutdown()
	if dErr := m.Drain(event.PrinterStatusUpdate); dErr != nil {
		log.Error().Err(dErr).Msg("drain status")
	}
	ctrl.Abort()
	if dErr := ctrl.Disable(); dErr != nil {
		log.Warn().Err(dErr).Msg("disable motors")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutting down")
		return nil
	}
	return err
}

func withCORS(h http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("remote", req.RemoteAddr).Msg("http")
		h.ServeHTTP(w, req)
	})
}
