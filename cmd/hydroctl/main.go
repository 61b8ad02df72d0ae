// Command hydroctl is the hydroponic controller daemon. It negotiates input
// power, serves the register map to the downstream bus controller and runs
// the flood safety loop. Run with --mock to use simulated hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/greenloop/hydroctl/internal/api"
	"github.com/greenloop/hydroctl/internal/config"
	"github.com/greenloop/hydroctl/internal/controller"
	"github.com/greenloop/hydroctl/internal/events"
	"github.com/greenloop/hydroctl/internal/hardware"
	"github.com/greenloop/hydroctl/internal/identity"
	"github.com/greenloop/hydroctl/internal/power"
	"github.com/greenloop/hydroctl/internal/telemetry"
	"github.com/greenloop/hydroctl/internal/zeroconf"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		mock     = flag.Bool("mock", false, "use simulated hardware (no bus or GPIO required)")
		cfgPath  = flag.String("config", config.DefaultSettingsPath, "settings file")
		addr     = flag.String("addr", "", "HTTP listen address (overrides http.addr)")
		stateDir = flag.String("state-dir", "", "state directory (overrides state_dir)")
		debug    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	settings, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("cannot load settings", "path", *cfgPath, "err", err)
		return 1
	}
	if *addr != "" {
		settings.HTTP.Addr = *addr
	}
	if *stateDir != "" {
		settings.StateDir = *stateDir
	}
	if err := os.MkdirAll(settings.StateDir, 0o755); err != nil {
		slog.Error("cannot create state directory", "path", settings.StateDir, "err", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var hw hardware.Board
	if *mock {
		slog.Info("using mock hardware")
		m := hardware.NewMock()
		power.NewSim(m.Port(), settings.Power.PDAddress, settings.Power.MonitorAddress, settings.RequestVoltage())
		hw = m
	} else {
		hw, err = openBoard(settings)
		if err != nil {
			slog.Error("hardware unavailable", "err", err)
			return 1
		}
	}
	if err := hw.Init(ctx); err != nil {
		slog.Error("hardware initialization failed", "err", err)
		return 1
	}
	defer hw.Close()

	store := config.NewJSONStore(settings.StateDir)
	bus := events.NewBus()

	ctrl, err := controller.New(hw, store, bus, settings, identity.Load(settings.StateDir))
	if err != nil {
		slog.Error("controller initialization failed", "err", err)
		return 1
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			slog.Warn("controller close", "err", err)
		}
	}()

	go func() {
		err := config.Watch(ctx, *cfgPath, func(s *config.Settings) {
			ctrl.SetFloodLimits(s.FloodLimits())
		})
		if err != nil {
			slog.Warn("settings reload disabled", "err", err)
		}
	}()

	var cal *telemetry.Calibrator
	if settings.Telemetry.Enabled {
		cal = telemetry.NewCalibrator(ctrl, settings.Telemetry.Period, settings.Telemetry.Alpha)
	}
	go telemetry.New(cal, hw, ctrl.Flooding).Start(ctx)

	if settings.HTTP.MDNS {
		zc := zeroconf.New(ctrl.Info(), listenPort(settings.HTTP.Addr))
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:        settings.HTTP.Addr,
		Handler:     api.NewRouter(ctrl, bus),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// no WriteTimeout: SSE streams stay open
	}
	go func() {
		slog.Info("hydroctl listening", "addr", settings.HTTP.Addr, "mock", *mock, "state", settings.StateDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
		}
	}()

	code := 0
	if err := ctrl.Run(ctx); err != nil {
		slog.Error("controller stopped", "err", err)
		code = 1
	}
	slog.Info("shutting down...")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
	return code
}

// listenPort extracts the TCP port from a listen address, defaulting to 80.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}
