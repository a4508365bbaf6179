package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/pankha-project/pankha-agent/internal/command"
	"github.com/pankha-project/pankha-agent/internal/config"
	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/hardware"
	"github.com/pankha-project/pankha-agent/internal/logger"
	"github.com/pankha-project/pankha-agent/internal/pid"
	"github.com/pankha-project/pankha-agent/internal/session"
	"github.com/pankha-project/pankha-agent/internal/telemetry"
	"github.com/pankha-project/pankha-agent/internal/watchdog"
)

// version is set at build time via -ldflags.
var version = "dev"

type cliFlags struct {
	configPath   string
	testHardware bool
	debug        bool
	verbose      bool
	service      bool
	foreground   bool
	showVersion  bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "path to config file")
	flag.BoolVar(&f.testHardware, "test-hardware", false, "discover sensors and fans, print the result and exit")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flag.BoolVar(&f.verbose, "verbose", false, "enable verbose logging")
	flag.BoolVar(&f.service, "service", false, "log in service format (no timestamps, plain output)")
	flag.BoolVar(&f.foreground, "foreground", false, "force console log format even under a service manager")
	flag.BoolVar(&f.showVersion, "version", false, "print version and exit")
	flag.Parse()

	return f
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("pankha-agent %s\n", version)
		return
	}

	if flags.configPath != "" {
		os.Setenv("PANKHA_AGENT_CONFIG", flags.configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	isService := flags.service || (!flags.foreground && logger.IsService())
	logger.Init(snap.Debug || flags.debug, snap.Verbose || flags.verbose, isService)
	if !snap.Debug && !flags.debug && !snap.Verbose && !flags.verbose {
		_ = logger.SetLevel(snap.Agent.LogLevel)
	}
	logger.Debug().Msg("Config loaded")

	hw := hardware.NewHwmonPort()

	if flags.testHardware {
		testHardware(hw)
		return
	}

	if err := pid.Write(); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			logger.Fatal().Msg("pankha-agent is already running")
		}
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("failed to write PID file")
		}
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	var collector telemetry.Collector
	if snap.Telemetry.Enabled {
		collector, err = telemetry.NewService(telemetry.Config{DBPath: snap.Telemetry.Database})
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry archive unavailable, continuing without")
			collector = nil
		} else {
			defer collector.Close()
		}
	}

	dog := watchdog.New(hw, cfg, collector)
	executor := command.NewExecutor(hw, cfg)
	sess := session.NewManager(cfg, hw, executor, dog, collector, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dog.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("watchdog stopped")
		}
	}()

	logger.Info().Msgf("pankha-agent %s starting (agent: %s, backend: %s)",
		version, snap.Agent.ID, snap.Backend.ServerURL)

	if err := sess.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("session terminated")
	}

	cancel()
	wg.Wait()
	logger.Info().Msg("Shutdown complete")
}

// testHardware prints everything the agent would report on registration.
func testHardware(hw hardware.Port) {
	ctx := context.Background()

	sensors, err := hw.DiscoverSensors(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor discovery failed: %v\n", err)
		os.Exit(1)
	}

	fans, err := hw.DiscoverFans(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fan discovery failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sensors (%d):\n", len(sensors))
	for _, s := range sensors {
		fmt.Printf("  %-24s %6.1f°C  [%s]\n", s.ID, s.Temperature, s.Type)
	}

	fmt.Printf("Fans (%d):\n", len(fans))
	for _, f := range fans {
		auto := ""
		if f.SupportsAuto {
			auto = "  auto-capable"
		}
		fmt.Printf("  %-24s %5d RPM  %3d%%%s\n", f.ID, f.RPM, f.Speed, auto)
	}

	if health, err := hw.ReadSystemHealth(ctx); err == nil {
		fmt.Printf("System: CPU %.1f%%, memory %.1f%%\n", health.CPUUsage, health.MemoryUsage)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
