package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	debugpkg "runtime/debug"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Top-level panic handler: ensure any unexpected panic is captured to
	// panic.log with a stack trace so operators can inspect it.
	defer func() {
		if r := recover(); r != nil {
			path := "panic.log"
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\nbuild_time=%s\n%s\n\n",
					ts, r, buildTime, debugpkg.Stack())
			}
			panic(r)
		}
	}()

	logger.Info(agentString())

	args := os.Args[1:]
	overrides, err := parseCommandLine(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		logger.Stop()
		os.Exit(0)
	}
	if err != nil {
		fatal("command line", err)
	}

	quietMode = overrides.quiet
	verboseLogging = overrides.verbose || overrides.debug
	debugLogging = overrides.debug
	if debugLogging {
		setLogLevel(logLevelDebug)
	}

	cfg, err := loadConfig(overrides, len(args) == 0)
	if err != nil {
		fatal("config", err)
	}
	if err := applyRuntimeOverrides(&cfg, overrides); err != nil {
		fatal("config", err)
	}
	if err := validateConfig(cfg); err != nil {
		fatal("config", err)
	}
	configureLogging(cfg.LogFile)
	if verboseLogging {
		logger.Info("effective configuration", "config", cfg.Effective())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := NewProxyMetrics()
	bus, journal := startEventSinks(ctx, cfg, metrics)

	// The loop outlives the signal context so shutdown can still run on it.
	loop := newEventLoop(eventLoopQueueDepth)
	go loop.run(context.Background())

	p := NewProxy(ctx, cfg, loop, netPoolDialer{timeout: poolDialTimeout}, newExecLauncher(), metrics, bus)
	p.onFatal = func(err error) {
		bus.stop()
		fatal("configuration", err)
	}

	ln, err := listenMiners(cfg.MinerPort)
	if err != nil {
		fatal("miner listener", err)
	}
	logger.Info("listening for miner connections", "addr", ln.Addr().String())
	go p.serveMiners(ctx, ln)

	if cfg.StatusListen != "" {
		if _, err := NewStatusServer(p, journal).serveStatus(ctx, cfg.StatusListen); err != nil {
			fatal("status listener", err)
		}
	}

	loop.post(p.calibrate)

	<-ctx.Done()
	logger.Info("shutdown requested; stopping miner and pool connections")
	shutdownStart := time.Now()
	stopped := make(chan struct{})
	if !loop.post(func() { p.shutdown(func() { close(stopped) }) }) {
		close(stopped)
	}
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("timed out waiting for miner to stop", "waited", time.Since(shutdownStart))
	}
	loop.stop()
	bus.stop()
	logger.Info("shutdown complete", "uptime", time.Since(metrics.StartTime()).Truncate(time.Second))
	logger.Stop()
}

// loadConfig builds the runtime configuration from defaults and the config
// file. With no arguments at all and no config file the usage is printed and
// startup continues, which then fails for lack of pools.
func loadConfig(o runtimeOverrides, noArgs bool) (Config, error) {
	cfg := defaultConfig()
	if o.configPath != "" {
		cfg.ConfigPath = o.configPath
	}
	fc, found, err := loadConfigFile(cfg.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if !found {
		if noArgs {
			newFlagSet(&runtimeOverrides{}, os.Stderr).Usage()
		} else if o.configPath != "" {
			logger.Warn("config file not found; it will be created", "path", cfg.ConfigPath)
		}
		return cfg, nil
	}
	if verboseLogging {
		logger.Info("loaded config file", "path", cfg.ConfigPath)
	}
	applyFileConfig(&cfg, *fc)
	return cfg, nil
}

// startEventSinks opens the configured sinks and starts the bus. Sink setup
// failures are logged and the sink is skipped.
func startEventSinks(ctx context.Context, cfg Config, metrics *ProxyMetrics) (*eventBus, *eventJournal) {
	bus := newEventBus(metrics)
	var journal *eventJournal
	if cfg.StateDB != "" {
		db, err := openStateDB(cfg.StateDB)
		if err != nil {
			logger.Warn("state journal disabled", "path", cfg.StateDB, "error", err)
		} else {
			journal = newEventJournal(db)
			bus.addSink(journal)
		}
	}
	if cfg.discordEnabled() {
		notifier, err := newDiscordNotifier(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			logger.Warn("discord notices disabled", "error", err)
		} else {
			notifier.start(ctx)
			bus.addSink(notifier)
		}
	}
	if cfg.ZMQPublish != "" {
		pub, err := newZMQPublisher(cfg.ZMQPublish)
		if err != nil {
			logger.Warn("zmq publisher disabled", "error", err)
		} else {
			bus.addSink(pub)
		}
	}
	// Sinks keep running through shutdown; bus.stop flushes them.
	bus.start(context.WithoutCancel(ctx))
	return bus, journal
}
