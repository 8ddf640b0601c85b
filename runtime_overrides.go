package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type runtimeOverrides struct {
	configPath   string
	pools        []string
	minerPort    int
	user         string
	pass         string
	perf         map[string]float64
	smartMiners  []string
	algoMiners   []algoMiner
	watchdog     *int
	logFile      string
	statusListen string
	quiet        bool
	verbose      bool
	debug        bool
	noConfigSave bool
}

func configPathArg(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	lower := strings.ToLower(arg)
	return strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".toml")
}

func newFlagSet(o *runtimeOverrides, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("meta-miner", flag.ContinueOnError)
	fs.SetOutput(output)

	addPool := func(v string) error {
		o.pools = append(o.pools, strings.TrimSpace(v))
		return nil
	}
	fs.Func("pool", "pool in `host:port` format (port sslN/tlsN for TLS); repeat for backups", addPool)
	fs.Func("p", "shorthand for -pool", addPool)

	fs.IntVar(&o.minerPort, "port", 0, "local port for miner connections (default 3333)")
	fs.StringVar(&o.user, "user", "", "pool user login (taken from the first miner otherwise)")
	fs.StringVar(&o.user, "u", "", "shorthand for -user")
	fs.StringVar(&o.pass, "pass", "", "pool pass login (taken from the first miner otherwise)")

	fs.Func("perf", "hashrate for an algo class as `class=hashrate` (classes: "+strings.Join(algoClasses(), ", ")+")", func(v string) error {
		class, rate, ok := strings.Cut(v, "=")
		if !ok {
			return fmt.Errorf("expected class=hashrate, got %q", v)
		}
		hashrate, err := strconv.ParseFloat(strings.TrimSpace(rate), 64)
		if err != nil || hashrate < 0 {
			return fmt.Errorf("invalid hashrate %q", rate)
		}
		if o.perf == nil {
			o.perf = make(map[string]float64)
		}
		o.perf[strings.TrimSpace(class)] = hashrate
		return nil
	})

	addMiner := func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("empty miner command")
		}
		o.smartMiners = append(o.smartMiners, v)
		return nil
	}
	fs.Func("miner", "`command` of a smart miner that reports its algorithms; repeatable", addMiner)
	fs.Func("m", "shorthand for -miner", addMiner)

	fs.Func("algo-miner", "`algo=command` for a miner that can not report its algorithm; repeatable", func(v string) error {
		algo, command, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(algo) == "" || strings.TrimSpace(command) == "" {
			return fmt.Errorf("expected algo=command, got %q", v)
		}
		o.algoMiners = append(o.algoMiners, algoMiner{Algo: strings.TrimSpace(algo), Command: command})
		return nil
	})

	setWatchdog := func(v string) error {
		seconds, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || seconds < 0 {
			return fmt.Errorf("invalid watchdog seconds %q", v)
		}
		o.watchdog = &seconds
		return nil
	}
	fs.Func("watchdog", "restart the miner if it does not submit work for `seconds` (600 by default, 0 disables)", setWatchdog)
	fs.Func("w", "shorthand for -watchdog", setWatchdog)

	fs.StringVar(&o.logFile, "log", "", "log file `path`")
	fs.StringVar(&o.statusListen, "status-listen", "", "serve the JSON status API on `addr` (for example 127.0.0.1:8090)")
	fs.BoolVar(&o.quiet, "quiet", false, "do not show miner output during configuration and print fewer messages")
	fs.BoolVar(&o.quiet, "q", false, "shorthand for -quiet")
	fs.BoolVar(&o.verbose, "verbose", false, "show more messages")
	fs.BoolVar(&o.verbose, "v", false, "shorthand for -verbose")
	fs.BoolVar(&o.debug, "debug", false, "show pool and miner messages")
	fs.BoolVar(&o.noConfigSave, "no-config-save", false, "do not save the config file")

	fs.Usage = func() {
		fmt.Fprintf(output, "%s %s\n\n", poolSoftwareName, softwareVersion())
		fmt.Fprintf(output, "Usage: meta-miner [<config.json|config.toml>] [options]\n\n")
		fs.PrintDefaults()
	}
	return fs
}

// parseCommandLine accepts an optional leading config file path followed by
// flags. flag.ErrHelp is returned unchanged for -h/-help.
func parseCommandLine(args []string, output io.Writer) (runtimeOverrides, error) {
	var o runtimeOverrides
	if len(args) > 0 && configPathArg(args[0]) {
		o.configPath = args[0]
		args = args[1:]
	}
	fs := newFlagSet(&o, output)
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return o, fmt.Errorf("unknown option %q", rest[0])
	}
	return o, nil
}

func applyRuntimeOverrides(cfg *Config, o runtimeOverrides) error {
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}
	if o.watchdog != nil {
		cfg.Watchdog = *o.watchdog
		if verboseLogging {
			logger.Info("setting watchdog timeout", "seconds", cfg.Watchdog)
		}
	}
	for _, pool := range o.pools {
		if _, err := parsePoolEndpoint(pool); err != nil {
			logger.Error("pool in invalid format is ignored, use pool_address:pool_port format", "pool", pool, "error", err)
			continue
		}
		if cfg.addPool(pool) && verboseLogging {
			logger.Info("added pool to the list of pools", "pool", pool)
		}
	}
	if o.minerPort != 0 {
		if o.minerPort < 0 || o.minerPort > 65535 {
			return fmt.Errorf("invalid -port %d", o.minerPort)
		}
		cfg.MinerPort = o.minerPort
	}
	if o.user != "" {
		cfg.User = o.user
	}
	if o.pass != "" {
		cfg.Pass = o.pass
	}
	for class, rate := range o.perf {
		if _, known := algoClassBenchmarks[class]; !known {
			logger.Error("ignoring unknown algo class", "class", class)
			continue
		}
		cfg.AlgoPerf[class] = rate
	}
	cfg.SmartMiners = append(cfg.SmartMiners, o.smartMiners...)
	cfg.AlgoMiners = append(cfg.AlgoMiners, o.algoMiners...)
	if o.statusListen != "" {
		cfg.StatusListen = o.statusListen
	}
	if o.noConfigSave {
		cfg.NoConfigSave = true
	}
	return nil
}
