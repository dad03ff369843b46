package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"autopilot-gain-tuner/utils"
)

func main() {
	var (
		cfgPath     = flag.String("config", "", "YAML or JSON tuning config (defaults reproduce the reference run)")
		mode        = flag.String("mode", ModeSearch, "search|verify")
		gainsArg    = flag.String("gains", "", "verify mode gains: Kp_x,Ki_x,Kd_x,Kp_phi,Kp_y")
		seed        = flag.Int64("seed", 0, "override the search seed")
		workers     = flag.Int("workers", 0, "override the number of evaluation workers")
		plotPath    = flag.String("plot", "", "write the step response plot to this PNG")
		publish     = flag.Bool("publish", false, "publish the resulting gains over CAN")
		iface       = flag.String("iface", "", "override the SocketCAN interface")
		printConfig = flag.Bool("print-config", false, "print the effective config and exit")
		noSpinner   = flag.Bool("no-spinner", false, "disable the progress spinner")
		logLevel    = flag.String("log", "info", "trace|debug|info|warn|error|critical")
		logFile     = flag.String("logfile", "gain_tuning.log", "log file path")
	)
	flag.Parse()

	level, err := utils.ParseLogLevel(*logLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := utils.NewFileLogger(*logFile, level, true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *logFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	// Only flags given on the command line override the config file.
	overrides := map[string]interface{}{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			overrides["seed"] = *seed
		case "workers":
			overrides["workers"] = *workers
		case "plot":
			overrides["report.plot_path"] = *plotPath
		case "publish":
			overrides["can.enabled"] = *publish
		case "iface":
			overrides["can.interface"] = *iface
		}
	})

	tcfg, err := LoadTuningConfig(*cfgPath, overrides)
	if err != nil {
		log.Critical("Config failed: %v", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := yaml.Marshal(tcfg)
		if err != nil {
			log.Critical("Cannot render config: %v", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	cfg := RunnerConfig{
		Mode:    *mode,
		Tuning:  tcfg,
		Spinner: !*noSpinner,
	}
	if *gainsArg != "" {
		g, err := ParseGains(*gainsArg)
		if err != nil {
			log.Critical("Invalid -gains: %v", err)
			os.Exit(1)
		}
		cfg.Gains = &g
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}
