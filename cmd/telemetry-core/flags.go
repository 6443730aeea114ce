package main

import (
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values before being mapped onto
// config.Config. A -config file supplies everything else; these flags
// only override the handful of settings an operator commonly needs at
// launch.
type cliConfig struct {
	configPath  string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("telemetry-core", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to a YAML config file (optional; defaults apply if omitted)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}
