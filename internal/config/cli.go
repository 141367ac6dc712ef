package config

import (
	"flag"
)

// CLIFlags holds the subset of Config overridable from the command line.
// A nil field means the flag was not passed; CLI overrides apply only
// for non-nil fields, after defaults/YAML/ENV have already been merged.
type CLIFlags struct {
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	ConfigPath *string
}

// ParseFlags parses args (typically os.Args[1:]) into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("taskforge", flag.ContinueOnError)

	port := fs.String("port", "", "HTTP port for the admin/introspection surface")
	fs.StringVar(port, "p", "", "shorthand for --port")
	logLevel := fs.String("log-level", "", "structured log level")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS connection URL")
	configPath := fs.String("config", "", "path to YAML configuration file")
	fs.StringVar(configPath, "c", "", "shorthand for --config")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var flags CLIFlags
	if *port != "" {
		flags.Port = port
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	if *natsURL != "" {
		flags.NatsURL = natsURL
	}
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	return flags, nil
}

// applyCLI overlays any non-nil CLIFlags fields onto cfg. CLI flags take
// precedence over YAML and environment variables.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}

// LoadWithCLI loads a Config using the full hierarchy (defaults < YAML <
// ENV < CLI) and returns the resolved YAML path alongside it. If
// flags.ConfigPath is nil, DefaultConfigFile is used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, path, err
	}

	applyCLI(cfg, flags)

	if err := validate(cfg); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}
