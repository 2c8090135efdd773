package cli

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/logging"
)

// Globals are the flags every seqlims command accepts.
type Globals struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	NoColor    bool
}

// Bind registers the global flags on flags.
func (g *Globals) Bind(flags *pflag.FlagSet) {
	flags.StringVarP(&g.ConfigPath, "config", "c", "", "Configuration file (default: $SEQLIMS_CONFIG or the user config directory)")
	flags.BoolVarP(&g.Verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVarP(&g.Quiet, "quiet", "q", false, "Suppress non-error output")
	flags.BoolVar(&g.NoColor, "no-color", false, "Disable colored output")
}

// LoadConfig reads the configuration file named by --config, falling back
// to the default location. A missing file yields the defaults.
func (g *Globals) LoadConfig() (*config.Config, error) {
	path := g.ConfigPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	return cfg, nil
}

// Logger builds the logger for cfg and installs it globally. The returned
// function restores the previous global logger and flushes this one.
func (g *Globals) Logger(cfg *config.Config) (*zap.Logger, func(), error) {
	logger, err := logging.New(cfg.Logging, g.Verbose)
	if err != nil {
		return nil, nil, err
	}
	restore := logging.Install(logger)
	return logger, func() {
		_ = logger.Sync()
		restore()
	}, nil
}
