// Package config holds the runtime configuration: ICE servers, the capture
// pipeline, the presentation mode and logging. Values come from an optional
// YAML file and are then overridden by CLI flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UIMode selects the presentation adapter.
type UIMode string

const (
	UIModeConsole UIMode = "console"
	UIModeWeb     UIMode = "web"
)

// IsValid reports whether m is a known presentation mode.
func (m UIMode) IsValid() bool {
	return m == UIModeConsole || m == UIModeWeb
}

// Config stores every tunable of the process.
type Config struct {
	ICEServers    []string      `yaml:"ice_servers"`
	Capture       CaptureConfig `yaml:"capture"`
	UI            UIConfig      `yaml:"ui"`
	Log           LogConfig     `yaml:"log"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// CaptureConfig describes the GStreamer capture pipeline.
type CaptureConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Source   string `yaml:"source"`   // GStreamer source element, e.g. autoaudiosrc
	Launcher string `yaml:"launcher"` // gst-launch binary name or path
}

// UIConfig selects and configures the presentation adapter.
type UIConfig struct {
	Mode   UIMode `yaml:"mode"`
	Listen string `yaml:"listen"` // web mode only
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Public STUN servers used when no ICE servers are configured.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ICEServers: append([]string(nil), defaultSTUNServers...),
		Capture: CaptureConfig{
			Enabled:  true,
			Source:   "autoaudiosrc",
			Launcher: "gst-launch-1.0",
		},
		UI: UIConfig{
			Mode:   UIModeConsole,
			Listen: "127.0.0.1:8790",
		},
		StatsInterval: 10 * time.Second,
	}
}

// Load reads the YAML configuration file at path on top of Default and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of Default. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	for i, u := range cfg.ICEServers {
		if !hasICEScheme(u) {
			errs = append(errs, fmt.Errorf("ice_servers[%d] %q must start with stun:, stuns:, turn: or turns:", i, u))
		}
	}

	if cfg.Capture.Enabled {
		if strings.TrimSpace(cfg.Capture.Source) == "" {
			errs = append(errs, fmt.Errorf("capture.source is required when capture is enabled"))
		}
		if strings.TrimSpace(cfg.Capture.Launcher) == "" {
			errs = append(errs, fmt.Errorf("capture.launcher is required when capture is enabled"))
		}
	}

	if !cfg.UI.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("ui.mode %q is invalid; valid values: console, web", cfg.UI.Mode))
	}
	if cfg.UI.Mode == UIModeWeb {
		if _, _, err := net.SplitHostPort(cfg.UI.Listen); err != nil {
			errs = append(errs, fmt.Errorf("ui.listen %q: %w", cfg.UI.Listen, err))
		}
	}

	if cfg.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("stats_interval must not be negative"))
	}

	return errors.Join(errs...)
}

func hasICEScheme(u string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}
