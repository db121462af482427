package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/jamyx/graph"
	"github.com/opd-ai/jamyx/limits"
)

// DefaultVolume is the volume percentage of a channel that does not set one.
const DefaultVolume = 100

// PortConfig holds the settings of one logical mixer channel.
type PortConfig struct {
	Vol     float64 `json:"vol" yaml:"vol"`
	Balance float64 `json:"balance" yaml:"balance"`
	Mono    bool    `json:"mono" yaml:"mono"`
}

// DefaultPortConfig returns a stereo channel at full volume and centre balance.
func DefaultPortConfig() PortConfig {
	return PortConfig{Vol: DefaultVolume}
}

// UnmarshalJSON applies defaults for omitted fields.
func (p *PortConfig) UnmarshalJSON(data []byte) error {
	type raw PortConfig
	r := raw(DefaultPortConfig())
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*p = PortConfig(r)
	return nil
}

// UnmarshalYAML applies defaults for omitted fields.
func (p *PortConfig) UnmarshalYAML(node *yaml.Node) error {
	type raw PortConfig
	r := raw(DefaultPortConfig())
	if err := node.Decode(&r); err != nil {
		return err
	}
	*p = PortConfig(r)
	return nil
}

// Volume returns the linear gain multiplier (percentage / 100).
func (p PortConfig) Volume() float64 {
	return p.Vol / 100
}

// BalancePair returns the left and right multipliers (balance+1, 1-balance).
// Balance is not clamped.
func (p PortConfig) BalancePair() (left, right float64) {
	return BalancePair(p.Balance)
}

// BalancePair returns (b+1, 1-b).
func BalancePair(b float64) (left, right float64) {
	return b + 1, 1 - b
}

// MonitorSelection names the channel feeding the monitor bus.
type MonitorSelection struct {
	Channel string `json:"channel" yaml:"channel"`
	IsInput bool   `json:"is_input" yaml:"is_input"`
}

// Direction returns the direction of the monitored channel.
func (m MonitorSelection) Direction() Direction {
	if m.IsInput {
		return Input
	}
	return Output
}

// MixerConfig is the mixer half of the configuration.
type MixerConfig struct {
	// Connections maps output bus name → input channel names.
	Connections graph.Graph           `json:"connections" yaml:"connections"`
	Outputs     map[string]PortConfig `json:"outputs" yaml:"outputs"`
	Inputs      map[string]PortConfig `json:"inputs" yaml:"inputs"`
	Monitor     *MonitorSelection     `json:"monitor,omitempty" yaml:"monitor,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	// Connections is the desired port-to-port wiring on the audio server.
	Connections graph.Graph `json:"connections" yaml:"connections"`
	Mixer       MixerConfig `json:"mixer" yaml:"mixer"`
}

// New returns an empty configuration.
func New() *Config {
	return &Config{
		Mixer: MixerConfig{
			Outputs: make(map[string]PortConfig),
			Inputs:  make(map[string]PortConfig),
		},
	}
}

// Load reads and validates the configuration file at path. Files ending in
// .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Info("Loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read %s: %w", path, err)
	}

	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Load",
		"path":        path,
		"connections": cfg.Connections.Len(),
		"inputs":      len(cfg.Mixer.Inputs),
		"outputs":     len(cfg.Mixer.Outputs),
	}).Info("Configuration loaded")

	return cfg, nil
}

// Format selects the file decoder.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// Parse decodes and validates a configuration.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := New()

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Mixer.Outputs == nil {
		cfg.Mixer.Outputs = make(map[string]PortConfig)
	}
	if cfg.Mixer.Inputs == nil {
		cfg.Mixer.Inputs = make(map[string]PortConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants of the configuration tree.
func (c *Config) Validate() error {
	m := &c.Mixer

	for _, set := range []map[string]PortConfig{m.Outputs, m.Inputs} {
		for name, pc := range set {
			if err := limits.ValidateChannelName(name); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			if err := validateVolume(pc.Vol); err != nil {
				return fmt.Errorf("%w: channel %q: %v", ErrInvalidConfig, name, err)
			}
			if math.IsNaN(pc.Balance) || math.IsInf(pc.Balance, 0) {
				return fmt.Errorf("%w: channel %q: balance %v", ErrInvalidConfig, name, pc.Balance)
			}
		}
	}

	for name := range m.Inputs {
		if _, clash := m.Outputs[name]; clash {
			return fmt.Errorf("%w: %q is both an input and an output", ErrInvalidConfig, name)
		}
		if _, clash := m.Outputs[name+InputMonitorSuffix]; clash {
			return fmt.Errorf("%w: output %q clashes with the monitor of input %q", ErrInvalidConfig, name+InputMonitorSuffix, name)
		}
		if _, clash := m.Inputs[name+InputMonitorSuffix]; clash {
			return fmt.Errorf("%w: input %q clashes with the monitor of input %q", ErrInvalidConfig, name+InputMonitorSuffix, name)
		}
	}
	_, outClash := m.Outputs[MonitorBusName]
	_, inClash := m.Inputs[MonitorBusName]
	if outClash || inClash {
		return fmt.Errorf("%w: %q is reserved for the monitor bus", ErrInvalidConfig, MonitorBusName)
	}

	for _, e := range m.Connections.Edges() {
		if _, ok := m.Outputs[e.Output]; !ok {
			return fmt.Errorf("%w: mixer connection from unknown output %q", ErrInvalidConfig, e.Output)
		}
		if _, ok := m.Inputs[e.Input]; !ok {
			return fmt.Errorf("%w: mixer connection to unknown input %q", ErrInvalidConfig, e.Input)
		}
	}

	if m.Monitor != nil {
		if _, err := m.Channel(m.Monitor.Direction(), m.Monitor.Channel); err != nil {
			return fmt.Errorf("%w: monitor: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func validateVolume(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: volume %v", ErrInvalidValue, v)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := &Config{
		Connections: c.Connections.Clone(),
		Mixer: MixerConfig{
			Connections: c.Mixer.Connections.Clone(),
			Outputs:     make(map[string]PortConfig, len(c.Mixer.Outputs)),
			Inputs:      make(map[string]PortConfig, len(c.Mixer.Inputs)),
		},
	}
	for k, v := range c.Mixer.Outputs {
		out.Mixer.Outputs[k] = v
	}
	for k, v := range c.Mixer.Inputs {
		out.Mixer.Inputs[k] = v
	}
	if c.Mixer.Monitor != nil {
		mon := *c.Mixer.Monitor
		out.Mixer.Monitor = &mon
	}
	return out
}

// Names returns the sorted channel names of one direction.
func (m *MixerConfig) Names(dir Direction) []string {
	set := m.Outputs
	if dir == Input {
		set = m.Inputs
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
