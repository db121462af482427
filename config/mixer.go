package config

import (
	"fmt"
	"math"
	"strings"
)

const (
	// InputMonitorSuffix is appended to an input channel name to form the
	// output channel that carries the input after volume and balance.
	InputMonitorSuffix = " Out"

	// MonitorBusName is the stereo output channel fed by the monitor selection.
	MonitorBusName = "Monitor"
)

// Direction distinguishes input channels from output buses.
type Direction int

const (
	Output Direction = iota
	Input
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// ParseDirection accepts input|in|i and output|out|o.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "input", "in", "i":
		return Input, nil
	case "output", "out", "o":
		return Output, nil
	}
	return Output, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// ChannelDescriptor is the wire view of one channel.
type ChannelDescriptor struct {
	Name        string   `json:"name"`
	Direction   string   `json:"direction"`
	Volume      float64  `json:"volume"`
	Balance     float64  `json:"balance"`
	Mono        bool     `json:"mono"`
	Connections []string `json:"connections"`
}

func (m *MixerConfig) set(dir Direction) map[string]PortConfig {
	if dir == Input {
		return m.Inputs
	}
	return m.Outputs
}

// Channel returns the settings of a channel.
func (m *MixerConfig) Channel(dir Direction, name string) (PortConfig, error) {
	pc, ok := m.set(dir)[name]
	if !ok {
		return PortConfig{}, fmt.Errorf("%w: %s %q", ErrChannelNotFound, dir, name)
	}
	return pc, nil
}

// Connected returns the peers of a channel: the inputs of an output bus, or
// the buses an input feeds.
func (m *MixerConfig) Connected(dir Direction, name string) ([]string, error) {
	if _, err := m.Channel(dir, name); err != nil {
		return nil, err
	}
	if dir == Output {
		return m.Connections.Inputs(name), nil
	}
	return m.Connections.Outputs(name), nil
}

// SetVolume sets a channel volume percentage.
func (m *MixerConfig) SetVolume(dir Direction, name string, vol float64) error {
	pc, err := m.Channel(dir, name)
	if err != nil {
		return err
	}
	if err := validateVolume(vol); err != nil {
		return err
	}
	pc.Vol = vol
	m.set(dir)[name] = pc
	return nil
}

// SetBalance sets a channel balance. The value is not clamped.
func (m *MixerConfig) SetBalance(dir Direction, name string, balance float64) error {
	pc, err := m.Channel(dir, name)
	if err != nil {
		return err
	}
	if math.IsNaN(balance) || math.IsInf(balance, 0) {
		return fmt.Errorf("%w: balance %v", ErrInvalidValue, balance)
	}
	pc.Balance = balance
	m.set(dir)[name] = pc
	return nil
}

// SetMonitor selects the channel feeding the monitor bus.
func (m *MixerConfig) SetMonitor(dir Direction, name string) error {
	if _, err := m.Channel(dir, name); err != nil {
		return err
	}
	m.Monitor = &MonitorSelection{Channel: name, IsInput: dir == Input}
	return nil
}

// Connect adds or removes the route input → output bus after checking both
// channels exist.
func (m *MixerConfig) Connect(connect bool, input, output string) error {
	if _, err := m.Channel(Input, input); err != nil {
		return err
	}
	if _, err := m.Channel(Output, output); err != nil {
		return err
	}
	m.Connections.Connect(connect, output, input)
	return nil
}

// IsConnected reports whether input feeds output.
func (m *MixerConfig) IsConnected(input, output string) bool {
	return m.Connections.IsConnected(output, input)
}

// Descriptor returns the wire view of a channel.
func (m *MixerConfig) Descriptor(dir Direction, name string) (ChannelDescriptor, error) {
	pc, err := m.Channel(dir, name)
	if err != nil {
		return ChannelDescriptor{}, err
	}
	peers, _ := m.Connected(dir, name)
	if peers == nil {
		peers = []string{}
	}
	return ChannelDescriptor{
		Name:        name,
		Direction:   dir.String(),
		Volume:      pc.Vol,
		Balance:     pc.Balance,
		Mono:        pc.Mono,
		Connections: peers,
	}, nil
}

// Descriptors returns every channel, outputs first, each group sorted by name.
func (m *MixerConfig) Descriptors() []ChannelDescriptor {
	out := make([]ChannelDescriptor, 0, len(m.Outputs)+len(m.Inputs))
	for _, dir := range []Direction{Output, Input} {
		for _, name := range m.Names(dir) {
			d, _ := m.Descriptor(dir, name)
			out = append(out, d)
		}
	}
	return out
}
