package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Channels is the number of slider lanes a config describes
const Channels = 8

// DefaultPath is used when no config file is given
const DefaultPath = "config.json"

// MaxFunction is the highest decoder function the protocol can address
const MaxFunction = 68

// Function button names inside a bank
const (
	ButtonRec  = "rec"
	ButtonPlay = "play"
	ButtonFF   = "ff"
	ButtonRW   = "rw"
)

// ShiftBank selects which function bank the transport buttons use
type ShiftBank int

const (
	BankNormal ShiftBank = iota
	BankLeftShift
	BankRightShift
)

func (b ShiftBank) String() string {
	switch b {
	case BankLeftShift:
		return "lshift"
	case BankRightShift:
		return "rshift"
	}
	return "normal"
}

// Address is a DCC decoder address as the server names it ("3", "L1234").
// Config files may give it as a string or a number.
type Address string

func (a *Address) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*a = Address(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("dcc_address must be a string or number: %w", err)
	}
	*a = Address(n.String())
	return nil
}

func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("dcc_address must be a scalar (line %d)", value.Line)
	}
	if value.Tag == "!!null" {
		*a = ""
		return nil
	}
	*a = Address(value.Value)
	return nil
}

// Bank maps the four transport buttons to decoder functions
type Bank struct {
	Rec  *int `json:"rec,omitempty" yaml:"rec,omitempty"`
	Play *int `json:"play,omitempty" yaml:"play,omitempty"`
	FF   *int `json:"ff,omitempty" yaml:"ff,omitempty"`
	RW   *int `json:"rw,omitempty" yaml:"rw,omitempty"`
}

// Function returns the function mapped to a button name
func (b *Bank) Function(button string) (int, bool) {
	fn := b.field(button)
	if fn == nil || *fn == nil {
		return 0, false
	}
	return **fn, true
}

func (b *Bank) field(button string) **int {
	if b == nil {
		return nil
	}
	switch button {
	case ButtonRec:
		return &b.Rec
	case ButtonPlay:
		return &b.Play
	case ButtonFF:
		return &b.FF
	case ButtonRW:
		return &b.RW
	}
	return nil
}

// Functions holds the three shift banks of a lane
type Functions struct {
	Normal *Bank `json:"normal,omitempty" yaml:"normal,omitempty"`
	LShift *Bank `json:"lshift,omitempty" yaml:"lshift,omitempty"`
	RShift *Bank `json:"rshift,omitempty" yaml:"rshift,omitempty"`
}

// Bank returns the bank for a shift state, nil if it is not configured
func (f *Functions) Bank(b ShiftBank) *Bank {
	if f == nil {
		return nil
	}
	switch b {
	case BankLeftShift:
		return f.LShift
	case BankRightShift:
		return f.RShift
	}
	return f.Normal
}

// Channel is the configuration of one slider lane
type Channel struct {
	DCCAddress Address    `json:"dcc_address,omitempty" yaml:"dcc_address,omitempty"`
	Functions  *Functions `json:"functions,omitempty" yaml:"functions,omitempty"`
}

// Configured reports whether the lane has a loco address
func (c Channel) Configured() bool {
	return c.DCCAddress != ""
}

// Config is the per-lane configuration, indexed by slider
type Config struct {
	Channels [Channels]Channel
}

// ChannelFor returns the first lane configured with the given address
func (c *Config) ChannelFor(id string) (int, bool) {
	if id == "" {
		return -1, false
	}
	for i, ch := range c.Channels {
		if string(ch.DCCAddress) == id {
			return i, true
		}
	}
	return -1, false
}

// Addresses returns the configured addresses in lane order
func (c *Config) Addresses() []string {
	var out []string
	for _, ch := range c.Channels {
		if ch.Configured() {
			out = append(out, string(ch.DCCAddress))
		}
	}
	return out
}

// ResolvePath finds a relative config file in the working directory or,
// failing that, next to the executable.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultPath
	}
	if filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		return path
	}
	candidate := filepath.Join(filepath.Dir(exe), path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// Load reads a JSON config, or YAML when the file ends in .yaml or .yml
func Load(path string, log logrus.FieldLogger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data, log)
	default:
		return ParseJSON(data, log)
	}
}

// ParseJSON decodes a JSON array of lane entries
func ParseJSON(data []byte, log logrus.FieldLogger) (*Config, error) {
	var entries []Channel
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return build(entries, log)
}

// ParseYAML decodes a YAML sequence of lane entries
func ParseYAML(data []byte, log logrus.FieldLogger) (*Config, error) {
	var entries []Channel
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return build(entries, log)
}

func build(entries []Channel, log logrus.FieldLogger) (*Config, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg := &Config{}

	if len(entries) > Channels {
		log.Warnf("config has %d entries, only the first %d are used", len(entries), Channels)
		entries = entries[:Channels]
	}

	for i, entry := range entries {
		entry.DCCAddress = Address(strings.TrimSpace(string(entry.DCCAddress)))
		dropInvalidFunctions(i, entry.Functions, log)
		if entry.Configured() {
			log.Debugf("channel %d: DCC address %s", i, entry.DCCAddress)
		} else {
			log.Warnf("channel %d: missing DCC address in config, lane disabled", i)
		}
		if entry.Functions != nil {
			log.Debugf("channel %d: function key mapping loaded", i)
		}
		cfg.Channels[i] = entry
	}

	for i := 0; i < Channels; i++ {
		id := string(cfg.Channels[i].DCCAddress)
		if first, ok := cfg.ChannelFor(id); ok && first != i {
			log.Warnf("channel %d: DCC address %s already used by channel %d", i, id, first)
		}
	}

	return cfg, nil
}

// dropInvalidFunctions unmaps buttons whose function number is out of
// range, logging each as a ConfigError
func dropInvalidFunctions(channel int, f *Functions, log logrus.FieldLogger) {
	if f == nil {
		return
	}
	banks := []struct {
		name string
		bank *Bank
	}{
		{BankNormal.String(), f.Normal},
		{BankLeftShift.String(), f.LShift},
		{BankRightShift.String(), f.RShift},
	}
	for _, b := range banks {
		for _, button := range []string{ButtonRec, ButtonPlay, ButtonFF, ButtonRW} {
			fn, ok := b.bank.Function(button)
			if !ok || (fn >= 0 && fn <= MaxFunction) {
				continue
			}
			err := &ConfigError{
				Channel: channel,
				Field:   "functions." + b.name + "." + button,
				Message: fmt.Sprintf("function %d out of range 0-%d", fn, MaxFunction),
			}
			log.WithError(err).Warn("ignoring function mapping")
			*b.bank.field(button) = nil
		}
	}
}
