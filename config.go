package nachos

import (
	"context"
	"errors"
	"fmt"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/viant/nachos/kernel"
	"github.com/viant/nachos/machine"
	fsqueue "github.com/viant/nachos/messaging/fs"
	"github.com/viant/nachos/stats"
	"github.com/viant/nachos/userprog"
)

// Config is a serialisable representation of the simulator configuration.
// ${env.KEY} expressions in a config file are expanded before decoding.
type Config struct {
	Machine  machine.Config `json:"machine" yaml:"machine"`
	Thread   ThreadConfig   `json:"thread" yaml:"thread"`
	Timer    TimerConfig    `json:"timer" yaml:"timer"`
	UserProg UserProgConfig `json:"userprog" yaml:"userprog"`
	// Debug holds the enabled debug flags, "+" for all.
	Debug   string        `json:"debug,omitempty" yaml:"debug,omitempty"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	// Journal persists lifecycle events when its URL is set.
	Journal fsqueue.Config `json:"journal,omitempty" yaml:"journal,omitempty"`
}

type ThreadConfig struct {
	StackSize int `json:"stackSize" yaml:"stackSize"`
}

type TimerConfig struct {
	Enabled    bool  `json:"enabled" yaml:"enabled"`
	Ticks      int64 `json:"ticks" yaml:"ticks"`
	RandomSeed int64 `json:"randomSeed,omitempty" yaml:"randomSeed,omitempty"`
}

type UserProgConfig struct {
	StacksAreaSize int `json:"stacksAreaSize" yaml:"stacksAreaSize"`
	StartAddress   int `json:"startAddress" yaml:"startAddress"`
}

type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Output is the span file, stdout when empty.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// DefaultConfig returns a Config populated with the machine defaults.
func DefaultConfig() *Config {
	return &Config{
		Machine: machine.DefaultConfig(),
		Thread:  ThreadConfig{StackSize: kernel.StackSize},
		Timer:   TimerConfig{Ticks: stats.TimerTicks},
		UserProg: UserProgConfig{
			StacksAreaSize: userprog.UserStacksAreaSize,
			StartAddress:   userprog.UserStartAddress,
		},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.Machine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.kernelConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.UserProg.StacksAreaSize < 0 {
		errs = append(errs, fmt.Errorf("userprog.stacksAreaSize must be >= 0"))
	}
	if c.UserProg.StartAddress < 0 || c.UserProg.StartAddress%4 != 0 {
		errs = append(errs, fmt.Errorf("userprog.startAddress must be a non negative multiple of 4"))
	}
	if c.Journal.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("journal.maxRetries must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c *Config) kernelConfig() kernel.Config {
	return kernel.Config{
		StackSize: c.Thread.StackSize,
		Timer: kernel.TimerConfig{
			Enabled:    c.Timer.Enabled,
			Ticks:      c.Timer.Ticks,
			RandomSeed: c.Timer.RandomSeed,
		},
	}
}

// LoadConfig reads a YAML (or JSON) config from URL on top of the defaults.
func LoadConfig(ctx context.Context, fs afs.Service, URL string) (*Config, error) {
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	ret := DefaultConfig()
	if err = yaml.Unmarshal([]byte(expandEnv(string(data))), ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", URL, err)
	}
	return ret, nil
}
