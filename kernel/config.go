package kernel

import (
	"fmt"

	"github.com/viant/nachos/stats"
)

// StackSize is the default thread stack size in bytes.
const StackSize = 8 * 1024 * 4

// Config controls thread stacks and the timer device.
type Config struct {
	StackSize int         `json:"stackSize" yaml:"stackSize"`
	Timer     TimerConfig `json:"timer" yaml:"timer"`
}

// TimerConfig enables time slicing. With a non zero RandomSeed the interval
// between timer interrupts is random.
type TimerConfig struct {
	Enabled    bool  `json:"enabled" yaml:"enabled"`
	Ticks      int64 `json:"ticks" yaml:"ticks"`
	RandomSeed int64 `json:"randomSeed" yaml:"randomSeed"`
}

// DefaultConfig returns the kernel defaults.
func DefaultConfig() Config {
	return Config{
		StackSize: StackSize,
		Timer:     TimerConfig{Ticks: stats.TimerTicks},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StackSize < 256 {
		return fmt.Errorf("stack size %d is too small", c.StackSize)
	}
	if c.Timer.Enabled && c.Timer.Ticks <= 0 {
		return fmt.Errorf("timer ticks must be positive, got %d", c.Timer.Ticks)
	}
	return nil
}
