package fetch

import (
	"time"

	"github.com/jmylchreest/slipstream/internal/stealth"
)

// StaticConfig holds configuration for the static fetcher.
type StaticConfig struct {
	Proxy       string        `mapstructure:"proxy"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBodySize int64         `mapstructure:"max_body_size"`
	Attempts    int           `mapstructure:"attempts"`
	RetryPause  time.Duration `mapstructure:"retry_pause"`
	PreDelay    stealth.Delay `mapstructure:"pre_delay"`
}

// DefaultStaticConfig returns sensible defaults.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		Timeout:     30 * time.Second,
		MaxBodySize: 10 << 20,
		Attempts:    3,
		RetryPause:  2 * time.Second,
		PreDelay:    stealth.Between(time.Second, 3*time.Second),
	}
}

// Timing holds the browser pacing. Zero delays are skipped, which tests rely on.
type Timing struct {
	PreNavigate stealth.Delay `mapstructure:"pre_navigate"`
	RetryPause  stealth.Delay `mapstructure:"retry_pause"`
	Settle      stealth.Delay `mapstructure:"settle"`

	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	DOMReadyTimeout time.Duration `mapstructure:"dom_ready_timeout"`
	LoadTimeout     time.Duration `mapstructure:"load_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	IdleWindow      time.Duration `mapstructure:"idle_window"`

	ScrollStep   Range         `mapstructure:"scroll_step"`
	ScrollPause  stealth.Delay `mapstructure:"scroll_pause"`
	ScrollBack   Range         `mapstructure:"scroll_back"`
	BackPause    stealth.Delay `mapstructure:"back_pause"`
	TopPause     stealth.Delay `mapstructure:"top_pause"`
	MousePause   stealth.Delay `mapstructure:"mouse_pause"`
	BackChance   float64       `mapstructure:"back_chance"`
	MouseMoves   int           `mapstructure:"mouse_moves"`
}

// Range is an inclusive integer range in CSS pixels.
type Range struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// Pick draws a value from the range.
func (r Range) Pick() int {
	return stealth.Intn(r.Min, r.Max)
}

// DefaultTiming returns human-paced browser timings.
func DefaultTiming() Timing {
	return Timing{
		PreNavigate: stealth.Between(2*time.Second, 5*time.Second),
		RetryPause:  stealth.Between(3*time.Second, 7*time.Second),
		Settle:      stealth.Between(8*time.Second, 15*time.Second),

		NavigateTimeout: 120 * time.Second,
		DOMReadyTimeout: 60 * time.Second,
		LoadTimeout:     60 * time.Second,
		IdleTimeout:     90 * time.Second,
		IdleWindow:      500 * time.Millisecond,

		ScrollStep:  Range{200, 400},
		ScrollPause: stealth.Between(500*time.Millisecond, 2*time.Second),
		ScrollBack:  Range{50, 150},
		BackPause:   stealth.Between(300*time.Millisecond, time.Second),
		TopPause:    stealth.Between(time.Second, 3*time.Second),
		MousePause:  stealth.Between(500*time.Millisecond, 1500*time.Millisecond),
		BackChance:  0.3,
		MouseMoves:  2,
	}
}

// DynamicConfig holds configuration for the browser fetcher.
type DynamicConfig struct {
	Proxy    string `mapstructure:"proxy"`
	Headless bool   `mapstructure:"headless"`
	// ChromePath overrides browser discovery.
	ChromePath string `mapstructure:"chrome_path"`
	// Simulate enables scroll and mouse simulation after load.
	Simulate bool   `mapstructure:"simulate"`
	Timing   Timing `mapstructure:"timing"`
}

// DefaultDynamicConfig returns sensible defaults.
func DefaultDynamicConfig() DynamicConfig {
	return DynamicConfig{
		Headless: true,
		Simulate: true,
		Timing:   DefaultTiming(),
	}
}
