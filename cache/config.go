package cache

import (
	"fmt"
	"time"

	"github.com/cyp0633/librecur/filter"
)

// Config holds configuration options for the window cache
type Config struct {
	// The materialized window is [now-Previous, now+Next)
	Previous time.Duration
	Next     time.Duration

	// Refresh timer
	Tick          time.Duration // How often the timer fires
	RefreshPeriod time.Duration // Ticks within this period of the last refresh are skipped
	MinTick       time.Duration // Floor on Tick, bounding the load on the store

	// Flags passed to the filter factory for the refresh query
	Flags filter.Flags

	// OnFatal receives errors that leave the cache inconsistent. Defaults to
	// logging at fatal level, which exits the process.
	OnFatal func(err error)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig provides sensible defaults for production use
var DefaultConfig = Config{
	Previous:      7 * 24 * time.Hour,
	Next:          30 * 24 * time.Hour,
	Tick:          time.Minute,
	RefreshPeriod: 15 * time.Minute,
	MinTick:       10 * time.Second,
}

// HighTrafficConfig refreshes a narrower window more often
var HighTrafficConfig = Config{
	Previous:      3 * 24 * time.Hour,
	Next:          14 * 24 * time.Hour,
	Tick:          30 * time.Second,
	RefreshPeriod: 5 * time.Minute,
	MinTick:       10 * time.Second,
}

// LowMemoryConfig keeps a small window and refreshes rarely
var LowMemoryConfig = Config{
	Previous:      24 * time.Hour,
	Next:          7 * 24 * time.Hour,
	Tick:          5 * time.Minute,
	RefreshPeriod: 30 * time.Minute,
	MinTick:       time.Minute,
}

// Validate checks the window and timer settings
func (c Config) Validate() error {
	if c.Previous < 0 || c.Next < 0 || c.Previous+c.Next <= 0 {
		return fmt.Errorf("cache window must be non-empty, got previous=%s next=%s", c.Previous, c.Next)
	}
	if c.MinTick <= 0 {
		return fmt.Errorf("minimum tick must be positive, got %s", c.MinTick)
	}
	if c.Tick < c.MinTick {
		return fmt.Errorf("tick %s is below the minimum of %s", c.Tick, c.MinTick)
	}
	if c.RefreshPeriod < 0 {
		return fmt.Errorf("refresh period must not be negative, got %s", c.RefreshPeriod)
	}
	return nil
}
