package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultQueueMaxItems     = 1000
	DefaultMinBackoff        = 5 * time.Second
	DefaultMaxBackoff        = 10 * time.Minute
	DefaultDrainMaxItems     = 50
	DefaultDrainBudget       = 20 * time.Second
	DefaultDrainInterval     = 30 * time.Second
	DefaultFlushDelay        = 2 * time.Second
	DefaultDedupCapacity     = 50000
	DefaultProgressInterval  = 5 * time.Second
	DefaultRemoteTimeout     = 15 * time.Second
	DefaultHeartbeatInterval = time.Minute
	DefaultRescanInterval    = 10 * time.Second
)

// ApplyDefaults fills zero-valued tuning fields.
func (c *Config) ApplyDefaults() {
	if c.Queue.Type == "" {
		c.Queue.Type = "file"
	}
	setInt(&c.Queue.MaxItems, DefaultQueueMaxItems)
	setDuration(&c.Queue.MinBackoff, DefaultMinBackoff)
	setDuration(&c.Queue.MaxBackoff, DefaultMaxBackoff)
	setInt(&c.Queue.DrainMaxItems, DefaultDrainMaxItems)
	setDuration(&c.Queue.DrainBudget, DefaultDrainBudget)
	setDuration(&c.Queue.DrainInterval, DefaultDrainInterval)
	setDuration(&c.Queue.FlushDelay, DefaultFlushDelay)
	setInt(&c.Dedup.Capacity, DefaultDedupCapacity)
	setDuration(&c.Progress.MinInterval, DefaultProgressInterval)
	setDuration(&c.Remote.Timeout, DefaultRemoteTimeout)
	setDuration(&c.Remote.HeartbeatInterval, DefaultHeartbeatInterval)
	setDuration(&c.Watch.RescanInterval, DefaultRescanInterval)
	if c.Database.Type == "" {
		c.Database.Type = "memory"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
}

// Validate checks the fields the agent cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("agent_id is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.Queue.MinBackoff > c.Queue.MaxBackoff {
		errs = append(errs, fmt.Errorf("queue.min_backoff %s exceeds queue.max_backoff %s", c.Queue.MinBackoff, c.Queue.MaxBackoff))
	}
	if c.Backup.BandwidthLimit < 0 {
		errs = append(errs, errors.New("backup.bandwidth_limit must not be negative"))
	}
	for i, v := range c.Vaults {
		if v.Type == "" {
			errs = append(errs, fmt.Errorf("vaults[%d]: type is required", i))
		}
	}
	return errors.Join(errs...)
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDuration(v *Duration, def time.Duration) {
	if *v <= 0 {
		*v = Duration(def)
	}
}
