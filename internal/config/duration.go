package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// ParseDurationField parses a Go duration string; empty means zero.
// path is the config key used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// durationOr returns def for empty, zero or invalid values. Decode already
// rejected invalid values, so the fallback only applies to hand-built configs.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c CronConfig) PollEvery() time.Duration { return durationOr(c.PollInterval, DefaultPollInterval) }

func (c BotConfig) Timeout() time.Duration {
	return durationOr(c.CommandTimeout, DefaultCommandTimeout)
}

func (c TelegramConfig) PollTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.PollTimeout, def)
}

func (c StorageConfig) BusyTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.BusyTimeout, def)
}
