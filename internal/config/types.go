package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Bot      BotConfig      `json:"bot"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage is optional; omitted means the file driver under ./hadroid_data.
	Storage *StorageConfig `json:"storage,omitempty"`
	Cron    CronConfig     `json:"cron"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

// BotConfig controls how chat text is recognized as a command and who may run
// admin commands.
type BotConfig struct {
	// Name is the bot's handle; "@<name> cmd" is treated as a mention and
	// messages sent by this user are ignored.
	Name string `json:"name"`
	// Prefixes that mark a command. Default: ["!", "/"].
	Prefixes []string `json:"prefixes,omitempty"`
	// Admins lists user ids (numeric) or usernames allowed to run admin commands.
	Admins []string `json:"admins"`

	// Workers bounds concurrent command handling (default 4).
	Workers int `json:"workers,omitempty"`
	// CommandTimeout is a Go duration string (e.g. "30s"). Default: 30s.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout    string `json:"poll_timeout"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards log lines to an operator room.
type LoggingChat struct {
	Enabled bool `json:"enabled"`
	// Room is a chat target in "<chat>" or "<chat>/<thread>" form.
	Room       string `json:"room"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hadroid.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// CronConfig controls the scheduled-command dispatcher.
type CronConfig struct {
	Enabled bool `json:"enabled"`
	// PollInterval is a Go duration string. Default: 30s.
	PollInterval string `json:"poll_interval,omitempty"`
	// DefaultTimezone seeds a fresh book. Default: UTC.
	DefaultTimezone string `json:"default_timezone,omitempty"`
	// Book is the storage document name. Default: "cron".
	Book string `json:"book,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in plugin blocks are caught
// during reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

// Plugin returns the named plugin block (zero value if absent).
func (c *Config) Plugin(name string) PluginConfigRaw {
	if c == nil || c.Plugins == nil {
		return PluginConfigRaw{}
	}
	return c.Plugins[name]
}
