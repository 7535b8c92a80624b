package app

import (
	"fmt"
	"strings"
	"time"

	"hadroid/internal/config"
	"hadroid/internal/storage"
	kit "hadroid/internal/transport"
	logx "hadroid/pkg/logx"
)

const defaultDataDir = "./hadroid_data"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultDataDir}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultDataDir
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

// chatLogTarget parses logging.chat.room; an empty room yields the zero target.
func chatLogTarget(cfg *config.Config) (kit.ChatTarget, error) {
	room := strings.TrimSpace(cfg.Logging.Chat.Room)
	if room == "" {
		return kit.ChatTarget{}, nil
	}
	to, err := kit.ParseChatTarget(room)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("logging.chat.room: %w", err)
	}
	return to, nil
}
