package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"bot":{"name":"hadroid","admins":["alice","42"]},"cron":{"enabled":true,"poll_interval":"20s","default_timezone":"Europe/Zurich"}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "bot:\n  name: hadroid\n  admins: [alice, \"42\"]\ncron:\n  enabled: true\n  poll_interval: 20s\n  default_timezone: Europe/Zurich\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tt.file, []byte(tt.body))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if cfg.Bot.Name != "hadroid" {
				t.Fatalf("Bot.Name = %q, want hadroid", cfg.Bot.Name)
			}
			if len(cfg.Bot.Admins) != 2 || cfg.Bot.Admins[1] != "42" {
				t.Fatalf("Bot.Admins = %v", cfg.Bot.Admins)
			}
			if got := cfg.Cron.PollEvery(); got != 20*time.Second {
				t.Fatalf("PollEvery = %v, want 20s", got)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown field", body: `{"bot":{"nmae":"x"}}`, want: "unknown field"},
		{name: "trailing data", body: `{} {}`, want: "trailing data"},
		{name: "bad duration", body: `{"cron":{"poll_interval":"soon"}}`, want: "cron.poll_interval"},
		{name: "bad timezone", body: `{"cron":{"default_timezone":"Mars/Olympus"}}`, want: "cron.default_timezone"},
		{name: "bad driver", body: `{"storage":{"driver":"redis"}}`, want: "storage.driver"},
		{name: "plugin unknown field", body: `{"plugins":{"menu":{"enabled":true,"timeout":"1s"}}}`, want: "unknown field"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("config.json", []byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	if got := cfg.Cron.PollEvery(); got != DefaultPollInterval {
		t.Fatalf("PollEvery = %v, want %v", got, DefaultPollInterval)
	}
	if got := cfg.Bot.Timeout(); got != DefaultCommandTimeout {
		t.Fatalf("Timeout = %v, want %v", got, DefaultCommandTimeout)
	}
	if p := cfg.Plugin("missing"); p.Enabled {
		t.Fatal("missing plugin should be disabled")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Cron: CronConfig{Enabled: true}, Plugins: map[string]PluginConfigRaw{
		"menu": {Enabled: true, Config: []byte(`{"a":1,"b":2}`)},
	}}
	newCfg := &Config{Cron: CronConfig{Enabled: true, PollInterval: "10s"}, Plugins: map[string]PluginConfigRaw{
		"menu":   {Enabled: true, Config: []byte(`{"b":2, "a":1}`)},
		"coffee": {Enabled: true},
	}}
	changed, _, plugins := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "cron,plugins" {
		t.Fatalf("changed = %v, want [cron plugins]", changed)
	}
	if strings.Join(plugins, ",") != "coffee" {
		t.Fatalf("plugins = %v, want [coffee]", plugins)
	}
	if r := RequiresRestart([]string{"cron", "storage"}); len(r) != 1 || r[0] != "storage" {
		t.Fatalf("RequiresRestart = %v", r)
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"bot":{"name":"one"}}`)

	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Bot.Name != "two" {
				t.Fatalf("published name = %q, want two", cfg.Bot.Name)
			}
			if m.Get().Bot.Name != "two" {
				t.Fatal("Get did not return the committed config")
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees the change.
			writeFile(t, path, `{"bot":{"name":"two"}}`)
		case <-deadline:
			t.Fatal("timed out waiting for config publish")
		}
	}
}

func TestReloadRejectedByValidator(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"bot":{"name":"one"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Bot.Name == "bad" {
			return context.Canceled
		}
		return nil
	})

	writeFile(t, path, `{"bot":{"name":"bad"}}`)
	if m.reload(context.Background()) {
		t.Fatal("reload should be rejected")
	}
	if m.Get().Bot.Name != "one" {
		t.Fatalf("committed name = %q, want one", m.Get().Bot.Name)
	}

	writeFile(t, path, `{"bot":{"name":"one"}}`)
	if m.reload(context.Background()) {
		t.Fatal("unchanged content should not publish")
	}
}

func TestYAMLConversion(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yml", []byte("logging:\n  chat:\n    enabled: true\n    room: \"-1001234567890123/4\"\n    rate_per_sec: 3\nbot:\n  workers: 9007199254740993\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Bot.Workers != 9007199254740993 {
		t.Fatalf("Workers = %d, large ints must survive", cfg.Bot.Workers)
	}
	if cfg.Logging.Chat.RatePerSec != 3 || cfg.Logging.Chat.Room != "-1001234567890123/4" {
		t.Fatalf("Logging.Chat = %+v", cfg.Logging.Chat)
	}

	if _, err := Decode("empty.yaml", nil); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if _, err := Decode("m.yaml", []byte("base: &b {name: x}\nbot:\n  <<: *b\n")); err == nil || !strings.Contains(err.Error(), "merge keys") {
		t.Fatalf("merge key error = %v", err)
	}
	if _, err := Decode("bad.yaml", []byte("bot: [\n")); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestParseTokenFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram":{"token":"from-file"}}`)
	t.Setenv(EnvToken, "from-env")
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("Token = %q, want from-env", cfg.Telegram.Token)
	}
}
