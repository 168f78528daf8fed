package config

import (
	"strings"
	"testing"
	"time"
)

func setKick(t *testing.T) {
	t.Helper()
	t.Setenv("KICK_CHANNEL_ID", "668")
	t.Setenv("KICK_CHANNEL_SLUG", "xqc")
}

func TestLoadDefaults(t *testing.T) {
	setKick(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.StoreBackend != StorePostgres || cfg.FeedProvider != FeedKick {
		t.Errorf("backend/provider = %q/%q", cfg.StoreBackend, cfg.FeedProvider)
	}
	want := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	if !cfg.CycleEpoch.Equal(want) {
		t.Errorf("CycleEpoch = %v, want %v", cfg.CycleEpoch, want)
	}
	if cfg.CyclePeriod != 7*24*time.Hour || cfg.CycleOffset != 0 {
		t.Errorf("period/offset = %v/%v", cfg.CyclePeriod, cfg.CycleOffset)
	}
	if cfg.PollInterval != time.Second || cfg.BoundaryGrace != time.Minute {
		t.Errorf("poll/grace = %v/%v", cfg.PollInterval, cfg.BoundaryGrace)
	}
	if cfg.DrawPoolSize != 15 || cfg.SnapshotSize != 100 || cfg.Prize != 10 {
		t.Errorf("pool/snapshot/prize = %d/%d/%d", cfg.DrawPoolSize, cfg.SnapshotSize, cfg.Prize)
	}
	if strings.Join(cfg.IgnoredUsers, ",") != "BotRix,KickBot" {
		t.Errorf("IgnoredUsers = %v", cfg.IgnoredUsers)
	}
}

func TestLoadOverrides(t *testing.T) {
	setKick(t)
	t.Setenv("CYCLE_EPOCH", "2024-01-01T00:00:00Z")
	t.Setenv("CYCLE_PERIOD", "24h")
	t.Setenv("CYCLE_OFFSET", "-5h")
	t.Setenv("IGNORED_USERS", "a,b,c")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("PRIZE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	s := cfg.Schedule()
	if s.Period != 24*time.Hour || s.Offset != -5*time.Hour {
		t.Errorf("schedule = %+v", s)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Errorf("StoreBackend = %q, want lowercased memory", cfg.StoreBackend)
	}
	opts := cfg.EngineOptions()
	if opts.Prize != 25 || len(opts.IgnoredUsers) != 3 {
		t.Errorf("engine options = %+v", opts)
	}
	if opts.Grace != cfg.BoundaryGrace || opts.IOTimeout != cfg.FetchTimeout {
		t.Errorf("grace/timeout not mapped: %+v", opts)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreBackend:    StoreMemory,
			FeedProvider:    FeedKick,
			KickChannelID:   "1",
			KickChannelSlug: "s",
			CycleEpoch:      time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			CyclePeriod:     time.Hour,
			DrawPoolSize:    15,
			SnapshotSize:    100,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad backend", func(c *Config) { c.StoreBackend = "redis" }, "STORE_BACKEND"},
		{"bad provider", func(c *Config) { c.FeedProvider = "irc" }, "FEED_PROVIDER"},
		{"missing kick", func(c *Config) { c.KickChannelSlug = "" }, "KICK_CHANNEL_SLUG"},
		{"zero period", func(c *Config) { c.CyclePeriod = 0 }, "period"},
		{"zero pool", func(c *Config) { c.DrawPoolSize = 0 }, "DRAW_POOL_SIZE"},
		{"negative prize", func(c *Config) { c.Prize = -1 }, "PRIZE"},
		{"twitch without creds", func(c *Config) { c.FeedProvider = FeedTwitch }, "TWITCH_CHANNEL"},
		{"twitch complete", func(c *Config) {
			c.FeedProvider = FeedTwitch
			c.TwitchChannel, c.TwitchBotUsername, c.TwitchOAuthToken = "chan", "bot", "oauth:x"
			c.TwitchClientID, c.TwitchClientSecret = "id", "secret"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	cfg := &Config{TwitchChannel: "chan", TwitchBotUsername: "bot", TwitchOAuthToken: "oauth:token"}
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	cfg.TwitchChannel = ""
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestCORSIsPermissive(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		env      string
		override *bool
		want     bool
	}{
		{"", nil, true},
		{"dev", nil, true},
		{"production", nil, false},
		{"production", &yes, true},
		{"dev", &no, false},
	}
	for _, tt := range tests {
		c := &Config{Env: tt.env, CORSPermissive: tt.override}
		if got := c.CORSIsPermissive(); got != tt.want {
			t.Errorf("env=%q override=%v: got %v, want %v", tt.env, tt.override, got, tt.want)
		}
	}
}
