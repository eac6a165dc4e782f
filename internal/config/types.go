package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig `json:"telegram"`
	Logging   LoggingConfig  `json:"logging"`
	Storage   StorageConfig  `json:"storage"`
	Giveaways GiveawayConfig `json:"giveaways"`
}

// TelegramConfig controls the bot transport.
//
// Token can be kept out of the config file and supplied via the
// GWYBOT_TOKEN environment variable (a .env file works too).
type TelegramConfig struct {
	Token string `json:"token,omitempty" env:"GWYBOT_TOKEN"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec caps outgoing API calls. 0 keeps the default.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"GWYBOT_LOG_LEVEL"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path" env:"GWYBOT_DB_PATH"`
	// BusyTimeout is a Go duration string passed to sqlite.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// GiveawayConfig controls the lifecycle engine.
//
// All durations are Go duration strings (e.g. "30s", "1m").
type GiveawayConfig struct {
	// FailsafeInterval is the period of the recovery scan. Default 60s.
	FailsafeInterval string `json:"failsafe_interval,omitempty"`
	// CompleteTimeout bounds a single completion run. Default 30s.
	CompleteTimeout string `json:"complete_timeout,omitempty"`
}

// Validate checks the fields no default can repair.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (config file or GWYBOT_TOKEN)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"giveaways.failsafe_interval", c.Giveaways.FailsafeInterval},
		{"giveaways.complete_timeout", c.Giveaways.CompleteTimeout},
	} {
		if _, err := Duration(f.path, f.raw, 0); err != nil {
			return err
		}
	}
	return nil
}
