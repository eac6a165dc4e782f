package config

import (
	"sort"
	"strings"

	logx "gwybot/pkg/logx"
)

// SummarizeChange returns the changed section names plus structured
// attrs safe for logging (the token is never included).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	attrs := make([]logx.Field, 0, 8)

	if (strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.SendRatePerSec != newCfg.Telegram.SendRatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.send_rate_per_sec", newCfg.Telegram.SendRatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Giveaways != newCfg.Giveaways {
		changed = append(changed, "giveaways")
		attrs = append(attrs,
			logx.String("giveaways.failsafe_interval", strings.TrimSpace(newCfg.Giveaways.FailsafeInterval)),
			logx.String("giveaways.complete_timeout", strings.TrimSpace(newCfg.Giveaways.CompleteTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
