package giveaway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gwybot/internal/storage"
	"gwybot/internal/transport"
	logx "gwybot/pkg/logx"
)

var (
	// ErrAnnouncementFailed means the platform refused the announcement
	// post; nothing was persisted.
	ErrAnnouncementFailed = errors.New("posting the announcement failed")
	// ErrNoEntries is returned by Reroll when there is nothing to draw from.
	ErrNoEntries = errors.New("no entries to draw from")
)

// Config controls the giveaway manager.
type Config struct {
	// FailsafeInterval is the period of the recovery scan that completes
	// any expired giveaway with no live timer. Default 60s.
	FailsafeInterval time.Duration
	// CompleteTimeout bounds a single completion run (store + platform I/O).
	// Default 30s.
	CompleteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailsafeInterval <= 0 {
		c.FailsafeInterval = 60 * time.Second
	}
	if c.CompleteTimeout <= 0 {
		c.CompleteTimeout = 30 * time.Second
	}
	return c
}

// Counters is the read-only view of the activity trackers consulted by
// eligibility checks.
type Counters interface {
	MessageCount(ctx context.Context, chatID, userID int64) (int64, error)
	InviteCount(ctx context.Context, chatID, userID int64) (int64, error)
}

// CreateParams is pre-validated operator input for a new giveaway.
type CreateParams struct {
	Location transport.ChatTarget
	Prize    string
	Winners  int
	Duration time.Duration
	Host     int64
}

// Manager owns the pending completion timers and every lifecycle
// operation. It is safe for concurrent use.
type Manager struct {
	cfg      Config
	log      logx.Logger
	store    storage.Store
	platform transport.Adapter
	counters Counters

	mu     sync.Mutex
	timers map[int64]*time.Timer
	// vers lets a cancelled or replaced timer recognize its own staleness:
	// a fired callback whose version no longer matches does nothing.
	vers map[int64]uint64

	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store storage.Store, platform transport.Adapter, counters Counters, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		log:      log,
		store:    store,
		platform: platform,
		counters: counters,
		timers:   map[int64]*time.Timer{},
		vers:     map[int64]uint64{},
	}
}
