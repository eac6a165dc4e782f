package giveaway

import (
	"context"
	"errors"
	"time"

	"gwybot/internal/storage"
	"gwybot/internal/transport"
	logx "gwybot/pkg/logx"
)

// Complete concludes a giveaway: draw winners (or declare none),
// announce, delete the record. Invoking it for an id whose row is gone
// is a no-op, which is what makes the timer/failsafe race harmless.
//
// Platform failures along the way are logged and swallowed; the store is
// the source of truth for "did this giveaway conclude", not the
// announcement's visible state.
func (m *Manager) Complete(ctx context.Context, id int64) error {
	g, err := m.store.Giveaway(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Another invoker already concluded it.
		m.removeHandle(id)
		return nil
	}
	if err != nil {
		return err
	}

	entries, err := m.store.Entries(ctx, id)
	if err != nil {
		return err
	}

	winners := drawWinners(entries, g.Winners)
	ref := announcementRef(g)
	opt := &transport.SendOptions{ParseMode: "HTML"}
	if err := m.platform.EditAnnouncement(ctx, ref, endedText(g, winners), opt); err != nil {
		m.log.Warn("announcement edit failed", logx.Int64("giveaway", id), logx.Err(err))
	}
	if len(winners) > 0 {
		to := transport.ChatTarget{ChatID: g.ChatID, ThreadID: g.ThreadID}
		if _, err := m.platform.SendText(ctx, to, congratsText(g, winners), opt); err != nil {
			m.log.Warn("winner announcement failed", logx.Int64("giveaway", id), logx.Err(err))
		}
	}

	if err := m.store.DeleteGiveaway(ctx, id); err != nil {
		return err
	}
	m.removeHandle(id)
	m.log.Info("giveaway completed",
		logx.Int64("giveaway", id),
		logx.Int("entries", len(entries)),
		logx.Int("winners", len(winners)))
	return nil
}

// LoadGiveaways rebuilds the timer map from the store: future end times
// get a timer for the remaining delay, past ones complete right away
// (a zero-delay timer, so everything funnels through the same path).
func (m *Manager) LoadGiveaways(ctx context.Context) error {
	gs, err := m.store.Giveaways(ctx)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, g := range gs {
		m.schedule(g.ID, time.Duration(g.EndTime-now)*time.Second)
	}
	if len(gs) > 0 {
		m.log.Info("giveaways restored", logx.Int("count", len(gs)))
	}
	return nil
}

// failsafeScan completes every expired giveaway that has no live timer.
// Redundant with the timers on purpose: it is the recovery mechanism for
// crashes, missed fires, and partially-failed completions.
func (m *Manager) failsafeScan() {
	ctx, cancel := m.opCtx()
	defer cancel()

	gs, err := m.store.Giveaways(ctx)
	if err != nil {
		m.log.Warn("failsafe scan failed", logx.Err(err))
		return
	}
	now := time.Now().Unix()
	for _, g := range gs {
		if g.EndTime > now {
			continue
		}
		m.mu.Lock()
		_, live := m.timers[g.ID]
		m.mu.Unlock()
		if live {
			continue
		}
		if err := m.Complete(ctx, g.ID); err != nil {
			m.log.Error("failsafe completion failed", logx.Int64("giveaway", g.ID), logx.Err(err))
		}
	}
}
