package giveaway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"gwybot/internal/storage"
	"gwybot/internal/transport"
	logx "gwybot/pkg/logx"
)

// Start begins the failsafe recovery loop. Call LoadGiveaways first so
// restored giveaways get their timers back before the first scan.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return nil
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.cfg.FailsafeInterval), m.failsafeScan); err != nil {
		m.cancel()
		m.runCtx, m.cancel = nil, nil
		return err
	}
	c.Start()
	m.c = c
	m.log.Info("manager started", logx.Duration("failsafe_interval", m.cfg.FailsafeInterval))
	return nil
}

// Stop cancels every pending timer and halts the failsafe loop. Pending
// completions are not run; they are recovered on the next start.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c = nil
	cancel := m.cancel
	m.cancel = nil
	m.runCtx = nil
	for id, t := range m.timers {
		_ = t.Stop()
		delete(m.timers, id)
		delete(m.vers, id)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	m.log.Info("manager stopped")
}

// Create posts the public announcement, persists the giveaway under the
// announcement's message id, and schedules its completion. Nothing is
// persisted when the announcement post fails.
func (m *Manager) Create(ctx context.Context, p CreateParams) (storage.Giveaway, error) {
	if p.Winners <= 0 {
		return storage.Giveaway{}, errors.New("winner count must be positive")
	}
	g := storage.Giveaway{
		ChatID:   p.Location.ChatID,
		ThreadID: p.Location.ThreadID,
		Prize:    p.Prize,
		Winners:  p.Winners,
		EndTime:  time.Now().Add(p.Duration).Unix(),
		Host:     p.Host,
	}

	ref, err := m.platform.PostAnnouncement(ctx, p.Location, runningText(g),
		&transport.SendOptions{ParseMode: "HTML", JoinKeyboard: true})
	if err != nil {
		return storage.Giveaway{}, fmt.Errorf("%w: %v", ErrAnnouncementFailed, err)
	}
	g.ID = ref.MessageID

	if err := m.store.CreateGiveaway(ctx, g); err != nil {
		// The announcement is up but the record is not; take it down so no
		// orphan announcement is left behind.
		if derr := m.platform.DeleteAnnouncement(ctx, ref); derr != nil {
			m.log.Warn("orphan announcement cleanup failed", logx.Int64("giveaway", g.ID), logx.Err(derr))
		}
		return storage.Giveaway{}, err
	}

	m.schedule(g.ID, p.Duration)
	m.log.Info("giveaway started",
		logx.Int64("giveaway", g.ID),
		logx.Int64("chat", g.ChatID),
		logx.Int("winners", g.Winners),
		logx.Duration("duration", p.Duration))
	return g, nil
}

// AcceptEntry handles a join press. Absent giveaways are a no-op (the
// announcement may be stale). An ineligible join is visibly revoked by
// answering the press with the reason.
func (m *Manager) AcceptEntry(ctx context.Context, ev transport.EntryEvent) error {
	g, err := m.store.Giveaway(ctx, ev.Giveaway)
	if errors.Is(err, storage.ErrNotFound) {
		m.answer(ctx, ev.Ack, "This giveaway is no longer running.", false)
		return nil
	}
	if err != nil {
		return err
	}

	ok, reason, err := m.checkEligibility(ctx, g, ev.Participant)
	if err != nil {
		return err
	}
	if !ok {
		m.answer(ctx, ev.Ack, reason, true)
		return nil
	}

	if err := m.store.AddEntry(ctx, g.ID, ev.Participant); err != nil {
		return err
	}
	m.answer(ctx, ev.Ack, "You're in! 🎉", false)
	return nil
}

// WithdrawEntry handles a leave press. Always succeeds; removing an
// absent entry is a no-op.
func (m *Manager) WithdrawEntry(ctx context.Context, ev transport.EntryEvent) error {
	if err := m.store.RemoveEntry(ctx, ev.Giveaway, ev.Participant); err != nil {
		return err
	}
	m.answer(ctx, ev.Ack, "Entry withdrawn.", false)
	return nil
}

// UpdateRequirements merges the provided fields. Already-scheduled
// completion timing is unaffected.
func (m *Manager) UpdateRequirements(ctx context.Context, id int64, p storage.RequirementsPatch) error {
	return m.store.UpdateRequirements(ctx, id, p)
}

// Get returns the giveaway record.
func (m *Manager) Get(ctx context.Context, id int64) (storage.Giveaway, error) {
	return m.store.Giveaway(ctx, id)
}

// ListRunning returns all running giveaways (row presence means running).
func (m *Manager) ListRunning(ctx context.Context) ([]storage.Giveaway, error) {
	return m.store.Giveaways(ctx)
}

// EntryCount reports how many participants are currently entered.
func (m *Manager) EntryCount(ctx context.Context, id int64) (int, error) {
	entries, err := m.store.Entries(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// EndNow cancels the pending timer and runs completion immediately.
func (m *Manager) EndNow(ctx context.Context, id int64) error {
	if _, err := m.store.Giveaway(ctx, id); err != nil {
		return err
	}
	m.cancelTimer(id)
	return m.Complete(ctx, id)
}

// Reroll draws a fresh winner set from the current entries and announces
// it. The giveaway record is left untouched. Completed giveaways have no
// row and therefore nothing to redraw from.
func (m *Manager) Reroll(ctx context.Context, id int64) ([]int64, error) {
	g, err := m.store.Giveaway(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := m.store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	winners := drawWinners(entries, g.Winners)
	to := transport.ChatTarget{ChatID: g.ChatID, ThreadID: g.ThreadID}
	if _, err := m.platform.SendText(ctx, to, rerollText(g, winners), &transport.SendOptions{ParseMode: "HTML"}); err != nil {
		m.log.Warn("reroll announcement failed", logx.Int64("giveaway", id), logx.Err(err))
	}
	m.log.Info("giveaway rerolled", logx.Int64("giveaway", id), logx.Int("winners", len(winners)))
	return winners, nil
}

// Delete cancels the giveaway outright: no draw, announcement removed
// best-effort, record and entries gone.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	g, err := m.store.Giveaway(ctx, id)
	if err != nil {
		return err
	}
	m.cancelTimer(id)
	if err := m.platform.DeleteAnnouncement(ctx, announcementRef(g)); err != nil {
		m.log.Warn("announcement delete failed", logx.Int64("giveaway", id), logx.Err(err))
	}
	if err := m.store.DeleteGiveaway(ctx, id); err != nil {
		return err
	}
	m.log.Info("giveaway deleted", logx.Int64("giveaway", id))
	return nil
}

// ---- eligibility ----

func (m *Manager) checkEligibility(ctx context.Context, g storage.Giveaway, participant int64) (bool, string, error) {
	req := g.Req
	if req.None() {
		return true, "", nil
	}

	var roles map[string]bool
	if req.Role != "" {
		var err error
		roles, err = m.platform.MemberRoles(ctx, g.ChatID, participant)
		if err != nil {
			return false, "", fmt.Errorf("resolve membership: %w", err)
		}
	}
	var messages, invites int64
	if req.MinMessages > 0 {
		var err error
		messages, err = m.counters.MessageCount(ctx, g.ChatID, participant)
		if err != nil {
			return false, "", fmt.Errorf("message count: %w", err)
		}
	}
	if req.MinInvites > 0 {
		var err error
		invites, err = m.counters.InviteCount(ctx, g.ChatID, participant)
		if err != nil {
			return false, "", fmt.Errorf("invite count: %w", err)
		}
	}

	if Eligible(req, roles, messages, invites) {
		return true, "", nil
	}

	switch {
	case req.Role != "" && !roles[req.Role]:
		return false, fmt.Sprintf("You need the %q role to enter this giveaway.", req.Role), nil
	case req.MinMessages > 0 && messages < req.MinMessages:
		return false, fmt.Sprintf("You need at least %d messages here to enter (you have %d).", req.MinMessages, messages), nil
	default:
		return false, fmt.Sprintf("You need at least %d invites here to enter (you have %d).", req.MinInvites, invites), nil
	}
}

// ---- timer bookkeeping ----

// schedule arms (or re-arms) the completion timer for id. Exactly one
// pending timer exists per id at any instant; a replaced timer's callback
// sees a stale version and does nothing.
func (m *Manager) schedule(id int64, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		_ = t.Stop()
	}
	ver := m.vers[id] + 1
	m.vers[id] = ver
	m.timers[id] = time.AfterFunc(delay, func() { m.fire(id, ver) })
}

func (m *Manager) fire(id int64, ver uint64) {
	m.mu.Lock()
	if m.vers[id] != ver {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := m.opCtx()
	defer cancel()
	err := m.Complete(ctx, id)
	// The timer is one-shot: its handle is spent whether completion
	// succeeded or not, and a leftover handle would read as live to
	// the failsafe scan.
	m.removeHandle(id)
	if err != nil {
		m.log.Error("completion failed", logx.Int64("giveaway", id), logx.Err(err))
	}
}

// cancelTimer stops and forgets the pending timer for id. Giveaway ids
// are never reused, so dropping the version entry is safe.
func (m *Manager) cancelTimer(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[id]; ok {
		_ = t.Stop()
		delete(m.timers, id)
	}
	delete(m.vers, id)
}

func (m *Manager) removeHandle(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
	delete(m.vers, id)
}

func (m *Manager) opCtx() (context.Context, context.CancelFunc) {
	m.mu.Lock()
	base := m.runCtx
	m.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, m.cfg.CompleteTimeout)
}

func (m *Manager) answer(ctx context.Context, ack, text string, alert bool) {
	if ack == "" {
		return
	}
	if err := m.platform.AnswerCallback(ctx, ack, text, alert); err != nil {
		m.log.Debug("callback answer failed", logx.Err(err))
	}
}

func announcementRef(g storage.Giveaway) transport.MessageRef {
	return transport.MessageRef{ChatID: g.ChatID, ThreadID: g.ThreadID, MessageID: g.ID}
}
