// Package activity keeps the per-chat message and invite tallies that
// giveaway requirements are checked against.
package activity

import (
	"context"

	"gwybot/internal/storage"
	logx "gwybot/pkg/logx"
)

// Trackers records activity events and serves counter lookups. Counting
// is best-effort: a failed increment is logged and dropped, never
// surfaced to the message path.
type Trackers struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Trackers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trackers{store: store, log: log}
}

// RecordMessage adds one to the sender's tally for the chat.
func (t *Trackers) RecordMessage(ctx context.Context, chatID, userID int64) {
	if err := t.store.IncrMessageCount(ctx, chatID, userID); err != nil {
		t.log.Warn("message count update failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// RecordInvite credits the inviter when they bring a member in.
func (t *Trackers) RecordInvite(ctx context.Context, chatID, inviter int64) {
	if inviter == 0 {
		return
	}
	if err := t.store.AddInvite(ctx, chatID, inviter); err != nil {
		t.log.Warn("invite count update failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// RevokeInvite debits the inviter when their invitee leaves (floor 0).
func (t *Trackers) RevokeInvite(ctx context.Context, chatID, inviter int64) {
	if inviter == 0 {
		return
	}
	if err := t.store.RemoveInvite(ctx, chatID, inviter); err != nil {
		t.log.Warn("invite count update failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// MessageCount returns the sender's tenant-scoped message tally.
func (t *Trackers) MessageCount(ctx context.Context, chatID, userID int64) (int64, error) {
	return t.store.MessageCount(ctx, chatID, userID)
}

// InviteCount returns the user's tenant-scoped invite tally.
func (t *Trackers) InviteCount(ctx context.Context, chatID, userID int64) (int64, error) {
	return t.store.InviteCount(ctx, chatID, userID)
}
