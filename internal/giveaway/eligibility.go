package giveaway

import "gwybot/internal/storage"

// Eligible decides whether a participant satisfies the configured
// requirements given a snapshot of their roles and activity counts.
// Conditions are conjunctive; no requirements means always eligible.
// Pure function, no I/O.
func Eligible(req storage.Requirements, roles map[string]bool, messages, invites int64) bool {
	if req.Role != "" && !roles[req.Role] {
		return false
	}
	if req.MinMessages > 0 && messages < req.MinMessages {
		return false
	}
	if req.MinInvites > 0 && invites < req.MinInvites {
		return false
	}
	return true
}
