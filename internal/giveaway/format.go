package giveaway

import (
	"fmt"
	"strings"
	"time"

	"gwybot/internal/storage"
	"gwybot/pkg/tgui"
)

// Announcement texts are Telegram HTML; callers send them with
// ParseMode="HTML".

func runningText(g storage.Giveaway) string {
	var b strings.Builder
	b.WriteString(tgui.B("🎉 Giveaway Started! 🎉").String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Prize:"), tgui.Esc(g.Prize))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Hosted by:"), tgui.Mention("host", g.Host))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Ends:"), tgui.Esc(EndTimeLabel(g.EndTime)))
	if reqs := RequirementLabel(g.Req); reqs != "" {
		fmt.Fprintf(&b, "%s %s\n", tgui.B("Requirements:"), tgui.Esc(reqs))
	}
	fmt.Fprintf(&b, "\n%s", tgui.I(fmt.Sprintf("%d winner(s) • press Join to enter!", g.Winners)))
	return b.String()
}

func endedText(g storage.Giveaway, winners []int64) string {
	var b strings.Builder
	b.WriteString(tgui.B("🎉 Giveaway Ended 🎉").String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Prize:"), tgui.Esc(g.Prize))
	if len(winners) == 0 {
		fmt.Fprintf(&b, "No valid entries 😢")
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s", tgui.B("Winner(s):"), mentionList(winners))
	return b.String()
}

func congratsText(g storage.Giveaway, winners []int64) string {
	return fmt.Sprintf("🎉 Congratulations %s! You won %s!", mentionList(winners), tgui.B(g.Prize))
}

func rerollText(g storage.Giveaway, winners []int64) string {
	return fmt.Sprintf("🔁 Reroll results for %s: %s", tgui.B(g.Prize), mentionList(winners))
}

func mentionList(ids []int64) tgui.H {
	parts := make([]tgui.H, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, tgui.Mention(fmt.Sprintf("user %d", id), id))
	}
	return tgui.JoinH(", ", parts...)
}

// RequirementLabel renders the entry requirements as a short plain-text
// summary, empty when there are none.
func RequirementLabel(r storage.Requirements) string {
	var parts []string
	if r.Role != "" {
		parts = append(parts, "role: "+r.Role)
	}
	if r.MinMessages > 0 {
		parts = append(parts, fmt.Sprintf("messages ≥ %d", r.MinMessages))
	}
	if r.MinInvites > 0 {
		parts = append(parts, fmt.Sprintf("invites ≥ %d", r.MinInvites))
	}
	return strings.Join(parts, ", ")
}

// EndTimeLabel formats a unix end time for announcements and listings.
func EndTimeLabel(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04 MST")
}
