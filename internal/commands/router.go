package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"gwybot/internal/activity"
	"gwybot/internal/giveaway"
	"gwybot/internal/storage"
	"gwybot/internal/transport"
	logx "gwybot/pkg/logx"
	"gwybot/pkg/tgui"
)

const maxWinners = 50

// Router consumes the adapter's update stream: group messages feed the
// activity trackers and the operator command surface, button presses feed
// the giveaway engine's entry operations.
type Router struct {
	mgr      *giveaway.Manager
	store    storage.Store
	trackers *activity.Trackers
	platform transport.Adapter
	log      logx.Logger
}

func New(mgr *giveaway.Manager, store storage.Store, trackers *activity.Trackers, platform transport.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{mgr: mgr, store: store, trackers: trackers, platform: platform, log: log}
}

// Run drains updates until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, in <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("update handler panicked",
				logx.String("kind", string(up.Kind)),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, *up.Message)
		}
	case transport.UpdateJoin:
		if up.Entry != nil {
			if err := r.mgr.AcceptEntry(ctx, *up.Entry); err != nil {
				r.log.Error("accepting entry failed",
					logx.Int64("giveaway", up.Entry.Giveaway), logx.Err(err))
			}
		}
	case transport.UpdateLeave:
		if up.Entry != nil {
			if err := r.mgr.WithdrawEntry(ctx, *up.Entry); err != nil {
				r.log.Error("withdrawing entry failed",
					logx.Int64("giveaway", up.Entry.Giveaway), logx.Err(err))
			}
		}
	case transport.UpdateMemberIn:
		if up.Member != nil {
			r.trackers.RecordInvite(ctx, up.Member.ChatID, up.Member.Inviter)
		}
	case transport.UpdateMemberOut:
		if up.Member != nil {
			r.trackers.RevokeInvite(ctx, up.Member.ChatID, up.Member.Inviter)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, msg transport.Message) {
	if msg.IsGroup {
		r.trackers.RecordMessage(ctx, msg.ChatID, msg.FromID)
	}
	name, args, ok := splitCommand(msg.Text)
	if !ok {
		return
	}

	var err error
	switch name {
	case "gstart":
		err = r.cmdStart(ctx, msg, args)
	case "gend":
		err = r.cmdEnd(ctx, msg, args)
	case "greroll":
		err = r.cmdReroll(ctx, msg, args)
	case "gdel":
		err = r.cmdDelete(ctx, msg, args)
	case "glist":
		err = r.cmdList(ctx, msg)
	case "ginfo":
		err = r.cmdInfo(ctx, msg, args)
	case "gsetrequirement":
		err = r.cmdSetRequirement(ctx, msg, args)
	case "gsetrole":
		err = r.cmdSetRole(ctx, msg, args)
	case "ginvites":
		err = r.cmdInvites(ctx, msg, args)
	case "ghelp":
		err = r.cmdHelp(ctx, msg)
	default:
		return
	}
	if err != nil {
		r.log.Error("command failed",
			logx.String("command", name),
			logx.Int64("chat", msg.ChatID),
			logx.Int64("from", msg.FromID),
			logx.Err(err))
	}
}

// requireManager replies with a refusal and returns false unless the
// sender holds the bound manager role or is a chat admin.
func (r *Router) requireManager(ctx context.Context, msg transport.Message) bool {
	ok, err := r.isManager(ctx, msg.ChatID, msg.FromID)
	if err != nil {
		r.log.Error("resolving permissions failed",
			logx.Int64("chat", msg.ChatID), logx.Int64("user", msg.FromID), logx.Err(err))
		r.reply(ctx, msg, "Couldn't verify your permissions, try again.")
		return false
	}
	if !ok {
		r.reply(ctx, msg, "You need the giveaway manager role to do that.")
	}
	return ok
}

func (r *Router) isManager(ctx context.Context, chatID, userID int64) (bool, error) {
	roles, err := r.platform.MemberRoles(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("member roles: %w", err)
	}
	if roles["creator"] || roles["administrator"] {
		return true, nil
	}
	bound, err := r.store.ManagerRole(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("manager role: %w", err)
	}
	return bound != "" && roles[bound], nil
}

func (r *Router) cmdStart(ctx context.Context, msg transport.Message, args []string) error {
	if !r.requireManager(ctx, msg) {
		return nil
	}
	if len(args) < 3 {
		r.reply(ctx, msg, "Usage: /gstart &lt;duration&gt; &lt;winners&gt; &lt;prize&gt;\nExample: <code>/gstart 1d12h 2 Nitro</code>")
		return nil
	}
	dur, err := ParseDuration(args[0])
	if err != nil {
		r.reply(ctx, msg, tgui.Esc(err.Error()).String())
		return nil
	}
	winners, err := strconv.Atoi(args[1])
	if err != nil || winners < 1 || winners > maxWinners {
		r.reply(ctx, msg, fmt.Sprintf("Winners must be a number between 1 and %d.", maxWinners))
		return nil
	}
	prize := strings.TrimSpace(strings.Join(args[2:], " "))
	if prize == "" {
		r.reply(ctx, msg, "The prize can't be empty.")
		return nil
	}

	g, err := r.mgr.Create(ctx, giveaway.CreateParams{
		Location: transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Prize:    prize,
		Winners:  winners,
		Duration: dur,
		Host:     msg.FromID,
	})
	if err != nil {
		if errors.Is(err, giveaway.ErrAnnouncementFailed) {
			r.reply(ctx, msg, "Couldn't post the announcement, nothing was started.")
			return nil
		}
		r.reply(ctx, msg, "Starting the giveaway failed.")
		return err
	}
	r.reply(ctx, msg, fmt.Sprintf("Giveaway %s started. Manage it with /gend, /greroll or /gdel.", tgui.Code(strconv.FormatInt(g.ID, 10))))
	return nil
}

func (r *Router) cmdEnd(ctx context.Context, msg transport.Message, args []string) error {
	if !r.requireManager(ctx, msg) {
		return nil
	}
	id, ok := r.idArg(ctx, msg, args, "/gend")
	if !ok {
		return nil
	}
	if err := r.mgr.EndNow(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, msg, "No running giveaway with that id.")
			return nil
		}
		r.reply(ctx, msg, "Ending the giveaway failed.")
		return err
	}
	return nil
}

func (r *Router) cmdReroll(ctx context.Context, msg transport.Message, args []string) error {
	if !r.requireManager(ctx, msg) {
		return nil
	}
	id, ok := r.idArg(ctx, msg, args, "/greroll")
	if !ok {
		return nil
	}
	if _, err := r.mgr.Reroll(ctx, id); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			r.reply(ctx, msg, "No running giveaway with that id. Rerolls only work before completion.")
		case errors.Is(err, giveaway.ErrNoEntries):
			r.reply(ctx, msg, "Nobody has entered that giveaway yet.")
		default:
			r.reply(ctx, msg, "Rerolling failed.")
			return err
		}
	}
	return nil
}

func (r *Router) cmdDelete(ctx context.Context, msg transport.Message, args []string) error {
	if !r.requireManager(ctx, msg) {
		return nil
	}
	id, ok := r.idArg(ctx, msg, args, "/gdel")
	if !ok {
		return nil
	}
	if err := r.mgr.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, msg, "No running giveaway with that id.")
			return nil
		}
		r.reply(ctx, msg, "Deleting the giveaway failed.")
		return err
	}
	r.reply(ctx, msg, "Giveaway deleted, no winners will be drawn.")
	return nil
}

func (r *Router) cmdList(ctx context.Context, msg transport.Message) error {
	all, err := r.mgr.ListRunning(ctx)
	if err != nil {
		r.reply(ctx, msg, "Listing giveaways failed.")
		return err
	}
	var lines []string
	for _, g := range all {
		if g.ChatID != msg.ChatID {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s, %d winner(s), ends %s",
			tgui.Code(strconv.FormatInt(g.ID, 10)), tgui.B(g.Prize), g.Winners, tgui.Esc(giveaway.EndTimeLabel(g.EndTime))))
	}
	if len(lines) == 0 {
		r.reply(ctx, msg, "No running giveaways in this chat.")
		return nil
	}
	r.reply(ctx, msg, tgui.B("Running giveaways").String()+"\n"+strings.Join(lines, "\n"))
	return nil
}

func (r *Router) cmdInfo(ctx context.Context, msg transport.Message, args []string) error {
	id, ok := r.idArg(ctx, msg, args, "/ginfo")
	if !ok {
		return nil
	}
	g, err := r.mgr.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, msg, "No running giveaway with that id.")
			return nil
		}
		r.reply(ctx, msg, "Fetching the giveaway failed.")
		return err
	}
	entries, err := r.mgr.EntryCount(ctx, id)
	if err != nil {
		r.reply(ctx, msg, "Fetching the giveaway failed.")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Prize:"), tgui.Esc(g.Prize))
	fmt.Fprintf(&b, "%s %s\n", tgui.B("Hosted by:"), tgui.Mention("host", g.Host))
	fmt.Fprintf(&b, "%s %d\n", tgui.B("Winners:"), g.Winners)
	fmt.Fprintf(&b, "%s %d\n", tgui.B("Entries:"), entries)
	fmt.Fprintf(&b, "%s %s", tgui.B("Ends:"), tgui.Esc(giveaway.EndTimeLabel(g.EndTime)))
	if reqs := giveaway.RequirementLabel(g.Req); reqs != "" {
		fmt.Fprintf(&b, "\n%s %s", tgui.B("Requirements:"), tgui.Esc(reqs))
	}
	r.reply(ctx, msg, b.String())
	return nil
}

func (r *Router) cmdSetRequirement(ctx context.Context, msg transport.Message, args []string) error {
	if !r.requireManager(ctx, msg) {
		return nil
	}
	if len(args) < 3 {
		r.reply(ctx, msg, "Usage: /gsetrequirement &lt;id&gt; &lt;role|min_messages|min_invites&gt; &lt;value&gt;\nUse <code>none</code> or <code>0</code> to clear.")
		return nil
	}
	id, err := parseID(args[0])
	if err != nil {
		r.reply(ctx, msg, tgui.Esc(err.Error()).String())
		return nil
	}

	var patch storage.RequirementsPatch
	kind := strings.ToLower(args[1])
	value := strings.Join(args[2:], " ")
	switch kind {
	case "role":
		role := strings.TrimSpace(value)
		if strings.EqualFold(role, "none") {
			role = ""
		}
		patch.Role = &role
	case "min_messages", "min_invites":
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			r.reply(ctx, msg, "The value must be a non-negative number.")
			return nil
		}
		if kind == "min_messages" {
			patch.MinMessages = &n
		} else {
			patch.MinInvites = &n
		}
	default:
		r.reply(ctx, msg, "Unknown requirement, use role, min_messages or min_invites.")
		return nil
	}

	if err := r.mgr.UpdateRequirements(ctx, id, patch); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.reply(ctx, msg, "No running giveaway with that id.")
			return nil
		}
		r.reply(ctx, msg, "Updating the requirement failed.")
		return err
	}
	r.reply(ctx, msg, "Requirement updated. It applies to new entries only.")
	return nil
}

func (r *Router) cmdSetRole(ctx context.Context, msg transport.Message, args []string) error {
	// Binding the manager role stays admin-only even when a role is bound.
	roles, err := r.platform.MemberRoles(ctx, msg.ChatID, msg.FromID)
	if err != nil {
		r.reply(ctx, msg, "Couldn't verify your permissions, try again.")
		return fmt.Errorf("member roles: %w", err)
	}
	if !roles["creator"] && !roles["administrator"] {
		r.reply(ctx, msg, "Only chat admins can bind the manager role.")
		return nil
	}
	if len(args) < 1 {
		r.reply(ctx, msg, "Usage: /gsetrole &lt;role&gt; (or <code>none</code> to clear)")
		return nil
	}
	role := strings.TrimSpace(strings.Join(args, " "))
	if strings.EqualFold(role, "none") {
		role = ""
	}
	if err := r.store.SetManagerRole(ctx, msg.ChatID, role); err != nil {
		r.reply(ctx, msg, "Binding the manager role failed.")
		return err
	}
	if role == "" {
		r.reply(ctx, msg, "Manager role cleared, admins only from now on.")
	} else {
		r.reply(ctx, msg, fmt.Sprintf("Manager role bound to %s.", tgui.Code(role)))
	}
	return nil
}

// cmdInvites shows the invite tally a min_invites requirement is judged
// against. Anyone can check their own; an optional numeric id checks
// another member.
func (r *Router) cmdInvites(ctx context.Context, msg transport.Message, args []string) error {
	target := msg.FromID
	if len(args) > 0 {
		id, err := parseID(args[0])
		if err != nil {
			r.reply(ctx, msg, "Usage: /ginvites [user id]")
			return nil
		}
		target = id
	}
	n, err := r.trackers.InviteCount(ctx, msg.ChatID, target)
	if err != nil {
		r.reply(ctx, msg, "Fetching the invite count failed.")
		return err
	}
	if target == msg.FromID {
		r.reply(ctx, msg, fmt.Sprintf("🎟️ You have invited %d member(s) to this chat.", n))
	} else {
		r.reply(ctx, msg, fmt.Sprintf("🎟️ %s has invited %d member(s) to this chat.", tgui.Mention("member", target), n))
	}
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, msg transport.Message) error {
	help := strings.Join([]string{
		tgui.B("Giveaway commands").String(),
		"/gstart &lt;duration&gt; &lt;winners&gt; &lt;prize&gt;",
		"/gend &lt;id&gt;",
		"/greroll &lt;id&gt;",
		"/gdel &lt;id&gt;",
		"/glist",
		"/ginfo &lt;id&gt;",
		"/gsetrequirement &lt;id&gt; &lt;role|min_messages|min_invites&gt; &lt;value&gt;",
		"/gsetrole &lt;role&gt;",
		"/ginvites [user id]",
	}, "\n")
	r.reply(ctx, msg, help)
	return nil
}

func (r *Router) idArg(ctx context.Context, msg transport.Message, args []string, usage string) (int64, bool) {
	if len(args) < 1 {
		r.reply(ctx, msg, fmt.Sprintf("Usage: %s &lt;id&gt;", usage))
		return 0, false
	}
	id, err := parseID(args[0])
	if err != nil {
		r.reply(ctx, msg, tgui.Esc(err.Error()).String())
		return 0, false
	}
	return id, true
}

// reply is best-effort; a failed confirmation never fails the command.
func (r *Router) reply(ctx context.Context, msg transport.Message, html any) {
	text := fmt.Sprint(html)
	to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := r.platform.SendText(ctx, to, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		r.log.Warn("sending reply failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
	}
}
