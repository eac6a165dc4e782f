// Package telegram binds the transport.Adapter capability surface to
// Telegram via telebot long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "gwybot/internal/transport"
	logx "gwybot/pkg/logx"
)

const (
	joinUnique  = "gwy_join"
	leaveUnique = "gwy_leave"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRatePerSec caps outbound API calls. Telegram throttles bots around
	// 30 messages/s globally; default 20.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	stopped chan struct{}

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged on Stop to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 20
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           int64(m.ID),
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		})
		return nil
	})

	entryHandler := func(kind kit.UpdateKind) tele.HandlerFunc {
		return func(c tele.Context) error {
			cb := c.Callback()
			m := c.Message()
			if cb == nil || m == nil || cb.Sender == nil {
				return nil
			}
			a.sendUpdate(kit.Update{
				Kind: kind,
				Entry: &kit.EntryEvent{
					Giveaway:    int64(m.ID),
					ChatID:      m.Chat.ID,
					ThreadID:    m.ThreadID,
					Participant: cb.Sender.ID,
					Ack:         cb.ID,
				},
			})
			return nil
		}
	}
	a.bot.Handle(&tele.Btn{Unique: joinUnique}, entryHandler(kit.UpdateJoin))
	a.bot.Handle(&tele.Btn{Unique: leaveUnique}, entryHandler(kit.UpdateLeave))

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserJoined == nil {
			return nil
		}
		var inviter int64
		// When someone adds another member, the sender is the inviter. A user
		// joining on their own is the sender of their own join event.
		if m.Sender != nil && m.Sender.ID != m.UserJoined.ID {
			inviter = m.Sender.ID
		}
		a.sendUpdate(kit.Update{
			Kind:   kit.UpdateMemberIn,
			Member: &kit.MemberEvent{ChatID: m.Chat.ID, Member: m.UserJoined.ID, Inviter: inviter},
		})
		return nil
	})

	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.UserLeft == nil {
			return nil
		}
		var inviter int64
		if m.Sender != nil && m.Sender.ID != m.UserLeft.ID {
			inviter = m.Sender.ID
		}
		a.sendUpdate(kit.Update{
			Kind:   kit.UpdateMemberOut,
			Member: &kit.MemberEvent{ChatID: m.Chat.ID, Member: m.UserLeft.ID, Inviter: inviter},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.stopped = make(chan struct{})
	stopped := a.stopped
	a.runMu.Unlock()

	// Stop telebot when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			a.bot.Stop()
		case <-stopped:
		}
	}()

	go func() {
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stopped := a.stopped
	a.stopped = nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if stopped != nil {
		close(stopped)
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
	}

	// Best-effort graceful stop; never block shutdown on the long-poll.
	done := make(chan struct{})
	go func() {
		a.bot.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

// joinKeyboard builds the announcement's Join/Leave inline keyboard.
func joinKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	join := rm.Data("🎉 Join", joinUnique)
	leave := rm.Data("Leave", leaveUnique)
	rm.Inline(rm.Row(join, leave))
	return rm
}

func (a *Adapter) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if opt.JoinKeyboard {
		sendOpt.ReplyMarkup = joinKeyboard()
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: int64(msg.ID)}, nil
}

func (a *Adapter) PostAnnouncement(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, to, text, opt)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.send(ctx, to, text, opt)
}

func (a *Adapter) EditAnnouncement(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: int(ref.MessageID), Chat: &tele.Chat{ID: ref.ChatID}}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if opt.JoinKeyboard {
		sendOpt.ReplyMarkup = joinKeyboard()
	}
	_, err := a.bot.Edit(m, text, sendOpt)
	return err
}

func (a *Adapter) DeleteAnnouncement(ctx context.Context, ref kit.MessageRef) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: int(ref.MessageID), Chat: &tele.Chat{ID: ref.ChatID}})
}

func (a *Adapter) AnswerCallback(ctx context.Context, ack string, text string, alert bool) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return a.bot.Respond(&tele.Callback{ID: ack}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

// MemberRoles resolves the roles a user holds in a chat: the membership
// status plus, for admins, any custom title.
func (a *Adapter) MemberRoles(ctx context.Context, chatID, userID int64) (map[string]bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return nil, err
	}
	roles := map[string]bool{string(cm.Role): true}
	if cm.Title != "" {
		roles[cm.Title] = true
	}
	return roles, nil
}
