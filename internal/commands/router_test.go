package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gwybot/internal/activity"
	"gwybot/internal/giveaway"
	"gwybot/internal/storage"
	"gwybot/internal/transport"
	logx "gwybot/pkg/logx"
)

type fakeStore struct {
	mu       sync.Mutex
	invites  map[[2]int64]int64
	messages map[[2]int64]int64
	roles    map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		invites:  make(map[[2]int64]int64),
		messages: make(map[[2]int64]int64),
		roles:    make(map[int64]string),
	}
}

func (s *fakeStore) CreateGiveaway(ctx context.Context, g storage.Giveaway) error { return nil }
func (s *fakeStore) Giveaway(ctx context.Context, id int64) (storage.Giveaway, error) {
	return storage.Giveaway{}, storage.ErrNotFound
}
func (s *fakeStore) Giveaways(ctx context.Context) ([]storage.Giveaway, error) { return nil, nil }
func (s *fakeStore) DeleteGiveaway(ctx context.Context, id int64) error        { return nil }
func (s *fakeStore) UpdateRequirements(ctx context.Context, id int64, p storage.RequirementsPatch) error {
	return storage.ErrNotFound
}
func (s *fakeStore) AddEntry(ctx context.Context, id, participant int64) error    { return nil }
func (s *fakeStore) RemoveEntry(ctx context.Context, id, participant int64) error { return nil }
func (s *fakeStore) Entries(ctx context.Context, id int64) ([]int64, error)       { return nil, nil }

func (s *fakeStore) SetManagerRole(ctx context.Context, chatID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == "" {
		delete(s.roles, chatID)
	} else {
		s.roles[chatID] = role
	}
	return nil
}

func (s *fakeStore) ManagerRole(ctx context.Context, chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[chatID], nil
}

func (s *fakeStore) IncrMessageCount(ctx context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[[2]int64{chatID, userID}]++
	return nil
}

func (s *fakeStore) MessageCount(ctx context.Context, chatID, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[[2]int64{chatID, userID}], nil
}

func (s *fakeStore) AddInvite(ctx context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[[2]int64{chatID, userID}]++
	return nil
}

func (s *fakeStore) RemoveInvite(ctx context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int64{chatID, userID}
	if s.invites[k] > 0 {
		s.invites[k]--
	}
	return nil
}

func (s *fakeStore) InviteCount(ctx context.Context, chatID, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites[[2]int64{chatID, userID}], nil
}

func (s *fakeStore) Close() error { return nil }

type fakePlatform struct {
	mu    sync.Mutex
	sends []string
	roles map[int64]map[string]bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{roles: make(map[int64]map[string]bool)}
}

func (p *fakePlatform) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (p *fakePlatform) Stop(ctx context.Context) error                               { return nil }

func (p *fakePlatform) PostAnnouncement(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (p *fakePlatform) EditAnnouncement(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	return nil
}

func (p *fakePlatform) DeleteAnnouncement(ctx context.Context, ref transport.MessageRef) error {
	return nil
}

func (p *fakePlatform) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: int64(len(p.sends))}, nil
}

func (p *fakePlatform) AnswerCallback(ctx context.Context, ack, text string, alert bool) error {
	return nil
}

func (p *fakePlatform) MemberRoles(ctx context.Context, chatID, userID int64) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.roles[userID]; ok {
		return r, nil
	}
	return map[string]bool{"member": true}, nil
}

func (p *fakePlatform) lastSend(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sends) == 0 {
		t.Fatal("no reply sent")
	}
	return p.sends[len(p.sends)-1]
}

func newTestRouter(st *fakeStore, pf *fakePlatform) *Router {
	mgr := giveaway.New(giveaway.Config{FailsafeInterval: time.Hour}, st, pf, st, logx.Nop())
	tr := activity.New(st, logx.Nop())
	return New(mgr, st, tr, pf, logx.Nop())
}

func groupMsg(from int64, text string) transport.Message {
	return transport.Message{ChatID: -100, FromID: from, Text: text, IsGroup: true}
}

func TestInvitesCommandOwnCount(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	r := newTestRouter(st, pf)

	st.invites[[2]int64{-100, 42}] = 3

	r.handleMessage(context.Background(), groupMsg(42, "/ginvites"))
	if got := pf.lastSend(t); !strings.Contains(got, "You have invited 3") {
		t.Fatalf("reply = %q, want the sender's invite count", got)
	}
}

func TestInvitesCommandOtherMember(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	r := newTestRouter(st, pf)

	st.invites[[2]int64{-100, 777}] = 5

	r.handleMessage(context.Background(), groupMsg(42, "/ginvites 777"))
	got := pf.lastSend(t)
	if !strings.Contains(got, "has invited 5") || !strings.Contains(got, "777") {
		t.Fatalf("reply = %q, want member 777's invite count", got)
	}

	r.handleMessage(context.Background(), groupMsg(42, "/ginvites nope"))
	if got := pf.lastSend(t); !strings.Contains(got, "Usage") {
		t.Fatalf("reply = %q, want usage hint for a bad id", got)
	}
}
