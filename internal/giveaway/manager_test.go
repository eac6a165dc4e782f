package giveaway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gwybot/internal/storage"
	"gwybot/internal/transport"
	logx "gwybot/pkg/logx"
)

// ---- fakes ----

type fakeStore struct {
	mu        sync.Mutex
	giveaways map[int64]storage.Giveaway
	entries   map[int64][]int64
	roles     map[int64]string
	messages  map[[2]int64]int64
	invites   map[[2]int64]int64

	deleteErr error // injected DeleteGiveaway failure
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		giveaways: map[int64]storage.Giveaway{},
		entries:   map[int64][]int64{},
		roles:     map[int64]string{},
		messages:  map[[2]int64]int64{},
		invites:   map[[2]int64]int64{},
	}
}

func (s *fakeStore) CreateGiveaway(_ context.Context, g storage.Giveaway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.giveaways[g.ID]; ok {
		return storage.ErrDuplicateID
	}
	s.giveaways[g.ID] = g
	return nil
}

func (s *fakeStore) Giveaway(_ context.Context, id int64) (storage.Giveaway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[id]
	if !ok {
		return storage.Giveaway{}, storage.ErrNotFound
	}
	return g, nil
}

func (s *fakeStore) Giveaways(_ context.Context) ([]storage.Giveaway, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Giveaway, 0, len(s.giveaways))
	for _, g := range s.giveaways {
		out = append(out, g)
	}
	return out, nil
}

func (s *fakeStore) DeleteGiveaway(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.giveaways, id)
	delete(s.entries, id)
	return nil
}

func (s *fakeStore) UpdateRequirements(_ context.Context, id int64, p storage.RequirementsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.giveaways[id]
	if !ok {
		return storage.ErrNotFound
	}
	if p.Role != nil {
		g.Req.Role = *p.Role
	}
	if p.MinMessages != nil {
		g.Req.MinMessages = *p.MinMessages
	}
	if p.MinInvites != nil {
		g.Req.MinInvites = *p.MinInvites
	}
	s.giveaways[id] = g
	return nil
}

func (s *fakeStore) AddEntry(_ context.Context, id, participant int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.entries[id] {
		if u == participant {
			return nil
		}
	}
	s.entries[id] = append(s.entries[id], participant)
	return nil
}

func (s *fakeStore) RemoveEntry(_ context.Context, id, participant int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	es := s.entries[id]
	for i, u := range es {
		if u == participant {
			s.entries[id] = append(es[:i], es[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) Entries(_ context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.entries[id]...), nil
}

func (s *fakeStore) SetManagerRole(_ context.Context, chatID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == "" {
		delete(s.roles, chatID)
	} else {
		s.roles[chatID] = role
	}
	return nil
}

func (s *fakeStore) ManagerRole(_ context.Context, chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[chatID], nil
}

func (s *fakeStore) IncrMessageCount(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[[2]int64{chatID, userID}]++
	return nil
}

func (s *fakeStore) MessageCount(_ context.Context, chatID, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[[2]int64{chatID, userID}], nil
}

func (s *fakeStore) AddInvite(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[[2]int64{chatID, userID}]++
	return nil
}

func (s *fakeStore) RemoveInvite(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int64{chatID, userID}
	if s.invites[k] > 0 {
		s.invites[k]--
	}
	return nil
}

func (s *fakeStore) InviteCount(_ context.Context, chatID, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites[[2]int64{chatID, userID}], nil
}

func (s *fakeStore) Close() error { return nil }

type answerRec struct {
	ack   string
	text  string
	alert bool
}

type fakePlatform struct {
	mu        sync.Mutex
	nextMsgID int64
	posts     []string
	edits     []string
	sends     []string
	deletes   []transport.MessageRef
	answers   []answerRec
	roles     map[int64]map[string]bool // by user id

	postErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{nextMsgID: 1000, roles: map[int64]map[string]bool{}}
}

func (p *fakePlatform) Start(context.Context, chan<- transport.Update) error { return nil }
func (p *fakePlatform) Stop(context.Context) error                           { return nil }

func (p *fakePlatform) PostAnnouncement(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.postErr != nil {
		return transport.MessageRef{}, p.postErr
	}
	p.nextMsgID++
	p.posts = append(p.posts, text)
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: p.nextMsgID}, nil
}

func (p *fakePlatform) EditAnnouncement(_ context.Context, _ transport.MessageRef, text string, _ *transport.SendOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, text)
	return nil
}

func (p *fakePlatform) DeleteAnnouncement(_ context.Context, ref transport.MessageRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, ref)
	return nil
}

func (p *fakePlatform) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextMsgID++
	p.sends = append(p.sends, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: p.nextMsgID}, nil
}

func (p *fakePlatform) AnswerCallback(_ context.Context, ack, text string, alert bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, answerRec{ack: ack, text: text, alert: alert})
	return nil
}

func (p *fakePlatform) MemberRoles(_ context.Context, _, userID int64) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.roles[userID]
	if r == nil {
		r = map[string]bool{"member": true}
	}
	return r, nil
}

func (p *fakePlatform) counts() (posts, edits, sends, deletes, answers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts), len(p.edits), len(p.sends), len(p.deletes), len(p.answers)
}

func (p *fakePlatform) lastAnswer(t *testing.T) answerRec {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.answers) == 0 {
		t.Fatal("no callback answers recorded")
	}
	return p.answers[len(p.answers)-1]
}

func newTestManager(st *fakeStore, pf *fakePlatform) *Manager {
	return New(Config{FailsafeInterval: time.Hour}, st, pf, st, logx.Nop())
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func seed(st *fakeStore, id int64, winners int, endIn time.Duration) storage.Giveaway {
	g := storage.Giveaway{
		ID:      id,
		ChatID:  -100,
		Prize:   "Nitro",
		Winners: winners,
		EndTime: time.Now().Add(endIn).Unix(),
		Host:    7,
	}
	st.giveaways[id] = g
	return g
}

// ---- tests ----

func TestCreatePersistsAndCompletes(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	g, err := m.Create(ctx, CreateParams{
		Location: transport.ChatTarget{ChatID: -100},
		Prize:    "Nitro",
		Winners:  1,
		Duration: 30 * time.Millisecond,
		Host:     7,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.ID == 0 {
		t.Fatal("giveaway id not taken from the announcement message")
	}
	if _, err := st.Giveaway(ctx, g.ID); err != nil {
		t.Fatalf("giveaway not persisted: %v", err)
	}

	if err := st.AddEntry(ctx, g.ID, 501); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	// The timer concludes it without EndNow being called.
	waitFor(t, func() bool {
		_, err := st.Giveaway(ctx, g.ID)
		return errors.Is(err, storage.ErrNotFound)
	}, "timer completion")

	_, edits, sends, _, _ := pf.counts()
	if edits != 1 {
		t.Fatalf("edits = %d, want 1", edits)
	}
	if sends != 1 {
		t.Fatalf("winner announcements = %d, want 1", sends)
	}
}

func TestCreateAnnouncementFailure(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	pf.postErr = fmt.Errorf("telegram: 403")
	m := newTestManager(st, pf)

	_, err := m.Create(context.Background(), CreateParams{
		Location: transport.ChatTarget{ChatID: -100},
		Prize:    "Nitro",
		Winners:  1,
		Duration: time.Hour,
	})
	if !errors.Is(err, ErrAnnouncementFailed) {
		t.Fatalf("err = %v, want ErrAnnouncementFailed", err)
	}
	if len(st.giveaways) != 0 {
		t.Fatal("giveaway persisted despite failed announcement")
	}
}

func TestCompleteIdempotent(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 1, 1, time.Hour)
	st.entries[1] = []int64{11, 22}

	if err := m.Complete(ctx, 1); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if err := m.Complete(ctx, 1); err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	_, edits, sends, _, _ := pf.counts()
	if edits != 1 || sends != 1 {
		t.Fatalf("edits=%d sends=%d, want exactly one announcement each", edits, sends)
	}
}

func TestCompleteNoEntries(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)

	seed(st, 2, 3, time.Hour)
	if err := m.Complete(context.Background(), 2); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(pf.edits) != 1 || !strings.Contains(pf.edits[0], "No valid entries") {
		t.Fatalf("edit = %q, want a no-entries notice", pf.edits)
	}
	if len(pf.sends) != 0 {
		t.Fatal("winner announcement sent with no entries")
	}
}

func TestCompleteRetriesOnStoreFailure(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 3, 1, time.Hour)
	st.deleteErr = fmt.Errorf("disk full")

	if err := m.Complete(ctx, 3); err == nil {
		t.Fatal("Complete should surface the store failure so the failsafe retries")
	}
	if _, err := st.Giveaway(ctx, 3); err != nil {
		t.Fatal("row must survive a failed completion")
	}

	st.mu.Lock()
	st.deleteErr = nil
	st.mu.Unlock()
	if err := m.Complete(ctx, 3); err != nil {
		t.Fatalf("retry Complete: %v", err)
	}
	if _, err := st.Giveaway(ctx, 3); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("row must be gone after the successful retry")
	}
}

func TestAcceptEntryUnknownGiveaway(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)

	err := m.AcceptEntry(context.Background(), transport.EntryEvent{Giveaway: 404, Participant: 1, Ack: "cb1"})
	if err != nil {
		t.Fatalf("AcceptEntry: %v", err)
	}
	a := pf.lastAnswer(t)
	if a.alert {
		t.Fatal("stale announcement press must get a neutral answer, not an alert")
	}
	if len(st.entries[404]) != 0 {
		t.Fatal("entry recorded for an absent giveaway")
	}
}

func TestAcceptEntryEligibilityGate(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	g := seed(st, 10, 1, time.Hour)
	g.Req = storage.Requirements{MinMessages: 10}
	st.giveaways[10] = g

	st.messages[[2]int64{-100, 501}] = 5
	st.messages[[2]int64{-100, 502}] = 10

	if err := m.AcceptEntry(ctx, transport.EntryEvent{Giveaway: 10, Participant: 501, Ack: "cb-501"}); err != nil {
		t.Fatalf("AcceptEntry(501): %v", err)
	}
	a := pf.lastAnswer(t)
	if !a.alert || !strings.Contains(a.text, "10") {
		t.Fatalf("ineligible join must be revoked with an alert naming the threshold, got %+v", a)
	}
	if len(st.entries[10]) != 0 {
		t.Fatal("ineligible participant entered")
	}

	if err := m.AcceptEntry(ctx, transport.EntryEvent{Giveaway: 10, Participant: 502, Ack: "cb-502"}); err != nil {
		t.Fatalf("AcceptEntry(502): %v", err)
	}
	if a := pf.lastAnswer(t); a.alert {
		t.Fatalf("eligible join answered with an alert: %+v", a)
	}
	es, _ := st.Entries(ctx, 10)
	if len(es) != 1 || es[0] != 502 {
		t.Fatalf("entries = %v, want [502]", es)
	}
}

func TestAcceptEntryRoleRequirement(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	g := seed(st, 11, 1, time.Hour)
	g.Req = storage.Requirements{Role: "vip"}
	st.giveaways[11] = g
	pf.roles[600] = map[string]bool{"member": true, "vip": true}

	if err := m.AcceptEntry(ctx, transport.EntryEvent{Giveaway: 11, Participant: 600, Ack: "a"}); err != nil {
		t.Fatalf("AcceptEntry(vip): %v", err)
	}
	if err := m.AcceptEntry(ctx, transport.EntryEvent{Giveaway: 11, Participant: 601, Ack: "b"}); err != nil {
		t.Fatalf("AcceptEntry(non-vip): %v", err)
	}
	es, _ := st.Entries(ctx, 11)
	if len(es) != 1 || es[0] != 600 {
		t.Fatalf("entries = %v, want only the vip holder", es)
	}
	if a := pf.lastAnswer(t); !a.alert || !strings.Contains(a.text, "vip") {
		t.Fatalf("role refusal answer = %+v", a)
	}
}

func TestWithdrawEntry(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 20, 1, time.Hour)
	st.entries[20] = []int64{700}

	if err := m.WithdrawEntry(ctx, transport.EntryEvent{Giveaway: 20, Participant: 700, Ack: "w"}); err != nil {
		t.Fatalf("WithdrawEntry: %v", err)
	}
	if len(st.entries[20]) != 0 {
		t.Fatal("entry not removed")
	}
	// Withdrawing again stays silent about the absence.
	if err := m.WithdrawEntry(ctx, transport.EntryEvent{Giveaway: 20, Participant: 700, Ack: "w2"}); err != nil {
		t.Fatalf("second WithdrawEntry: %v", err)
	}
}

func TestEndNow(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 30, 1, time.Hour)
	st.entries[30] = []int64{1}

	if err := m.EndNow(ctx, 30); err != nil {
		t.Fatalf("EndNow: %v", err)
	}
	if _, err := st.Giveaway(ctx, 30); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("giveaway still running after EndNow")
	}
	if err := m.EndNow(ctx, 30); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second EndNow err = %v, want ErrNotFound", err)
	}
}

func TestReroll(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	if _, err := m.Reroll(ctx, 404); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Reroll(404) err = %v, want ErrNotFound", err)
	}

	seed(st, 40, 2, time.Hour)
	if _, err := m.Reroll(ctx, 40); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("Reroll with no entries err = %v, want ErrNoEntries", err)
	}

	st.entries[40] = []int64{1, 2, 3, 4}
	winners, err := m.Reroll(ctx, 40)
	if err != nil {
		t.Fatalf("Reroll: %v", err)
	}
	if len(winners) != 2 {
		t.Fatalf("winners = %v, want 2", winners)
	}
	// The record is untouched; rerolling is repeatable until completion.
	if _, err := st.Giveaway(ctx, 40); err != nil {
		t.Fatalf("record gone after reroll: %v", err)
	}
	_, _, sends, _, _ := pf.counts()
	if sends != 1 {
		t.Fatalf("reroll announcements = %d, want 1", sends)
	}
}

func TestDelete(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	g := seed(st, 50, 1, time.Hour)
	st.entries[50] = []int64{9}

	if err := m.Delete(ctx, 50); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Giveaway(ctx, 50); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("record survived Delete")
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(pf.deletes) != 1 || pf.deletes[0].MessageID != g.ID {
		t.Fatalf("announcement deletes = %+v, want the giveaway's announcement", pf.deletes)
	}
	if len(pf.edits) != 0 || len(pf.sends) != 0 {
		t.Fatal("Delete must not draw or announce winners")
	}
}

func TestLoadGiveawaysRestoresTimers(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 60, 1, -10*time.Second) // already expired, as after a crash
	seed(st, 61, 1, time.Hour)

	if err := m.LoadGiveaways(ctx); err != nil {
		t.Fatalf("LoadGiveaways: %v", err)
	}

	waitFor(t, func() bool {
		_, err := st.Giveaway(ctx, 60)
		return errors.Is(err, storage.ErrNotFound)
	}, "expired giveaway completion")

	if _, err := st.Giveaway(ctx, 61); err != nil {
		t.Fatal("future giveaway must stay running")
	}
	m.mu.Lock()
	_, live := m.timers[61]
	m.mu.Unlock()
	if !live {
		t.Fatal("future giveaway has no restored timer")
	}
}

func TestFailsafeScanCompletesExpired(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 70, 1, -time.Minute)
	seed(st, 71, 1, time.Hour)
	m.schedule(71, time.Hour)

	m.failsafeScan()

	if _, err := st.Giveaway(ctx, 70); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("expired giveaway not completed by the failsafe")
	}
	if _, err := st.Giveaway(ctx, 71); err != nil {
		t.Fatal("failsafe touched a giveaway that is not due")
	}
}

func TestFailsafeRetriesAfterTimerFailure(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 75, 1, -time.Minute)
	st.deleteErr = fmt.Errorf("disk full")

	m.schedule(75, 0)

	// The fired timer's completion fails at the delete; its spent handle
	// must not linger and shadow the id from the failsafe.
	waitFor(t, func() bool {
		m.mu.Lock()
		_, live := m.timers[75]
		m.mu.Unlock()
		return !live
	}, "spent timer handle removal")

	if _, err := st.Giveaway(ctx, 75); err != nil {
		t.Fatal("row must survive the failed completion")
	}

	st.mu.Lock()
	st.deleteErr = nil
	st.mu.Unlock()
	m.failsafeScan()

	if _, err := st.Giveaway(ctx, 75); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("failsafe did not retry a giveaway whose timer completion failed")
	}
}

func TestFailsafeSkipsLiveTimer(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)

	// Expired but a timer is pending; the scan must leave it to the timer.
	seed(st, 80, 1, -time.Minute)
	m.schedule(80, time.Hour)

	m.failsafeScan()

	if _, err := st.Giveaway(context.Background(), 80); err != nil {
		t.Fatal("failsafe raced a live timer")
	}
	m.cancelTimer(80)
}

func TestScheduleReplacesStaleTimer(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)

	seed(st, 90, 1, time.Hour)
	m.schedule(90, 10*time.Millisecond)
	m.schedule(90, time.Hour) // re-arm before the first fires

	time.Sleep(50 * time.Millisecond)
	if _, err := st.Giveaway(context.Background(), 90); err != nil {
		t.Fatal("stale timer callback completed a re-armed giveaway")
	}
	m.cancelTimer(90)
}

func TestEntryCountAndList(t *testing.T) {
	st := newFakeStore()
	pf := newFakePlatform()
	m := newTestManager(st, pf)
	ctx := context.Background()

	seed(st, 100, 1, time.Hour)
	st.entries[100] = []int64{1, 2, 3}

	n, err := m.EntryCount(ctx, 100)
	if err != nil || n != 3 {
		t.Fatalf("EntryCount = (%d, %v), want 3", n, err)
	}

	all, err := m.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning: %v", err)
	}
	ids := make([]int64, 0, len(all))
	for _, g := range all {
		ids = append(ids, g.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 1 || ids[0] != 100 {
		t.Fatalf("ListRunning ids = %v, want [100]", ids)
	}
}
