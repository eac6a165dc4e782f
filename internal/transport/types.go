package transport

import "context"

type UpdateKind string

const (
	UpdateMessage   UpdateKind = "message"
	UpdateJoin      UpdateKind = "join"
	UpdateLeave     UpdateKind = "leave"
	UpdateMemberIn  UpdateKind = "member_in"
	UpdateMemberOut UpdateKind = "member_out"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Entry   *EntryEvent
	Member  *MemberEvent
}

type Message struct {
	ID           int64
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// EntryEvent is a join/leave button press on a giveaway announcement.
// Ack is the platform acknowledgement token; answering it is the only
// way to surface an ineligibility verdict back to the participant.
type EntryEvent struct {
	Giveaway    int64 // announcement message id
	ChatID      int64
	ThreadID    int
	Participant int64
	Ack         string
}

// MemberEvent reports a membership change. Inviter is the user who added
// the member (0 when the member joined on their own).
type MemberEvent struct {
	ChatID  int64
	Member  int64
	Inviter int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// JoinKeyboard attaches the Join/Leave inline keyboard (announcements only).
	JoinKeyboard bool
}

// Adapter is the chat-platform capability surface the engine consumes.
// Announcement edits/deletes and callback answers are best-effort for
// callers: the giveaway engine logs and swallows their failures.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	PostAnnouncement(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditAnnouncement(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteAnnouncement(ctx context.Context, ref MessageRef) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)

	// AnswerCallback acknowledges an EntryEvent. With alert set the text is
	// shown as a popup; this is how an ineligible join is visibly revoked.
	AnswerCallback(ctx context.Context, ack string, text string, alert bool) error

	// MemberRoles resolves the membership roles a user holds in a chat
	// ("creator", "administrator", "member", plus any custom admin title).
	MemberRoles(ctx context.Context, chatID, userID int64) (map[string]bool, error)
}
