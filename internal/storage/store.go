package storage

import "context"

// Store is the persistence API used by the giveaway engine and the
// activity trackers.
//
// Deletes and removals of absent rows are no-ops, duplicate entry
// inserts are no-ops; this is what keeps the completion routine safe
// to invoke more than once.
type Store interface {
	// Giveaways.
	CreateGiveaway(ctx context.Context, g Giveaway) error
	Giveaway(ctx context.Context, id int64) (Giveaway, error)
	Giveaways(ctx context.Context) ([]Giveaway, error)
	DeleteGiveaway(ctx context.Context, id int64) error
	UpdateRequirements(ctx context.Context, id int64, p RequirementsPatch) error

	// Entries.
	AddEntry(ctx context.Context, id, participant int64) error
	RemoveEntry(ctx context.Context, id, participant int64) error
	Entries(ctx context.Context, id int64) ([]int64, error)

	// Manager role bindings.
	SetManagerRole(ctx context.Context, chatID int64, role string) error
	ManagerRole(ctx context.Context, chatID int64) (string, error)

	// Activity counters.
	IncrMessageCount(ctx context.Context, chatID, userID int64) error
	MessageCount(ctx context.Context, chatID, userID int64) (int64, error)
	AddInvite(ctx context.Context, chatID, userID int64) error
	RemoveInvite(ctx context.Context, chatID, userID int64) error
	InviteCount(ctx context.Context, chatID, userID int64) (int64, error)

	Close() error
}
