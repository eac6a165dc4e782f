package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a giveaway id has no row.
	ErrNotFound = errors.New("giveaway not found")
	// ErrDuplicateID is returned when creating a giveaway whose id already exists.
	// Ids come from the platform's own message creation, so this should not
	// happen in practice; it is fatal to the call, never to the process.
	ErrDuplicateID = errors.New("giveaway id already exists")
)

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Giveaway is one active giveaway. The id is the announcement message id,
// assigned by the platform and never reused.
type Giveaway struct {
	ID       int64
	ChatID   int64
	ThreadID int
	Prize    string
	Winners  int
	EndTime  int64 // unix seconds; set once at creation
	Host     int64
	Req      Requirements
}

// Requirements gates entry. Zero values mean "no restriction".
type Requirements struct {
	Role        string
	MinMessages int64
	MinInvites  int64
}

// None reports whether no restriction is configured.
func (r Requirements) None() bool {
	return r.Role == "" && r.MinMessages <= 0 && r.MinInvites <= 0
}

// RequirementsPatch updates only the fields that are set.
type RequirementsPatch struct {
	Role        *string
	MinMessages *int64
	MinInvites  *int64
}
