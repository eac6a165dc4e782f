// Package giveaway runs the giveaway lifecycle: creation, entry intake,
// timed completion with randomized winner draws, and recovery after
// restarts.
//
// The manager's in-memory timer map is the only authority for "is a
// completion currently scheduled"; the store is the only authority for
// "does the giveaway still exist". Completion may be invoked more than
// once for the same id (live timer plus failsafe scan); the "row absent
// means no-op" check keeps the effect at most once.
package giveaway
