// Package storage is the durable record of giveaways, their entries,
// the per-chat manager-role bindings, and the activity counters the
// eligibility checks read.
//
// Row presence is the status: a giveaway row exists while the giveaway
// is running and is deleted when it concludes. Every mutation is
// individually idempotent so the completion path can be re-entered.
package storage
