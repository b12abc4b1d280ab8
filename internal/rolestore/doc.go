// Package rolestore persists role records and delivers live changes.
//
// SQLiteStore keeps one row per user in role_records and notifies
// in-process subscribers after each write. RealtimeStore wraps a backend
// with an MQTT broadcast so every core instance sharing the broker sees a
// write: records are published retained on {prefix}/roles/{userID} and
// subscribers receive the current record as soon as they subscribe.
//
// Writes are last-write-wins upserts. Callbacks run on the goroutine that
// delivered the change (the writer or the MQTT client) and must not block.
package rolestore
