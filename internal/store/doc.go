// Package store provides durable, append-only transition logs.
//
// Every attempt to move a claim produces exactly one LogEntry. Entries are
// never updated or deleted, and each one is hash-chained to its predecessor
// so edits made outside the log are detectable (see VerifyChain).
//
// # Backends
//
//   - SQLiteLog: default. WAL mode, single writer, append-only triggers.
//   - PostgresLog: same table, $n placeholders, advisory-locked appends.
//   - FileLog: JSON Lines, one entry per line, fsync on append.
//   - MemoryLog: tests and the scenario harness.
//
// # Ordering
//
// Seq is a logical clock assigned at append. It is strictly increasing
// across the whole log and is the only ordering key; wall-clock timestamps
// in decisions are informational. All reads return entries ORDER BY seq ASC.
//
// Claim state is never stored. It is derived by folding allow entries
// (LatestState, Replay).
package store
