// Package model provides the typed records governed by claimgov.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal. This keeps
// the schema layer at the bottom of the dependency graph.
//
// Key design constraints:
//   - Claim state is never edited in place; it is derived by folding allow
//     entries of the transition log in seq order (see Fold)
//   - Log entries are content-hashed with RFC 8785 canonical JSON and chained
//     through PrevHash
//   - All JSON/YAML tags use snake_case
//   - Ordering uses the log's seq, never wall-clock timestamps
package model
