// Package kernel implements the enforcement kernel: the staged, fail-fast
// decision boundary every accepted transition passes through before commit.
//
// Stages run in a fixed order:
//
//	structural -> authority -> integrity -> policy
//
// The first failing stage halts evaluation and the decision records its id
// and reasons. All stages passing yields an allow decision.
//
// Stages are pure with respect to kernel state: they read the submission,
// the run artifact and the artifact's files, never write, and share nothing
// mutable except the policy stage's concurrency-safe program cache. A
// decision, once started, always runs to a definite allow or deny.
package kernel
