// Package materialize produces and reads run artifact bundles.
//
// A run bundle is a directory backing one transition attempt:
//
//	<runs>/<run-id>/
//	  contract.json                      contract descriptor
//	  report.md                          human-readable report, carries the proposal hash
//	  approval.json                      approval record
//	  randomness.json                    randomness declaration
//	  validation/invariant_results.json  invariant check results
//	  SHA256SUMS.txt                     manifest of every other file
//
// DirMaterializer writes bundles; LoadBundle reads one back into an untrusted
// model.RunArtifact for the enforcement kernel. Materialization is the only
// I/O in an attempt: failures and context deadlines are returned as errors
// the caller classifies as system errors.
package materialize
