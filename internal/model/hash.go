package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainLogEntry = "claimgov/log-entry/v1"
	DomainProposal = "claimgov/proposal/v1"
)

// GenesisHash is the PrevHash of the first entry in a log.
var GenesisHash = strings.Repeat("0", 64)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryHash computes the content hash of a log entry. Hash itself is
// excluded; PrevHash and Seq are included so an entry cannot be moved.
func EntryHash(e LogEntry) (string, error) {
	canonical, err := MarshalCanonical(e.canonicalMap())
	if err != nil {
		return "", fmt.Errorf("EntryHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainLogEntry, canonical), nil
}

// ProposalHash computes the identity of a transition proposal. Two
// submissions of the same evidence for the same move share a proposal hash;
// approvals are deliberately excluded so a corrected resubmission keeps it.
func ProposalHash(claimID, evidenceID string, t Transition) string {
	obj := map[string]any{
		"type":        "claim_transition",
		"claim_id":    claimID,
		"evidence_id": evidenceID,
		"from":        t.From,
		"to":          t.To,
	}
	// Only strings in obj; MarshalCanonical cannot fail.
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		panic(err)
	}
	return hashWithDomain(DomainProposal, canonical)
}
