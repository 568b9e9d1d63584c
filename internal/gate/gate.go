// Package gate is the only writer of claim state.
//
// A Gate holds a projection of every claim derived from the transition log.
// Commit appends one entry per attempt and, for allow decisions, advances the
// projection. The log append is the commit point: the projection changes
// only after the append succeeds, and Recover rebuilds it from the log.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/store"
)

var (
	// ErrStaleVersion is returned when a draft was prepared against a claim
	// version that is no longer current. Nothing is appended.
	ErrStaleVersion = errors.New("stale claim version")

	// ErrInvalidDraft is returned for drafts whose outcome and decision
	// disagree, or whose allow transition does not start at the claim's state.
	ErrInvalidDraft = errors.New("invalid draft")
)

// Draft is the gate's input for one attempt.
type Draft struct {
	EvidenceID   string
	Transition   model.Transition
	Outcome      model.Outcome
	Decision     model.Decision
	RunID        string
	ProposalHash string
}

// Gate serializes commits per claim.
//
// Thread-safety: All methods are safe for concurrent use. Commits to
// different claims proceed in parallel; commits to one claim are serialized.
type Gate struct {
	log    store.Log
	logger *slog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	claims map[string]model.Claim
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New creates a gate over log with an empty projection. Call Recover to
// load existing history.
func New(log store.Log, opts ...Option) *Gate {
	g := &Gate{
		log:    log,
		logger: slog.Default(),
		locks:  map[string]*sync.Mutex{},
		claims: map[string]model.Claim{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Log returns the underlying transition log.
func (g *Gate) Log() store.Log { return g.log }

// Recover replaces the projection with the state derived from the log.
// The log's hash chain is verified first; a broken chain is an error and
// leaves the projection untouched.
func (g *Gate) Recover(ctx context.Context) error {
	snap, err := store.Replay(ctx, g.log)
	if err != nil {
		return fmt.Errorf("recover projection: %w", err)
	}

	g.mu.Lock()
	g.claims = snap.Claims
	g.mu.Unlock()

	g.logger.Info("projection recovered",
		"claims", len(snap.Claims),
		"entries", snap.Entries,
		"head_seq", snap.HeadSeq,
	)
	return nil
}

// Claim returns the current projection of id. Unknown claims are in their
// initial state.
func (g *Gate) Claim(id string) model.Claim {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.claims[id]; ok {
		return c
	}
	return model.NewClaim(id)
}

// Claims returns every claim in the projection, ordered by id. After Recover
// that is every claim with a log entry; deny-only claims sit at version 0.
// Afterwards claims are added by their first allow.
func (g *Gate) Claims() []model.Claim {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Claim, 0, len(g.claims))
	for _, c := range g.claims {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Claim) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// NextAttempt returns the attempt number the next submission of evidenceID
// against claimID would receive: prior entries for the pair plus one. The
// number is provisional; Commit assigns the logged attempt under the claim's
// lock.
func (g *Gate) NextAttempt(ctx context.Context, claimID, evidenceID string) (int, error) {
	return g.nextAttempt(ctx, claimID, evidenceID)
}

func (g *Gate) nextAttempt(ctx context.Context, claimID, evidenceID string) (int, error) {
	entries, err := g.log.ReadAll(ctx, claimID)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	n := 1
	for _, e := range entries {
		if e.EvidenceID == evidenceID {
			n++
		}
	}
	return n, nil
}

func (g *Gate) claimLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

// Commit records one attempt for claimID.
//
// expectedVersion is the claim version the draft was evaluated against. If
// the claim has moved since, ErrStaleVersion is returned and nothing is
// appended. Otherwise exactly one entry is appended, numbered as the next
// attempt for (claimID, d.EvidenceID). On allow the claim moves to the
// draft's target state and its version increments; on any other outcome the
// claim is returned unchanged.
func (g *Gate) Commit(ctx context.Context, claimID string, expectedVersion int64, d Draft) (model.Claim, model.LogEntry, error) {
	lock := g.claimLock(claimID)
	lock.Lock()
	defer lock.Unlock()

	cur := g.Claim(claimID)
	if cur.Version != expectedVersion {
		return cur, model.LogEntry{}, fmt.Errorf("commit %s: %w: at version %d, draft expects %d",
			claimID, ErrStaleVersion, cur.Version, expectedVersion)
	}
	if err := validateDraft(cur, d); err != nil {
		return cur, model.LogEntry{}, fmt.Errorf("commit %s: %w", claimID, err)
	}

	attempt, err := g.nextAttempt(ctx, claimID, d.EvidenceID)
	if err != nil {
		return cur, model.LogEntry{}, fmt.Errorf("commit %s: %w", claimID, err)
	}

	next := cur
	if d.Decision.Allow {
		next.State = d.Transition.To
		next.Version++
	}

	entry, err := g.log.Append(ctx, model.LogEntry{
		ClaimID:      claimID,
		EvidenceID:   d.EvidenceID,
		From:         d.Transition.From,
		To:           d.Transition.To,
		Outcome:      d.Outcome,
		Decision:     d.Decision,
		Attempt:      attempt,
		RunID:        d.RunID,
		ProposalHash: d.ProposalHash,
		ClaimVersion: next.Version,
	})
	if err != nil {
		return cur, model.LogEntry{}, fmt.Errorf("commit %s: %w", claimID, err)
	}

	if d.Decision.Allow {
		g.mu.Lock()
		g.claims[claimID] = next
		g.mu.Unlock()
	}

	g.logger.Debug("attempt committed",
		"claim_id", claimID,
		"evidence_id", d.EvidenceID,
		"seq", entry.Seq,
		"attempt", entry.Attempt,
		"outcome", d.Outcome,
		"state", next.State,
		"version", next.Version,
	)
	return next, entry, nil
}

func validateDraft(cur model.Claim, d Draft) error {
	if d.Decision.Allow != (d.Outcome == model.OutcomeAllow) {
		return fmt.Errorf("%w: outcome %s with allow=%t", ErrInvalidDraft, d.Outcome, d.Decision.Allow)
	}
	if d.Outcome == model.OutcomeSystemError {
		return fmt.Errorf("%w: system errors are not logged", ErrInvalidDraft)
	}
	if d.Decision.Allow && d.Transition.From != cur.State {
		return fmt.Errorf("%w: allow from %s but claim is %s", ErrInvalidDraft, d.Transition.From, cur.State)
	}
	if d.Decision.Allow && !d.Transition.To.Valid() {
		return fmt.Errorf("%w: unknown target state %q", ErrInvalidDraft, d.Transition.To)
	}
	return nil
}
