package lifecycle

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/roach88/claimgov/internal/model"
)

// detailIndent prefixes the per-stage lines under a denial.
const detailIndent = "        "

// Lines renders the result as run-report lines.
func (r Result) Lines() []string {
	switch r.Outcome {
	case model.OutcomeAllow:
		return []string{fmt.Sprintf("[OK] %s via %s (run %s)", r.Transition, r.EvidenceID, r.RunID)}

	case model.OutcomeSkip:
		return []string{fmt.Sprintf("[SKIP] %s %s", r.EvidenceID, firstReason(r.Decision))}

	case model.OutcomeReject:
		lines := []string{fmt.Sprintf("[REJECT] %s via %s: %s", r.Transition, r.EvidenceID, firstReason(r.Decision))}
		if len(r.Decision.Reasons) > 1 {
			lines = append(lines, detailIndent+"missing: "+strings.Join(r.Decision.Reasons[1:], ", "))
		}
		return lines

	case model.OutcomeDeny:
		lines := []string{fmt.Sprintf("[DENY] %s via %s (attempt %d)", r.Transition, r.EvidenceID, r.Attempt)}
		prefix := string(r.Decision.FailedStage) + ": "
		for _, reason := range r.Decision.Reasons {
			if strings.HasPrefix(reason, prefix) {
				lines = append(lines, detailIndent+reason)
			}
		}
		return lines

	default:
		return []string{fmt.Sprintf("[ERROR] %s (attempt %d): %v", r.EvidenceID, r.Attempt, r.Err)}
	}
}

func firstReason(d model.Decision) string {
	if len(d.Reasons) == 0 {
		return ""
	}
	return d.Reasons[0]
}

// WriteReport prints every result followed by the final state of each claim.
func WriteReport(w io.Writer, s Summary) error {
	for _, r := range s.Results {
		for _, line := range r.Lines() {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}

	ids := make([]string, 0, len(s.Claims))
	for id := range s.Claims {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := s.Claims[id]
		if _, err := fmt.Fprintf(w, "\nFinal claim state: %s %s (version %d)\n", id, c.State, c.Version); err != nil {
			return err
		}
	}
	return nil
}
