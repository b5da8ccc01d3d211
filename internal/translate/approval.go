package translate

import (
	"regexp"
	"strings"
)

// ApprovalDecision is the recovered outcome of an interactive tool result.
type ApprovalDecision string

const (
	ApprovalApproved     ApprovalDecision = "approved"
	ApprovalRejected     ApprovalDecision = "rejected"
	ApprovalUndetermined ApprovalDecision = "undetermined"
)

type ApprovalOutcome struct {
	Decision ApprovalDecision
	Feedback string
}

var feedbackPattern = regexp.MustCompile(`(?is)user feedback:\s*(.+)$`)

// ParseApprovalOutcome recovers structured approval state from the
// free-text result of an interactive tool. The upstream text is not a
// stable contract, so this is best-effort: text that matches neither shape
// yields ApprovalUndetermined rather than a guess.
func ParseApprovalOutcome(text string) ApprovalOutcome {
	lower := strings.ToLower(text)

	outcome := ApprovalOutcome{Decision: ApprovalUndetermined}
	switch {
	case strings.Contains(lower, "approved"):
		outcome.Decision = ApprovalApproved
	case strings.Contains(lower, "rejected"), strings.Contains(lower, "denied"):
		outcome.Decision = ApprovalRejected
	}

	if match := feedbackPattern.FindStringSubmatch(text); match != nil {
		outcome.Feedback = strings.TrimSpace(match[1])
	}
	return outcome
}
