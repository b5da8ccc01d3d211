package translate

import "testing"

func TestParseApprovalOutcome(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		decision ApprovalDecision
		feedback string
	}{
		{
			name:     "approved",
			text:     "User has approved your plan. You can now start coding.",
			decision: ApprovalApproved,
		},
		{
			name:     "rejected with feedback",
			text:     "The user rejected the plan. User feedback: split it into phases",
			decision: ApprovalRejected,
			feedback: "split it into phases",
		},
		{
			name:     "denied wording",
			text:     "Request denied by the user.",
			decision: ApprovalRejected,
		},
		{
			name:     "case insensitive",
			text:     "APPROVED",
			decision: ApprovalApproved,
		},
		{
			name:     "unknown text stays undetermined",
			text:     "the user answered: option B",
			decision: ApprovalUndetermined,
		},
		{
			name:     "empty",
			text:     "",
			decision: ApprovalUndetermined,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := ParseApprovalOutcome(tc.text)
			if outcome.Decision != tc.decision {
				t.Fatalf("expected %s, got %s", tc.decision, outcome.Decision)
			}
			if outcome.Feedback != tc.feedback {
				t.Fatalf("expected feedback %q, got %q", tc.feedback, outcome.Feedback)
			}
		})
	}
}
