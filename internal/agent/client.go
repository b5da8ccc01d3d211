package agent

import "context"

// QueryRequest starts one agent turn.
type QueryRequest struct {
	Prompt string
	// AgentSessionID resumes a previous agent session when non-empty.
	AgentSessionID string
	Model          string
	PermissionMode string
	WorkDir        string
}

// Handle controls one in-flight agent invocation. It is owned exclusively
// by the turn that created it; all control operations are serialized by the
// session coordinator.
type Handle interface {
	// Messages yields agent-native messages until the stream ends. The
	// channel is closed after the terminal result (or failure) is
	// delivered.
	Messages() <-chan Message

	// Interrupt requests a graceful stop and blocks until the agent
	// process has settled. Output already delivered is not lost.
	Interrupt(ctx context.Context) error

	SetModel(ctx context.Context, model string) error
	SetPermissionMode(ctx context.Context, mode string) error

	// Err reports the stream failure, if any, once Messages is closed.
	Err() error
}

// Client spawns agent invocations.
type Client interface {
	Query(ctx context.Context, req QueryRequest) (Handle, error)
}
