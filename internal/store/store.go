package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

var ErrNotFound = errors.New("not found")

type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "created"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

type TurnStatus string

const (
	TurnStatusStreaming   TurnStatus = "streaming"
	TurnStatusCompleted   TurnStatus = "completed"
	TurnStatusInterrupted TurnStatus = "interrupted"
	TurnStatusError       TurnStatus = "error"
)

// SessionRecord is the durable session row. The hub updates it after each
// turn; creation and deletion belong to the owning application.
type SessionRecord struct {
	SessionID      string        `json:"session_id"`
	Title          string        `json:"title,omitempty"`
	RepositoryID   string        `json:"repository_id,omitempty"`
	WorktreeID     string        `json:"worktree_id,omitempty"`
	Status         SessionStatus `json:"status"`
	AgentSessionID string        `json:"agent_session_id,omitempty"`
	Model          string        `json:"model,omitempty"`
	InputTokens    int           `json:"input_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	CostUSD        float64       `json:"cost_usd"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TurnRecord is one agent invocation. Exactly one turn may be streaming per
// session; finalization happens once, by whichever path observes the end
// first.
type TurnRecord struct {
	TurnID      string     `json:"turn_id"`
	SessionID   string     `json:"session_id"`
	Status      TurnStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ChatMessageRecord is one entry in a session's append-only message log.
// Seq orders the log and backs the history cursor.
type ChatMessageRecord struct {
	MessageID string       `json:"message_id"`
	SessionID string       `json:"session_id"`
	Role      event.Role   `json:"role"`
	Parts     []event.Part `json:"parts"`
	Seq       int64        `json:"seq"`
	CreatedAt time.Time    `json:"created_at"`
}

type Store interface {
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
	UpdateSession(ctx context.Context, rec SessionRecord) error
	EnsureSession(ctx context.Context, sessionID string) (SessionRecord, error)

	CreateTurn(ctx context.Context, sessionID string) (TurnRecord, error)
	// CompleteTurn finalizes a turn exactly once. Calling it on an
	// already-terminal turn returns the stored record unchanged with
	// finalized=false.
	CompleteTurn(ctx context.Context, turnID string, status TurnStatus, errText string) (TurnRecord, bool, error)

	CreateMessage(ctx context.Context, rec ChatMessageRecord) (ChatMessageRecord, error)
	CreateMessages(ctx context.Context, recs []ChatMessageRecord) ([]ChatMessageRecord, error)
	GetMessagesSince(ctx context.Context, sessionID string, afterSeq int64) ([]ChatMessageRecord, error)
	LatestMessageID(ctx context.Context, sessionID string) (string, error)

	Close() error
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session_id is required")
	}
	return nil
}

func terminalTurnStatus(status TurnStatus) bool {
	switch status {
	case TurnStatusCompleted, TurnStatusInterrupted, TurnStatusError:
		return true
	default:
		return false
	}
}
