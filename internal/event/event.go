package event

import (
	"encoding/json"
	"time"
)

// Type tags every event exchanged between the hub and its subscribers.
// The per-turn stream types mirror the agent's streaming contract; the
// session types are envelope events emitted by the hub itself.
type Type string

const (
	// Per-turn stream events.
	TypeStart               Type = "start"
	TypeTextStart           Type = "text-start"
	TypeTextDelta           Type = "text-delta"
	TypeTextEnd             Type = "text-end"
	TypeReasoningStart      Type = "reasoning-start"
	TypeReasoningDelta      Type = "reasoning-delta"
	TypeReasoningEnd        Type = "reasoning-end"
	TypeToolInputStart      Type = "tool-input-start"
	TypeToolInputAvailable  Type = "tool-input-available"
	TypeToolInputError      Type = "tool-input-error"
	TypeToolApprovalRequest Type = "tool-approval-request"
	TypeToolOutputAvailable Type = "tool-output-available"
	TypeToolOutputError     Type = "tool-output-error"
	TypeToolOutputDenied    Type = "tool-output-denied"
	TypeSourceURL           Type = "source-url"
	TypeSourceDocument      Type = "source-document"
	TypeFile                Type = "file"
	TypeFinish              Type = "finish"
	TypeError               Type = "error"
	TypeAbort               Type = "abort"

	// TypeData is the one open variant: upstream "data-*" events pass
	// through with their kind and raw payload intact.
	TypeData Type = "data"

	// Session envelope events.
	TypeInitialState    Type = "initial-state"
	TypeUserMessage     Type = "user-message"
	TypeSessionStarted  Type = "session-started"
	TypeMessageQueued   Type = "message-queued"
	TypeMessageDequeued Type = "message-dequeued"
	TypeSessionStopped  Type = "session-stopped"
	TypeSessionDeleted  Type = "session-deleted"
)

// FinishReason classifies why a turn's event stream ended.
type FinishReason string

const (
	FinishReasonStop    FinishReason = "stop"
	FinishReasonLength  FinishReason = "length"
	FinishReasonError   FinishReason = "error"
	FinishReasonOther   FinishReason = "other"
	FinishReasonAborted FinishReason = "aborted"
)

// StopReason classifies a session-stopped envelope event.
type StopReason string

const (
	StopReasonCompleted   StopReason = "completed"
	StopReasonInterrupted StopReason = "interrupted"
	StopReasonError       StopReason = "error"
)

// Event is the single wire unit on the hub's broadcast channel. Which
// fields are populated depends on Type; envelope payloads travel as
// pointers so per-turn events stay small.
type Event struct {
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	// Per-turn stream fields.
	MessageID    string          `json:"message_id,omitempty"`
	BlockID      string          `json:"id,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ApprovalID   string          `json:"approval_id,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	URL          string          `json:"url,omitempty"`
	Title        string          `json:"title,omitempty"`
	MediaType    string          `json:"media_type,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	ErrorText    string          `json:"error_text,omitempty"`

	// Open variant payload, only for TypeData.
	DataKind    string          `json:"data_kind,omitempty"`
	DataPayload json.RawMessage `json:"data_payload,omitempty"`

	// Session envelope fields.
	SessionID   string         `json:"session_id,omitempty"`
	TurnID      string         `json:"turn_id,omitempty"`
	StopReason  StopReason     `json:"stop_reason,omitempty"`
	Queued      *QueuedMessage `json:"queued,omitempty"`
	Snapshot    *Snapshot      `json:"snapshot,omitempty"`
	Buffer      []Event        `json:"buffer,omitempty"`
	TurnContext *TurnContext   `json:"turn_context,omitempty"`
	Usage       *Usage         `json:"usage,omitempty"`
}

// QueuedMessage is a follow-up message waiting for the active turn to end.
type QueuedMessage struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	Parts           []Part    `json:"parts,omitempty"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
	QueuedAt        time.Time `json:"queued_at"`
}

// Snapshot is the side-effect-free view returned by GetState and carried
// inside the initial-state event.
type Snapshot struct {
	SessionID     string          `json:"session_id"`
	Status        string          `json:"status"`
	ActiveTurnID  string          `json:"active_turn_id,omitempty"`
	Queue         []QueuedMessage `json:"queue"`
	HistoryCursor string          `json:"history_cursor,omitempty"`
}

// TurnContext lets a subscriber that joined mid-turn render the turn from
// its beginning even though it missed the live session-started broadcast.
type TurnContext struct {
	TurnID    string    `json:"turn_id"`
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	StartedAt time.Time `json:"started_at"`
}

// Usage carries cumulative token and cost counters for a finished turn.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}
