package event

import "encoding/json"

// PartType tags the members of the message-part union. The set is closed:
// unknown kinds arriving from upstream are carried as PartTypeData.
type PartType string

const (
	PartTypeText           PartType = "text"
	PartTypeReasoning      PartType = "reasoning"
	PartTypeToolCall       PartType = "tool-call"
	PartTypeFile           PartType = "file"
	PartTypeSourceURL      PartType = "source-url"
	PartTypeSourceDocument PartType = "source-document"
	PartTypeStepStart      PartType = "step-start"
	PartTypeData           PartType = "data"
)

// ToolCallState is the lifecycle of a tool-call part. Tool-call parts are
// the one member of the union mutated after creation: the matching result
// (correlated by ToolCallID) advances the state in place.
type ToolCallState string

const (
	ToolStateInputStreaming    ToolCallState = "input-streaming"
	ToolStateInputAvailable    ToolCallState = "input-available"
	ToolStateApprovalRequested ToolCallState = "approval-requested"
	ToolStateApprovalResponded ToolCallState = "approval-responded"
	ToolStateOutputAvailable   ToolCallState = "output-available"
	ToolStateOutputError       ToolCallState = "output-error"
	ToolStateOutputDenied      ToolCallState = "output-denied"
)

// Part is one element of a chat message's ordered content sequence.
type Part struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	// Tool-call fields.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	State      ToolCallState   `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`

	// File and source fields.
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	MediaType string `json:"media_type,omitempty"`

	// Open variant payload, only for PartTypeData.
	DataKind    string          `json:"data_kind,omitempty"`
	DataPayload json.RawMessage `json:"data_payload,omitempty"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)
