package agent

import "encoding/json"

// MessageType identifies the agent's native message kinds, one per line of
// stream-json output.
type MessageType string

const (
	MessageTypeInit      MessageType = "init"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeUser      MessageType = "user"
	MessageTypeResult    MessageType = "result"
	MessageTypeError     MessageType = "error"
)

// Message is one agent-native message. Check Type to find the populated
// field.
type Message struct {
	Type      MessageType
	SessionID string

	Init      *InitMessage
	Assistant *AssistantMessage
	User      *UserMessage
	Result    *ResultMessage
	Err       error

	Raw json.RawMessage
}

// InitMessage announces the agent session, emitted once at stream start.
type InitMessage struct {
	SessionID      string   `json:"session_id"`
	Model          string   `json:"model"`
	CWD            string   `json:"cwd"`
	Tools          []string `json:"tools"`
	PermissionMode string   `json:"permissionMode"`
}

// AssistantMessage carries one assistant API message with its content
// blocks. Blocks arrive complete, not incrementally.
type AssistantMessage struct {
	MessageID  string         `json:"id"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      MessageUsage   `json:"usage"`
}

// ContentBlock is one block of assistant or user content.
type ContentBlock struct {
	Type      string          `json:"type"` // "text", "thinking", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`       // tool_use
	Name      string          `json:"name,omitempty"`     // tool_use
	Input     json.RawMessage `json:"input,omitempty"`    // tool_use
	Thinking  string          `json:"thinking,omitempty"` // thinking
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	// ContentRaw can be a string or an array of blocks; see TextContent.
	ContentRaw json.RawMessage `json:"content,omitempty"`
}

// TextContent flattens a tool_result's content to plain text. Simple
// results are strings; complex results are arrays of text blocks.
func (b ContentBlock) TextContent() string {
	if len(b.ContentRaw) == 0 {
		return ""
	}
	if b.ContentRaw[0] == '"' {
		var s string
		if err := json.Unmarshal(b.ContentRaw, &s); err == nil {
			return s
		}
	}
	if b.ContentRaw[0] == '[' {
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(b.ContentRaw, &blocks); err == nil {
			out := ""
			for i, blk := range blocks {
				if i > 0 {
					out += "\n"
				}
				out += blk.Text
			}
			return out
		}
	}
	return string(b.ContentRaw)
}

// MessageUsage tracks token usage for a single assistant message.
type MessageUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UserMessage carries tool results produced by the agent's tool executions.
type UserMessage struct {
	SessionID string             `json:"session_id"`
	Message   UserMessageContent `json:"message"`
}

type UserMessageContent struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Result subtypes the agent emits on its terminal message.
const (
	ResultSubtypeSuccess        = "success"
	ResultSubtypeMaxTurns       = "error_max_turns"
	ResultSubtypeMaxBudget      = "error_max_budget"
	ResultSubtypeExecutionError = "error_during_execution"
	ResultSubtypeMaxRetries     = "error_max_retries"
)

// ResultMessage is the final message of a stream with cumulative totals.
type ResultMessage struct {
	Subtype      string      `json:"subtype"`
	IsError      bool        `json:"is_error"`
	Result       string      `json:"result"`
	SessionID    string      `json:"session_id"`
	DurationMS   int         `json:"duration_ms"`
	NumTurns     int         `json:"num_turns"`
	TotalCostUSD float64     `json:"total_cost_usd"`
	Usage        ResultUsage `json:"usage"`
}

type ResultUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
