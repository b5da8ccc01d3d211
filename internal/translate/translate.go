package translate

import (
	"encoding/json"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/agent"
	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/ids"
)

// Translate maps one agent-native message into zero or more normalized
// events, updating the per-turn state as a side effect. Unmatched tool
// results and unknown block kinds never fail the turn.
func Translate(msg agent.Message, st *State) []event.Event {
	switch msg.Type {
	case agent.MessageTypeInit:
		if msg.Init != nil {
			st.AgentSessionID = msg.Init.SessionID
			if st.Model == "" {
				st.Model = msg.Init.Model
			}
		}
		return nil
	case agent.MessageTypeAssistant:
		if msg.Assistant == nil {
			return nil
		}
		return translateAssistant(*msg.Assistant, st)
	case agent.MessageTypeUser:
		if msg.User == nil {
			return nil
		}
		return translateToolResults(*msg.User, st)
	case agent.MessageTypeResult:
		if msg.Result == nil {
			return nil
		}
		return translateResult(*msg.Result, st)
	default:
		return nil
	}
}

func translateAssistant(msg agent.AssistantMessage, st *State) []event.Event {
	now := time.Now().UTC()
	var out []event.Event

	if !st.started {
		st.started = true
		out = append(out, event.Event{
			Type:       event.TypeStart,
			OccurredAt: now,
			MessageID:  msg.MessageID,
		})
	}
	if msg.Model != "" {
		st.Model = msg.Model
	}
	st.Usage.InputTokens += msg.Usage.InputTokens
	st.Usage.OutputTokens += msg.Usage.OutputTokens

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			// Upstream delivers complete blocks; synthesize the
			// start/delta/end triplet so consumers see one streaming shape.
			id := st.nextBlockID()
			out = append(out,
				event.Event{Type: event.TypeTextStart, OccurredAt: now, BlockID: id},
				event.Event{Type: event.TypeTextDelta, OccurredAt: now, BlockID: id, Delta: block.Text},
				event.Event{Type: event.TypeTextEnd, OccurredAt: now, BlockID: id},
			)
			st.appendPart(event.Part{Type: event.PartTypeText, Text: block.Text})
		case "thinking":
			id := st.nextBlockID()
			out = append(out,
				event.Event{Type: event.TypeReasoningStart, OccurredAt: now, BlockID: id},
				event.Event{Type: event.TypeReasoningDelta, OccurredAt: now, BlockID: id, Delta: block.Thinking},
				event.Event{Type: event.TypeReasoningEnd, OccurredAt: now, BlockID: id},
			)
			st.appendPart(event.Part{Type: event.PartTypeReasoning, Text: block.Thinking})
		case "tool_use":
			out = append(out, translateToolUse(block, st, now)...)
		default:
			// Open passthrough for upstream data-* block kinds.
			out = append(out, event.Event{
				Type:        event.TypeData,
				OccurredAt:  now,
				DataKind:    "data-" + block.Type,
				DataPayload: rawBlock(block),
			})
		}
	}
	return out
}

func translateToolUse(block agent.ContentBlock, st *State, now time.Time) []event.Event {
	part := event.Part{
		Type:       event.PartTypeToolCall,
		ToolCallID: block.ID,
		ToolName:   block.Name,
		State:      event.ToolStateInputAvailable,
		Input:      block.Input,
	}
	out := []event.Event{
		{Type: event.TypeToolInputStart, OccurredAt: now, ToolCallID: block.ID, ToolName: block.Name},
		{Type: event.TypeToolInputAvailable, OccurredAt: now, ToolCallID: block.ID, ToolName: block.Name, Input: block.Input},
	}

	if InteractiveTools[block.Name] {
		part.State = event.ToolStateApprovalRequested
		out = append(out, event.Event{
			Type:       event.TypeToolApprovalRequest,
			OccurredAt: now,
			ApprovalID: ids.New(),
			ToolCallID: block.ID,
			ToolName:   block.Name,
		})
	}

	idx := st.appendPart(part)
	st.toolIndex[block.ID] = idx
	return out
}

func translateToolResults(msg agent.UserMessage, st *State) []event.Event {
	now := time.Now().UTC()
	var out []event.Event

	for _, block := range msg.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		part := st.ToolPart(block.ToolUseID)
		if part == nil {
			// No pending registration for this id; dropped, not an error.
			continue
		}

		text := block.TextContent()
		output := rawText(text)

		if part.State == event.ToolStateApprovalRequested {
			out = append(out, resolveApprovalResult(part, text, output, block.IsError, now)...)
			continue
		}

		if block.IsError {
			part.State = event.ToolStateOutputError
			part.ErrorText = text
			out = append(out, event.Event{
				Type:       event.TypeToolOutputError,
				OccurredAt: now,
				ToolCallID: part.ToolCallID,
				ToolName:   part.ToolName,
				ErrorText:  text,
			})
			continue
		}

		part.State = event.ToolStateOutputAvailable
		part.Output = output
		out = append(out, event.Event{
			Type:       event.TypeToolOutputAvailable,
			OccurredAt: now,
			ToolCallID: part.ToolCallID,
			ToolName:   part.ToolName,
			Output:     output,
		})
	}
	return out
}

func resolveApprovalResult(part *event.Part, text string, output json.RawMessage, isError bool, now time.Time) []event.Event {
	outcome := ParseApprovalOutcome(text)
	part.State = event.ToolStateApprovalResponded

	switch {
	case isError || outcome.Decision == ApprovalRejected:
		part.State = event.ToolStateOutputDenied
		part.ErrorText = text
		return []event.Event{{
			Type:       event.TypeToolOutputDenied,
			OccurredAt: now,
			ToolCallID: part.ToolCallID,
			ToolName:   part.ToolName,
			ErrorText:  outcome.Feedback,
		}}
	default:
		// Approved and undetermined both surface the raw output; an
		// undetermined parse is flagged upstream, never treated as a
		// rejection.
		part.State = event.ToolStateOutputAvailable
		part.Output = output
		return []event.Event{{
			Type:       event.TypeToolOutputAvailable,
			OccurredAt: now,
			ToolCallID: part.ToolCallID,
			ToolName:   part.ToolName,
			Output:     output,
		}}
	}
}

func translateResult(msg agent.ResultMessage, st *State) []event.Event {
	now := time.Now().UTC()

	if msg.SessionID != "" {
		st.AgentSessionID = msg.SessionID
	}
	st.Usage.CostUSD += msg.TotalCostUSD
	if msg.Usage.InputTokens > st.Usage.InputTokens {
		st.Usage.InputTokens = msg.Usage.InputTokens
	}
	if msg.Usage.OutputTokens > st.Usage.OutputTokens {
		st.Usage.OutputTokens = msg.Usage.OutputTokens
	}

	st.FinishReason = mapFinishReason(msg.Subtype)
	evt := event.Event{
		Type:         event.TypeFinish,
		OccurredAt:   now,
		FinishReason: st.FinishReason,
		Usage: &event.Usage{
			InputTokens:  st.Usage.InputTokens,
			OutputTokens: st.Usage.OutputTokens,
			CostUSD:      st.Usage.CostUSD,
		},
	}
	if msg.IsError {
		evt.ErrorText = msg.Result
	}
	return []event.Event{evt}
}

func mapFinishReason(subtype string) event.FinishReason {
	switch subtype {
	case agent.ResultSubtypeSuccess:
		return event.FinishReasonStop
	case agent.ResultSubtypeMaxTurns, agent.ResultSubtypeMaxBudget:
		return event.FinishReasonLength
	case agent.ResultSubtypeExecutionError, agent.ResultSubtypeMaxRetries:
		return event.FinishReasonError
	default:
		return event.FinishReasonOther
	}
}

func rawText(text string) json.RawMessage {
	data, err := json.Marshal(text)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}

func rawBlock(block agent.ContentBlock) json.RawMessage {
	data, err := json.Marshal(block)
	if err != nil {
		return nil
	}
	return data
}
