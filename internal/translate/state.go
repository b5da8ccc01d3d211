package translate

import (
	"fmt"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

// InteractiveTools are agent tools that block on a human decision. Their
// invocation raises an approval request instead of completing immediately.
var InteractiveTools = map[string]bool{
	"ExitPlanMode":    true,
	"AskUserQuestion": true,
}

// State is the per-turn decoding state. It correlates tool calls with their
// later results and accumulates the assistant message parts the hub
// persists at turn end. It is reset at every turn boundary and is only ever
// touched from the session's serialized context.
type State struct {
	AgentSessionID string
	Model          string
	FinishReason   event.FinishReason
	Usage          event.Usage

	parts []event.Part
	// toolIndex is the one documented mutable cell per tool call: results
	// update parts[toolIndex[id]] in place, everything else is append-only.
	toolIndex map[string]int
	blockSeq  int
	started   bool
}

func NewState() *State {
	return &State{
		toolIndex: make(map[string]int),
	}
}

// Parts returns a copy of the accumulated assistant parts.
func (s *State) Parts() []event.Part {
	out := make([]event.Part, len(s.parts))
	copy(out, s.parts)
	return out
}

// HasContent reports whether the turn produced any assistant output worth
// persisting.
func (s *State) HasContent() bool {
	return len(s.parts) > 0
}

func (s *State) nextBlockID() string {
	s.blockSeq++
	return fmt.Sprintf("blk_%d", s.blockSeq)
}

func (s *State) appendPart(p event.Part) int {
	s.parts = append(s.parts, p)
	return len(s.parts) - 1
}

// ToolPart returns the tracked tool-call part for id, or nil when the id
// was never registered (or was cleared at a turn boundary).
func (s *State) ToolPart(id string) *event.Part {
	idx, ok := s.toolIndex[id]
	if !ok {
		return nil
	}
	return &s.parts[idx]
}
