package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/agent"
	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/ids"
	"github.com/andresmarpz/sandcastle-sub001/internal/store"
	"github.com/andresmarpz/sandcastle-sub001/internal/translate"
)

// Status is the in-memory session state: idle, or exactly one turn
// streaming.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
)

// pendingApproval is an agent tool invocation blocked on a human decision.
type pendingApproval struct {
	approvalID string
	toolCallID string
	toolName   string
	createdAt  time.Time
	timer      *time.Timer
}

// sessionState is the mutable per-session record. Every read-modify-write
// of status, queue, buffer, subscribers, decoding state, and approvals
// happens under mu: one writer at a time per session, sessions fully
// independent of each other.
type sessionState struct {
	id  string
	hub *Hub

	mu            sync.Mutex
	status        Status
	activeTurnID  string
	queue         []event.QueuedMessage
	buffer        *replayBuffer
	subs          map[*Subscription]struct{}
	handle        agent.Handle
	decode        *translate.State
	turnCtx       *event.TurnContext
	approvals     map[string]*pendingApproval
	agentSession  string
	model         string
	lastMessageID string
	turnDone      chan struct{}
	interrupting  bool
	deleted       bool
}

func newSessionState(id string, h *Hub) *sessionState {
	return &sessionState{
		id:        id,
		hub:       h,
		status:    StatusIdle,
		buffer:    newReplayBuffer(h.cfg.BufferCap),
		subs:      make(map[*Subscription]struct{}),
		approvals: make(map[string]*pendingApproval),
		model:     h.cfg.DefaultModel,
	}
}

func (s *sessionState) snapshotLocked() event.Snapshot {
	queue := make([]event.QueuedMessage, len(s.queue))
	copy(queue, s.queue)
	return event.Snapshot{
		SessionID:     s.id,
		Status:        string(s.status),
		ActiveTurnID:  s.activeTurnID,
		Queue:         queue,
		HistoryCursor: s.lastMessageID,
	}
}

// publishLocked stamps, buffers, and fans out one event. Full subscribers
// are dropped so a stalled consumer can never stall the session.
func (s *sessionState) publishLocked(evt event.Event) {
	if s.deleted && evt.Type != event.TypeSessionDeleted {
		return
	}
	evt.SessionID = s.id
	if evt.TurnID == "" {
		evt.TurnID = s.activeTurnID
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	if isTurnStreamEvent(evt.Type) {
		s.buffer.append(evt)
	}

	for sub := range s.subs {
		if !sub.offerLocked(evt) {
			s.hub.logger.Printf("dropping slow subscriber session_id=%s", s.id)
			sub.closeLocked()
			delete(s.subs, sub)
		}
	}

	if isEnvelopeEvent(evt.Type) {
		s.hub.mirror(evt)
	}
}

func isTurnStreamEvent(t event.Type) bool {
	switch t {
	case event.TypeInitialState, event.TypeUserMessage, event.TypeSessionStarted,
		event.TypeMessageQueued, event.TypeMessageDequeued,
		event.TypeSessionStopped, event.TypeSessionDeleted:
		return false
	default:
		return true
	}
}

func isEnvelopeEvent(t event.Type) bool {
	return !isTurnStreamEvent(t) && t != event.TypeInitialState
}

// startTurnLocked performs the Idle -> Streaming transition. Called with
// s.mu held; the caller observed status == idle.
func (s *sessionState) startTurnLocked(ctx context.Context, content string, clientMessageID string, parts []event.Part) (string, error) {
	h := s.hub

	if _, err := h.store.EnsureSession(ctx, s.id); err != nil {
		return "", fmt.Errorf("ensure session: %w", err)
	}

	userParts := parts
	if len(userParts) == 0 {
		userParts = []event.Part{{Type: event.PartTypeText, Text: content}}
	}
	userMsg, err := h.store.CreateMessage(ctx, store.ChatMessageRecord{
		SessionID: s.id,
		Role:      event.RoleUser,
		Parts:     userParts,
	})
	if err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}
	s.lastMessageID = userMsg.MessageID

	turn, err := h.store.CreateTurn(ctx, s.id)
	if err != nil {
		return "", fmt.Errorf("create turn: %w", err)
	}

	// The caller's context covers acceptance only. The stream must outlive
	// the request that started it; cancellation comes from Interrupt or
	// shutdown.
	handle, err := h.agents.Query(context.WithoutCancel(ctx), agent.QueryRequest{
		Prompt:         content,
		AgentSessionID: s.agentSession,
		Model:          s.model,
		PermissionMode: h.cfg.PermissionMode,
		WorkDir:        h.cfg.WorkDir,
	})
	if err != nil {
		_, _, completeErr := h.store.CompleteTurn(ctx, turn.TurnID, store.TurnStatusError, err.Error())
		if completeErr != nil {
			h.logger.Printf("turn error persist failed session_id=%s turn_id=%s err=%v", s.id, turn.TurnID, completeErr)
		}
		return "", fmt.Errorf("start agent query: %w", err)
	}

	now := time.Now().UTC()
	st := translate.NewState()
	st.Model = s.model

	s.status = StatusStreaming
	s.activeTurnID = turn.TurnID
	s.handle = handle
	s.decode = st
	s.buffer.reset()
	s.interrupting = false
	s.turnCtx = &event.TurnContext{
		TurnID:    turn.TurnID,
		MessageID: userMsg.MessageID,
		Content:   content,
		StartedAt: now,
	}
	done := make(chan struct{})
	s.turnDone = done

	s.publishLocked(event.Event{
		Type:      event.TypeUserMessage,
		MessageID: userMsg.MessageID,
		Delta:     content,
		TurnID:    turn.TurnID,
	})
	s.publishLocked(event.Event{
		Type:      event.TypeSessionStarted,
		TurnID:    turn.TurnID,
		MessageID: userMsg.MessageID,
	})

	h.logger.Printf("turn start session_id=%s turn_id=%s client_message_id=%s", s.id, turn.TurnID, clientMessageID)
	go s.runTurn(handle, turn.TurnID, st, done)
	return turn.TurnID, nil
}

// runTurn drains the agent stream, translating and broadcasting each
// message. On natural completion it finalizes the turn unless an interrupt
// (or delete) already claimed it.
func (s *sessionState) runTurn(handle agent.Handle, turnID string, st *translate.State, done chan struct{}) {
	defer close(done)

	for msg := range handle.Messages() {
		s.mu.Lock()
		events := translate.Translate(msg, st)
		for _, evt := range events {
			if evt.Type == event.TypeToolApprovalRequest {
				s.registerApprovalLocked(evt)
			}
			s.publishLocked(evt)
		}
		if st.AgentSessionID != "" {
			s.agentSession = st.AgentSessionID
		}
		s.mu.Unlock()
	}

	streamErr := handle.Err()

	s.mu.Lock()
	if s.interrupting || s.activeTurnID != turnID || s.status != StatusStreaming {
		// Interrupt or delete owns finalization.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	reason := event.StopReasonCompleted
	errText := ""
	if streamErr != nil {
		reason = event.StopReasonError
		errText = streamErr.Error()
	} else if st.FinishReason == event.FinishReasonError {
		reason = event.StopReasonError
		errText = "agent reported an execution error"
	}
	s.finalizeTurn(turnID, st, reason, errText, true)
}

// finalizeTurn persists the turn outcome exactly once, returns the session
// to idle, broadcasts session-stopped, and (when allowed) starts the next
// queued message. Safe to call from the turn goroutine, an interrupting
// caller, or shutdown: the store's terminal guard makes the persist
// idempotent and the in-memory guard keeps the broadcast single. Reports
// whether this call claimed finalization; a racing caller that lost the
// claim gets false.
func (s *sessionState) finalizeTurn(turnID string, st *translate.State, reason event.StopReason, errText string, autoDequeue bool) bool {
	h := s.hub
	ctx := context.Background()

	s.mu.Lock()
	if s.activeTurnID != turnID || s.status != StatusStreaming {
		s.mu.Unlock()
		return false
	}
	// Claim finalization before releasing the lock for storage writes.
	s.status = StatusIdle
	s.activeTurnID = ""
	s.handle = nil
	s.interrupting = false
	s.turnCtx = nil
	s.decode = nil
	s.clearApprovalsLocked()

	parts := st.Parts()
	agentSession := st.AgentSessionID
	usage := st.Usage
	model := st.Model
	s.mu.Unlock()

	if len(parts) > 0 {
		rec, err := h.store.CreateMessage(ctx, store.ChatMessageRecord{
			SessionID: s.id,
			Role:      event.RoleAssistant,
			Parts:     parts,
		})
		if err != nil {
			h.logger.Printf("assistant message persist failed session_id=%s turn_id=%s err=%v", s.id, turnID, err)
		} else {
			s.mu.Lock()
			s.lastMessageID = rec.MessageID
			s.mu.Unlock()
		}
	}

	if _, _, err := h.store.CompleteTurn(ctx, turnID, turnStatusFor(reason), errText); err != nil {
		h.logger.Printf("turn finalize persist failed session_id=%s turn_id=%s err=%v", s.id, turnID, err)
	}
	s.persistSessionUsage(ctx, agentSession, model, usage)

	s.mu.Lock()
	if agentSession != "" {
		s.agentSession = agentSession
	}
	s.publishLocked(event.Event{
		Type:       event.TypeSessionStopped,
		TurnID:     turnID,
		StopReason: reason,
		ErrorText:  errText,
	})
	h.logger.Printf("turn stop session_id=%s turn_id=%s reason=%s", s.id, turnID, reason)

	var next *event.QueuedMessage
	if autoDequeue && !s.deleted && len(s.queue) > 0 {
		head := s.queue[0]
		s.queue = append([]event.QueuedMessage(nil), s.queue[1:]...)
		s.publishLocked(event.Event{
			Type:      event.TypeMessageDequeued,
			MessageID: head.ID,
		})
		next = &head
	}

	if next != nil && s.status == StatusIdle {
		if _, err := s.startTurnLocked(ctx, next.Content, next.ClientMessageID, next.Parts); err != nil {
			h.logger.Printf("auto-dequeue start failed session_id=%s message_id=%s err=%v", s.id, next.ID, err)
			s.publishLocked(event.Event{
				Type:       event.TypeSessionStopped,
				StopReason: event.StopReasonError,
				ErrorText:  fmt.Sprintf("start queued message: %v", err),
			})
		}
	}
	s.mu.Unlock()
	return true
}

func (s *sessionState) persistSessionUsage(ctx context.Context, agentSession, model string, usage event.Usage) {
	h := s.hub
	rec, err := h.store.GetSession(ctx, s.id)
	if err != nil {
		h.logger.Printf("session usage lookup failed session_id=%s err=%v", s.id, err)
		return
	}
	rec.Status = store.SessionStatusActive
	rec.InputTokens += usage.InputTokens
	rec.OutputTokens += usage.OutputTokens
	rec.CostUSD += usage.CostUSD
	if agentSession != "" {
		rec.AgentSessionID = agentSession
	}
	if model != "" {
		rec.Model = model
	}
	if err := h.store.UpdateSession(ctx, rec); err != nil {
		h.logger.Printf("session usage persist failed session_id=%s err=%v", s.id, err)
	}
}

func (s *sessionState) registerApprovalLocked(evt event.Event) {
	pa := &pendingApproval{
		approvalID: evt.ApprovalID,
		toolCallID: evt.ToolCallID,
		toolName:   evt.ToolName,
		createdAt:  time.Now().UTC(),
	}
	timeout := s.hub.cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = defaultApprovalTimeout
	}
	approvalID := evt.ApprovalID
	pa.timer = time.AfterFunc(timeout, func() {
		// A request that outlives its window resolves as an implicit
		// denial rather than an error. Not-found means the turn ended or
		// the user answered first.
		if _, err := s.hub.RespondToApproval(context.Background(), s.id, approvalID, false, "approval timed out"); err != nil && !errors.Is(err, ErrNotFound) {
			s.hub.logger.Printf("approval timeout resolve failed session_id=%s approval_id=%s err=%v", s.id, approvalID, err)
		}
	})
	s.approvals[evt.ApprovalID] = pa
}

func (s *sessionState) clearApprovalsLocked() {
	for id, pa := range s.approvals {
		pa.timer.Stop()
		delete(s.approvals, id)
	}
}

func turnStatusFor(reason event.StopReason) store.TurnStatus {
	switch reason {
	case event.StopReasonInterrupted:
		return store.TurnStatusInterrupted
	case event.StopReasonError:
		return store.TurnStatusError
	default:
		return store.TurnStatusCompleted
	}
}

// enqueueLocked appends the queued entry. Caller holds s.mu and has
// verified the cap.
func (s *sessionState) enqueueLocked(content, clientMessageID string, parts []event.Part) event.QueuedMessage {
	qm := event.QueuedMessage{
		ID:              ids.New(),
		Content:         content,
		Parts:           parts,
		ClientMessageID: clientMessageID,
		QueuedAt:        time.Now().UTC(),
	}
	s.queue = append(s.queue, qm)
	s.publishLocked(event.Event{Type: event.TypeMessageQueued, Queued: &qm})
	return qm
}
