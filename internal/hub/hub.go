package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/andresmarpz/sandcastle-sub001/internal/agent"
	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/sink"
	"github.com/andresmarpz/sandcastle-sub001/internal/store"
)

var (
	ErrQueueFull    = errors.New("session queue full")
	ErrShuttingDown = errors.New("hub is shutting down")
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrNotFound mirrors the store sentinel so callers handle both with
	// one check.
	ErrNotFound = store.ErrNotFound
)

const (
	defaultBufferCap        = 1000
	defaultQueueCap         = 64
	defaultSubscriberBuffer = 256
	defaultApprovalTimeout  = 5 * time.Minute
)

// Config tunes the per-session resources.
type Config struct {
	// BufferCap bounds the turn-scoped replay buffer (oldest evicted).
	BufferCap int
	// QueueCap bounds the pending-message queue. The queue is deliberately
	// capped: an unbounded queue is a resource-exhaustion risk.
	QueueCap int
	// SubscriberBuffer is each subscription's channel capacity.
	SubscriberBuffer int
	// ApprovalTimeout is the window for a pending human approval before it
	// resolves as an implicit denial.
	ApprovalTimeout time.Duration

	DefaultModel   string
	PermissionMode string
	WorkDir        string
}

func (c Config) withDefaults() Config {
	if c.BufferCap <= 0 {
		c.BufferCap = defaultBufferCap
	}
	if c.QueueCap <= 0 {
		c.QueueCap = defaultQueueCap
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = defaultApprovalTimeout
	}
	return c
}

// SendResult reports how SendMessage settled.
type SendResult struct {
	Status string               `json:"status"` // "started" or "queued"
	TurnID string               `json:"turn_id,omitempty"`
	Queued *event.QueuedMessage `json:"queued,omitempty"`
}

// Hub is the session coordinator: an explicit registry of per-session
// state machines, each serializing its own transitions.
type Hub struct {
	logger     *log.Logger
	store      store.Store
	agents     agent.Client
	dispatcher *sink.Dispatcher
	cfg        Config

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool
}

func New(logger *log.Logger, st store.Store, agents agent.Client, dispatcher *sink.Dispatcher, cfg Config) *Hub {
	return &Hub{
		logger:     logger,
		store:      st,
		agents:     agents,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		sessions:   make(map[string]*sessionState),
	}
}

// stateFor returns the session's in-memory record, creating it lazily on
// first interaction.
func (h *Hub) stateFor(sessionID string) (*sessionState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrShuttingDown
	}
	if s, ok := h.sessions[sessionID]; ok {
		return s, nil
	}
	s := newSessionState(sessionID, h)
	if latest, err := h.store.LatestMessageID(context.Background(), sessionID); err == nil {
		s.lastMessageID = latest
	}
	h.sessions[sessionID] = s
	return s, nil
}

// peek returns the in-memory record without creating one.
func (h *Hub) peek(sessionID string) *sessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}

func (h *Hub) mirror(evt event.Event) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Dispatch(context.Background(), evt)
}

// SendMessage starts a turn on an idle session or queues the message while
// a turn is active. Exactly one of a burst of concurrent sends starts; the
// rest queue behind it.
func (h *Hub) SendMessage(ctx context.Context, sessionID, content, clientMessageID string, parts []event.Part) (SendResult, error) {
	if strings.TrimSpace(content) == "" && len(parts) == 0 {
		return SendResult{}, ErrEmptyMessage
	}

	s, err := h.stateFor(sessionID)
	if err != nil {
		return SendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusStreaming {
		if len(s.queue) >= h.cfg.QueueCap {
			return SendResult{}, ErrQueueFull
		}
		qm := s.enqueueLocked(content, clientMessageID, parts)
		return SendResult{Status: "queued", Queued: &qm}, nil
	}

	turnID, err := s.startTurnLocked(ctx, content, clientMessageID, parts)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{Status: "started", TurnID: turnID}, nil
}

// Subscribe attaches a consumer to the session's broadcast channel. The
// state snapshot, replay buffer, and live attach happen under one lock so
// the replay ends exactly where the live tail begins.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	s, err := h.stateFor(sessionID)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(h.cfg.SubscriberBuffer)

	s.mu.Lock()
	initial := event.Event{
		Type:       event.TypeInitialState,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
	}
	snap := s.snapshotLocked()
	initial.Snapshot = &snap
	initial.Buffer = s.buffer.snapshot()
	if s.turnCtx != nil {
		tc := *s.turnCtx
		initial.TurnContext = &tc
	}
	sub.ch <- initial
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	// Detach on caller-lifetime end.
	go func() {
		<-ctx.Done()
		h.unsubscribe(s, sub)
	}()

	return sub, nil
}

// Unsubscribe detaches one subscriber immediately, without waiting for its
// context to end. Other subscribers are unaffected.
func (h *Hub) Unsubscribe(sessionID string, sub *Subscription) {
	if s := h.peek(sessionID); s != nil {
		h.unsubscribe(s, sub)
	}
}

func (h *Hub) unsubscribe(s *sessionState, sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	sub.closeLocked()
}

// Interrupt cooperatively stops the active turn: it asks the agent client
// to stop, waits for the stream goroutine to settle (both cancellation
// signals joined), then finalizes with whatever partial content the turn
// accumulated. Idle sessions are a no-op, not an error.
func (h *Hub) Interrupt(ctx context.Context, sessionID string) (bool, error) {
	s := h.peek(sessionID)
	if s == nil {
		return false, nil
	}

	s.mu.Lock()
	if s.status != StatusStreaming || s.interrupting {
		s.mu.Unlock()
		return false, nil
	}
	s.interrupting = true
	handle := s.handle
	done := s.turnDone
	turnID := s.activeTurnID
	st := s.decode
	s.mu.Unlock()

	if err := handle.Interrupt(ctx); err != nil {
		h.logger.Printf("agent interrupt failed session_id=%s turn_id=%s err=%v", sessionID, turnID, err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	// The turn can finish naturally between the claim above and the join;
	// report interrupted only when this caller actually finalized.
	return s.finalizeTurn(turnID, st, event.StopReasonInterrupted, "", true), nil
}

// DequeueMessage removes one pending entry by id. It has no effect on an
// already-started turn.
func (h *Hub) DequeueMessage(ctx context.Context, sessionID, messageID string) (bool, error) {
	s := h.peek(sessionID)
	if s == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, qm := range s.queue {
		if qm.ID != messageID {
			continue
		}
		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		s.publishLocked(event.Event{Type: event.TypeMessageDequeued, MessageID: messageID})
		return true, nil
	}
	return false, nil
}

// GetState is a side-effect-free snapshot. Sessions with no in-memory
// record report idle, provided they exist durably.
func (h *Hub) GetState(ctx context.Context, sessionID string) (event.Snapshot, error) {
	if s := h.peek(sessionID); s != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.snapshotLocked(), nil
	}

	if _, err := h.store.GetSession(ctx, sessionID); err != nil {
		return event.Snapshot{}, err
	}
	cursor, err := h.store.LatestMessageID(ctx, sessionID)
	if err != nil {
		return event.Snapshot{}, err
	}
	return event.Snapshot{
		SessionID:     sessionID,
		Status:        string(StatusIdle),
		Queue:         []event.QueuedMessage{},
		HistoryCursor: cursor,
	}, nil
}

// RespondToApproval resolves a pending human-approval request. Rejection
// marks the tool call denied and broadcasts it; approval leaves the final
// output to the agent's own tool result.
//
// The CLI transport offers no channel back into a blocked tool, so the
// decision is observational: it settles the tracked tool state and what
// subscribers see, while the agent process decides on its own (via its
// permission mode) whether the tool ultimately runs. Its outcome still
// arrives as a regular tool result and is reconciled against the recorded
// decision.
func (h *Hub) RespondToApproval(ctx context.Context, sessionID, approvalID string, approved bool, feedback string) (bool, error) {
	s := h.peek(sessionID)
	if s == nil {
		return false, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pa, ok := s.approvals[approvalID]
	if !ok {
		return false, ErrNotFound
	}
	pa.timer.Stop()
	delete(s.approvals, approvalID)

	if s.decode != nil {
		if part := s.decode.ToolPart(pa.toolCallID); part != nil {
			part.State = event.ToolStateApprovalResponded
			if !approved {
				part.State = event.ToolStateOutputDenied
				part.ErrorText = feedback
			}
		}
	}

	if !approved {
		s.publishLocked(event.Event{
			Type:       event.TypeToolOutputDenied,
			ToolCallID: pa.toolCallID,
			ToolName:   pa.toolName,
			ErrorText:  feedback,
		})
	}
	h.logger.Printf("approval resolved session_id=%s approval_id=%s approved=%t", sessionID, approvalID, approved)
	return approved, nil
}

// DeleteSession broadcasts a terminal event, interrupts any active turn,
// and evicts the in-memory record. Durable rows are the caller's to
// delete.
func (h *Hub) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	s := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	s.publishLocked(event.Event{Type: event.TypeSessionDeleted})
	s.deleted = true
	s.clearApprovalsLocked()
	streaming := s.status == StatusStreaming && !s.interrupting
	s.interrupting = true
	handle := s.handle
	done := s.turnDone
	turnID := s.activeTurnID
	st := s.decode
	s.mu.Unlock()

	if streaming && handle != nil {
		if err := handle.Interrupt(ctx); err != nil {
			h.logger.Printf("delete interrupt failed session_id=%s err=%v", sessionID, err)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// Persist partial content and the terminal turn status. The deleted
		// flag already suppresses the session-stopped broadcast.
		s.finalizeTurn(turnID, st, event.StopReasonInterrupted, "", false)
	}

	s.mu.Lock()
	for sub := range s.subs {
		sub.closeLocked()
		delete(s.subs, sub)
	}
	s.status = StatusIdle
	s.handle = nil
	s.queue = nil
	s.mu.Unlock()

	h.logger.Printf("session deleted session_id=%s", sessionID)
	return nil
}

// Shutdown interrupts every streaming session, persists partial progress,
// and releases resources. Individual finalize failures are collected so
// one bad session cannot abort the drain.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*sessionState, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*sessionState)
	h.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := h.drainSession(ctx, s); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", s.id, err))
		}
	}
	return result.ErrorOrNil()
}

func (h *Hub) drainSession(ctx context.Context, s *sessionState) error {
	s.mu.Lock()
	streaming := s.status == StatusStreaming && !s.interrupting
	s.interrupting = true
	handle := s.handle
	done := s.turnDone
	turnID := s.activeTurnID
	st := s.decode
	s.mu.Unlock()

	var interruptErr error
	if streaming && handle != nil {
		interruptErr = handle.Interrupt(ctx)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		// Shutdown never starts queued messages.
		s.finalizeTurn(turnID, st, event.StopReasonInterrupted, "", false)
	}

	s.mu.Lock()
	for sub := range s.subs {
		sub.closeLocked()
		delete(s.subs, sub)
	}
	s.clearApprovalsLocked()
	s.mu.Unlock()

	return interruptErr
}
