package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/ids"
)

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]SessionRecord
	turns    map[string]TurnRecord
	messages map[string][]ChatMessageRecord
	nextSeq  map[string]int64
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]SessionRecord),
		turns:    make(map[string]TurnRecord),
		messages: make(map[string][]ChatMessageRecord),
		nextSeq:  make(map[string]int64),
	}
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (SessionRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return SessionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}

	rec, ok := s.sessions[sessionID]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, rec SessionRecord) error {
	if err := validateSessionID(rec.SessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}

	if _, ok := s.sessions[rec.SessionID]; !ok {
		return ErrNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[rec.SessionID] = rec
	return nil
}

func (s *MemoryStore) EnsureSession(_ context.Context, sessionID string) (SessionRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return SessionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}

	if rec, ok := s.sessions[sessionID]; ok {
		return rec, nil
	}
	now := time.Now().UTC()
	rec := SessionRecord{
		SessionID: sessionID,
		Status:    SessionStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sessionID] = rec
	return rec, nil
}

func (s *MemoryStore) CreateTurn(_ context.Context, sessionID string) (TurnRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return TurnRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, fmt.Errorf("memory store is closed")
	}

	now := time.Now().UTC()
	turn := TurnRecord{
		TurnID:    ids.New(),
		SessionID: sessionID,
		Status:    TurnStatusStreaming,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.turns[turn.TurnID] = turn
	return turn, nil
}

func (s *MemoryStore) CompleteTurn(_ context.Context, turnID string, status TurnStatus, errText string) (TurnRecord, bool, error) {
	if !terminalTurnStatus(status) {
		return TurnRecord{}, false, fmt.Errorf("status %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TurnRecord{}, false, fmt.Errorf("memory store is closed")
	}

	turn, ok := s.turns[turnID]
	if !ok {
		return TurnRecord{}, false, ErrNotFound
	}
	if terminalTurnStatus(turn.Status) {
		return turn, false, nil
	}

	now := time.Now().UTC()
	turn.Status = status
	turn.Error = errText
	turn.CompletedAt = now
	turn.UpdatedAt = now
	s.turns[turnID] = turn
	return turn, true, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, rec ChatMessageRecord) (ChatMessageRecord, error) {
	out, err := s.CreateMessages(ctx, []ChatMessageRecord{rec})
	if err != nil {
		return ChatMessageRecord{}, err
	}
	return out[0], nil
}

func (s *MemoryStore) CreateMessages(_ context.Context, recs []ChatMessageRecord) ([]ChatMessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}

	out := make([]ChatMessageRecord, 0, len(recs))
	now := time.Now().UTC()
	for _, rec := range recs {
		if err := validateSessionID(rec.SessionID); err != nil {
			return nil, err
		}
		if rec.MessageID == "" {
			rec.MessageID = ids.New()
		}
		if rec.Parts == nil {
			rec.Parts = []event.Part{}
		}
		s.nextSeq[rec.SessionID]++
		rec.Seq = s.nextSeq[rec.SessionID]
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		s.messages[rec.SessionID] = append(s.messages[rec.SessionID], rec)
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) GetMessagesSince(_ context.Context, sessionID string, afterSeq int64) ([]ChatMessageRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}

	var out []ChatMessageRecord
	for _, rec := range s.messages[sessionID] {
		if rec.Seq > afterSeq {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestMessageID(_ context.Context, sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("memory store is closed")
	}

	msgs := s.messages[sessionID]
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[len(msgs)-1].MessageID, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
