package store

import "time"

type sessionRow struct {
	SessionID      string    `gorm:"primaryKey;size:64"`
	Title          string    `gorm:"size:512"`
	RepositoryID   string    `gorm:"size:64;index"`
	WorktreeID     string    `gorm:"size:64;index"`
	Status         string    `gorm:"size:32;not null"`
	AgentSessionID string    `gorm:"size:191"`
	Model          string    `gorm:"size:191"`
	InputTokens    int       `gorm:"not null;default:0"`
	OutputTokens   int       `gorm:"not null;default:0"`
	CostUSD        float64   `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toRecord() SessionRecord {
	return SessionRecord{
		SessionID:      r.SessionID,
		Title:          r.Title,
		RepositoryID:   r.RepositoryID,
		WorktreeID:     r.WorktreeID,
		Status:         SessionStatus(r.Status),
		AgentSessionID: r.AgentSessionID,
		Model:          r.Model,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		CostUSD:        r.CostUSD,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func sessionRowFromRecord(rec SessionRecord) sessionRow {
	return sessionRow{
		SessionID:      rec.SessionID,
		Title:          rec.Title,
		RepositoryID:   rec.RepositoryID,
		WorktreeID:     rec.WorktreeID,
		Status:         string(rec.Status),
		AgentSessionID: rec.AgentSessionID,
		Model:          rec.Model,
		InputTokens:    rec.InputTokens,
		OutputTokens:   rec.OutputTokens,
		CostUSD:        rec.CostUSD,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

type turnRow struct {
	TurnID      string     `gorm:"primaryKey;size:64"`
	SessionID   string     `gorm:"size:64;index;not null"`
	Status      string     `gorm:"size:32;not null"`
	Error       string     `gorm:"type:text"`
	StartedAt   time.Time  `gorm:"not null"`
	CompletedAt *time.Time `gorm:"index"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

func (turnRow) TableName() string {
	return "turns"
}

func (r turnRow) toRecord() TurnRecord {
	rec := TurnRecord{
		TurnID:    r.TurnID,
		SessionID: r.SessionID,
		Status:    TurnStatus(r.Status),
		Error:     r.Error,
		StartedAt: r.StartedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.CompletedAt != nil {
		rec.CompletedAt = *r.CompletedAt
	}
	return rec
}

type chatMessageRow struct {
	MessageID string    `gorm:"primaryKey;size:64"`
	SessionID string    `gorm:"size:64;uniqueIndex:idx_messages_session_seq,priority:1;not null"`
	Seq       int64     `gorm:"not null;uniqueIndex:idx_messages_session_seq,priority:2"`
	Role      string    `gorm:"size:16;not null"`
	PartsJSON string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (chatMessageRow) TableName() string {
	return "chat_messages"
}
