package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/ids"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := openGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	return s.db.AutoMigrate(&sessionRow{}, &turnRow{}, &chatMessageRow{})
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return SessionRecord{}, err
	}

	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) UpdateSession(ctx context.Context, rec SessionRecord) error {
	if err := validateSessionID(rec.SessionID); err != nil {
		return err
	}

	rec.UpdatedAt = time.Now().UTC()
	row := sessionRowFromRecord(rec)
	result := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("session_id = ?", rec.SessionID).
		Updates(map[string]any{
			"title":            row.Title,
			"status":           row.Status,
			"agent_session_id": row.AgentSessionID,
			"model":            row.Model,
			"input_tokens":     row.InputTokens,
			"output_tokens":    row.OutputTokens,
			"cost_usd":         row.CostUSD,
			"updated_at":       row.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) EnsureSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return SessionRecord{}, err
	}

	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Take(&row).Error
	if err == nil {
		return row.toRecord(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}

	now := time.Now().UTC()
	rec := SessionRecord{
		SessionID: sessionID,
		Status:    SessionStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created := sessionRowFromRecord(rec)
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		return SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

func (s *GormStore) CreateTurn(ctx context.Context, sessionID string) (TurnRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return TurnRecord{}, err
	}

	now := time.Now().UTC()
	row := turnRow{
		TurnID:    ids.New(),
		SessionID: sessionID,
		Status:    string(TurnStatusStreaming),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return TurnRecord{}, fmt.Errorf("create turn: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) CompleteTurn(ctx context.Context, turnID string, status TurnStatus, errText string) (TurnRecord, bool, error) {
	if !terminalTurnStatus(status) {
		return TurnRecord{}, false, fmt.Errorf("status %q is not terminal", status)
	}

	var out TurnRecord
	finalized := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row turnRow
		if err := tx.Where("turn_id = ?", turnID).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get turn: %w", err)
		}

		if terminalTurnStatus(TurnStatus(row.Status)) {
			out = row.toRecord()
			return nil
		}

		now := time.Now().UTC()
		row.Status = string(status)
		row.Error = errText
		row.CompletedAt = &now
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("complete turn: %w", err)
		}
		out = row.toRecord()
		finalized = true
		return nil
	})
	if err != nil {
		return TurnRecord{}, false, err
	}
	return out, finalized, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, rec ChatMessageRecord) (ChatMessageRecord, error) {
	out, err := s.CreateMessages(ctx, []ChatMessageRecord{rec})
	if err != nil {
		return ChatMessageRecord{}, err
	}
	return out[0], nil
}

func (s *GormStore) CreateMessages(ctx context.Context, recs []ChatMessageRecord) ([]ChatMessageRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	out := make([]ChatMessageRecord, 0, len(recs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			if err := validateSessionID(rec.SessionID); err != nil {
				return err
			}

			var maxSeq int64
			if err := tx.Model(&chatMessageRow{}).
				Where("session_id = ?", rec.SessionID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&maxSeq).Error; err != nil {
				return fmt.Errorf("sequence lookup: %w", err)
			}

			if rec.MessageID == "" {
				rec.MessageID = ids.New()
			}
			if rec.Parts == nil {
				rec.Parts = []event.Part{}
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = time.Now().UTC()
			}
			rec.Seq = maxSeq + 1

			partsJSON, err := json.Marshal(rec.Parts)
			if err != nil {
				return fmt.Errorf("marshal message parts: %w", err)
			}
			row := chatMessageRow{
				MessageID: rec.MessageID,
				SessionID: rec.SessionID,
				Seq:       rec.Seq,
				Role:      string(rec.Role),
				PartsJSON: string(partsJSON),
				CreatedAt: rec.CreatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create message: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetMessagesSince(ctx context.Context, sessionID string, afterSeq int64) ([]ChatMessageRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	var rows []chatMessageRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	out := make([]ChatMessageRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := messageRowToRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) LatestMessageID(ctx context.Context, sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}

	var row chatMessageRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("latest message: %w", err)
	}
	return row.MessageID, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func messageRowToRecord(row chatMessageRow) (ChatMessageRecord, error) {
	var parts []event.Part
	if err := json.Unmarshal([]byte(row.PartsJSON), &parts); err != nil {
		return ChatMessageRecord{}, fmt.Errorf("decode message parts for %s: %w", row.MessageID, err)
	}
	return ChatMessageRecord{
		MessageID: row.MessageID,
		SessionID: row.SessionID,
		Role:      event.Role(row.Role),
		Parts:     parts,
		Seq:       row.Seq,
		CreatedAt: row.CreatedAt,
	}, nil
}
