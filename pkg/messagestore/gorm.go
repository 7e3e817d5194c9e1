package messagestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/pkg/database"
)

type messageRow struct {
	ID            string    `gorm:"primaryKey;size:36"`
	SenderID      string    `gorm:"size:128;index:idx_chat_pair,priority:1"`
	RecipientID   string    `gorm:"size:128;index:idx_chat_pair,priority:2"`
	Body          string    `gorm:"type:text"`
	CorrelationID string    `gorm:"size:64"`
	CreatedAt     time.Time `gorm:"index"`
}

func (messageRow) TableName() string { return "chat_messages" }

func (r *messageRow) record() Record {
	return Record{
		ID:            r.ID,
		From:          r.SenderID,
		To:            r.RecipientID,
		Message:       r.Body,
		CorrelationID: r.CorrelationID,
		Timestamp:     r.CreatedAt,
	}
}

// GormStore is a Store backed by any GORM dialect.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := database.AutoMigrate(db, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate chat_messages: %w", err)
	}
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Append stores a message and returns the record with its id and server timestamp.
func (s *GormStore) Append(ctx context.Context, from, to, message, correlationID string) (*Record, error) {
	row := &messageRow{
		ID:            uuid.NewString(),
		SenderID:      from,
		RecipientID:   to,
		Body:          message,
		CorrelationID: correlationID,
		CreatedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

// Query returns every message exchanged between userA and userB in either
// direction, oldest first.
func (s *GormStore) Query(ctx context.Context, userA, userB string) ([]Record, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", userA, userB, userB, userA).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].record())
	}
	return records, nil
}

// Get returns a single message by id.
func (s *GormStore) Get(ctx context.Context, id string) (*Record, error) {
	var row messageRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	rec := row.record()
	return &rec, nil
}
