package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/carllippert/nuance-server/internal/logging"
	"github.com/carllippert/nuance-server/internal/types"
)

// Message is the row written for every answered utterance.
type Message struct {
	ID                                string         `gorm:"primaryKey;size:36"`
	UserID                            string         `gorm:"index;size:128"`
	SessionID                         string         `gorm:"index;size:36"`
	UtteranceID                       string         `gorm:"size:36"`
	TranscriptionResponseText         string         `gorm:"type:text"`
	ResponseMessageText               string         `gorm:"type:text"`
	MessageInputClassification        string         `gorm:"size:32"`
	MessageInputClassifier            string         `gorm:"size:32"`
	UserInputMachineScoring           *types.Scoring `gorm:"serializer:json"`
	ApplicationResponseMachineScoring *types.Scoring `gorm:"serializer:json"`
	CompletionTokens                  int64
	TotalCompletionTokens             int64
	CompletionAttempts                int
	CurrentSecondsFromGMT             int
	CurrentUserTimezone               string    `gorm:"size:64"`
	TranscriptionModel                string    `gorm:"size:64"`
	LLMModel                          string    `gorm:"size:64"`
	TextToSpeechModel                 string    `gorm:"size:64"`
	CreatedAt                         time.Time `gorm:"index"`
}

func (Message) TableName() string { return "messages" }

// Store persists message records with gorm.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open connects to driver ("postgres", "mysql" or "sqlite") and migrates the
// schema.
func Open(driver, dsn string, log *zap.SugaredLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("persist: unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("persist: connect %s: %w", driver, err)
	}
	s, err := New(db, log)
	if err != nil {
		return nil, err
	}
	logging.OrNop(log).Infow("database connected", "driver", driver)
	return s, nil
}

// New wraps an open handle and migrates the schema.
func New(db *gorm.DB, log *zap.SugaredLogger) (*Store, error) {
	if db == nil {
		return nil, errors.New("persist: nil db")
	}
	if err := db.AutoMigrate(&Message{}); err != nil {
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return &Store{db: db, log: logging.OrNop(log)}, nil
}

func (s *Store) PersistMessage(ctx context.Context, rec *types.MessageRecord) error {
	if rec == nil {
		return errors.New("persist: nil record")
	}
	row := fromRecord(rec)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		metricWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("persist: insert message: %w", err)
	}
	metricWrites.WithLabelValues("ok").Inc()
	rec.ID = row.ID
	return nil
}

// MessageFilter narrows RecentMessages. Empty fields match everything.
type MessageFilter struct {
	UserID    string
	SessionID string
}

// RecentMessages returns matching messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, f MessageFilter, limit int) ([]types.MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	var rows []Message
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("persist: list messages: %w", err)
	}
	out := make([]types.MessageRecord, 0, len(rows))
	for i := range rows {
		out = append(out, toRecord(&rows[i]))
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromRecord(r *types.MessageRecord) Message {
	return Message{
		ID:                                r.ID,
		UserID:                            r.UserID,
		SessionID:                         r.SessionID,
		UtteranceID:                       r.UtteranceID,
		TranscriptionResponseText:         r.TranscriptionResponseText,
		ResponseMessageText:               r.ResponseMessageText,
		MessageInputClassification:        r.MessageInputClassification,
		MessageInputClassifier:            r.MessageInputClassifier,
		UserInputMachineScoring:           r.UserInputMachineScoring,
		ApplicationResponseMachineScoring: r.ApplicationResponseScoring,
		CompletionTokens:                  r.CompletionTokens,
		TotalCompletionTokens:             r.TotalCompletionTokens,
		CompletionAttempts:                r.CompletionAttempts,
		CurrentSecondsFromGMT:             r.CurrentSecondsFromGMT,
		CurrentUserTimezone:               r.CurrentUserTimezone,
		TranscriptionModel:                r.TranscriptionModel,
		LLMModel:                          r.LLMModel,
		TextToSpeechModel:                 r.TextToSpeechModel,
		CreatedAt:                         r.CreatedAt,
	}
}

func toRecord(m *Message) types.MessageRecord {
	return types.MessageRecord{
		ID:                         m.ID,
		UserID:                     m.UserID,
		SessionID:                  m.SessionID,
		UtteranceID:                m.UtteranceID,
		TranscriptionResponseText:  m.TranscriptionResponseText,
		ResponseMessageText:        m.ResponseMessageText,
		MessageInputClassification: m.MessageInputClassification,
		MessageInputClassifier:     m.MessageInputClassifier,
		UserInputMachineScoring:    m.UserInputMachineScoring,
		ApplicationResponseScoring: m.ApplicationResponseMachineScoring,
		CompletionTokens:           m.CompletionTokens,
		TotalCompletionTokens:      m.TotalCompletionTokens,
		CompletionAttempts:         m.CompletionAttempts,
		CurrentSecondsFromGMT:      m.CurrentSecondsFromGMT,
		CurrentUserTimezone:        m.CurrentUserTimezone,
		TranscriptionModel:         m.TranscriptionModel,
		LLMModel:                   m.LLMModel,
		TextToSpeechModel:          m.TextToSpeechModel,
		CreatedAt:                  m.CreatedAt,
	}
}
