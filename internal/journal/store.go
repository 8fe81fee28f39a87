// Package journal persists the one-shot markers behind the "no terminal
// status is acted upon twice" rule: consumed payment continuations and fired
// verification completions. Reloading a return URL or re-entering the
// verification surface after completion consults these markers before arming
// any side effect again.
package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vecinoapp/vecino-core/pkg/models"
)

// Store implements the completion journal on gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore migrates the journal tables and returns a store
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&models.PaymentContinuation{}, &models.VerificationCompletion{}); err != nil {
		return nil, fmt.Errorf("migrate journal tables: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// MarkContinuationConsumed records that the continuation for a token fired.
// It returns true only for the first caller; later calls (double confirm,
// page re-entry) get false.
func (s *Store) MarkContinuationConsumed(ctx context.Context, token string, purpose models.PaymentPurpose) (bool, error) {
	record := &models.PaymentContinuation{
		Token:      token,
		Purpose:    string(purpose),
		ConsumedAt: time.Now(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if result.Error != nil {
		return false, fmt.Errorf("mark continuation consumed: %w", result.Error)
	}
	first := result.RowsAffected == 1
	if first {
		s.logger.Info("Continuation consumed",
			zap.String("token", token),
			zap.String("purpose", string(purpose)))
	}
	return first, nil
}

// ContinuationConsumed reports whether the continuation for a token has
// already fired.
func (s *Store) ContinuationConsumed(ctx context.Context, token string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PaymentContinuation{}).
		Where("token = ?", token).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check continuation: %w", err)
	}
	return count > 0, nil
}

// MarkVerificationCompleted records that the completion callback for a
// subject fired. True only on first call.
func (s *Store) MarkVerificationCompleted(ctx context.Context, subject string) (bool, error) {
	record := &models.VerificationCompletion{
		Subject:     subject,
		CompletedAt: time.Now(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if result.Error != nil {
		return false, fmt.Errorf("mark verification completed: %w", result.Error)
	}
	first := result.RowsAffected == 1
	if first {
		s.logger.Info("Verification completion recorded", zap.String("subject", subject))
	}
	return first, nil
}

// VerificationCompleted reports whether the completion callback for a
// subject already fired.
func (s *Store) VerificationCompleted(ctx context.Context, subject string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.VerificationCompletion{}).
		Where("subject = ?", subject).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check verification completion: %w", err)
	}
	return count > 0, nil
}
