package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tyana/internal/model"
)

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create ignores a duplicate event id so redelivered events are recorded once.
func (r *UsageRepository) Create(ctx context.Context, usage *model.Usage) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(usage).Error; err != nil {
		return fmt.Errorf("create usage failed: %w", err)
	}
	return nil
}

// CountSince counts the user's answered exchanges created at or after since.
func (r *UsageRepository) CountSince(ctx context.Context, userID uint, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Usage{}).
		Where("user_id = ? AND created_at >= ? AND status <> ?", userID, since, model.UsageStatusEmpty).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count usage failed: %w", err)
	}
	return count, nil
}
