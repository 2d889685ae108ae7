package repository

import (
	"context"
	"fmt"

	"StreakSync/internal/model"
	"StreakSync/internal/streak"

	"gorm.io/gorm"
)

// EventQuery 事件列表条件
type EventQuery struct {
	Sport      string
	EntityType streak.EntityType
	EntityID   int64
	Limit      int
}

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append 只追加，不更新不删除
func (r *EventRepository) Append(ctx context.Context, rows []*model.StreakEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(rows, upsertBatchSize).Error; err != nil {
		return fmt.Errorf("写入streak_events失败: %w", err)
	}
	return nil
}

// Recent 最新事件在前，同一批次内保持产出顺序
func (r *EventRepository) Recent(ctx context.Context, q EventQuery) ([]model.StreakEvent, error) {
	db := r.db.WithContext(ctx).Model(&model.StreakEvent{})
	if q.Sport != "" {
		db = db.Where("sport = ?", q.Sport)
	}
	if q.EntityType != "" {
		db = db.Where("entity_type = ?", string(q.EntityType))
	}
	if q.EntityID != 0 {
		db = db.Where("entity_id = ?", q.EntityID)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var rows []model.StreakEvent
	if err := db.Order("created_at DESC, seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询streak_events失败: %w", err)
	}
	return rows, nil
}
