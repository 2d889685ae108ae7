package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StreakSync/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StatusRepository struct {
	db *gorm.DB
}

func NewStatusRepository(db *gorm.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Get 不存在时返回 (nil, nil)
func (r *StatusRepository) Get(ctx context.Context, sport, job string) (*model.RefreshStatus, error) {
	var st model.RefreshStatus
	err := r.db.WithContext(ctx).Where("sport = ? AND job = ?", sport, job).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询refresh_status失败: %w", err)
	}
	return &st, nil
}

// List 某运动的全部任务状态
func (r *StatusRepository) List(ctx context.Context, sport string) ([]model.RefreshStatus, error) {
	var rows []model.RefreshStatus
	if err := r.db.WithContext(ctx).Where("sport = ?", sport).Order("job ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询refresh_status失败: %w", err)
	}
	return rows, nil
}

// RecordAttempt 只记录尝试时间与错误，last_run 不变
func (r *StatusRepository) RecordAttempt(ctx context.Context, sport, job string, at time.Time, runErr error) error {
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	row := &model.RefreshStatus{Sport: sport, Job: job, LastAttemptAt: &at, LastError: msg}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sport"}, {Name: "job"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_attempt_at", "last_error"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("更新refresh_status失败: %w", err)
	}
	return nil
}

// RecordSuccess 更新 last_run 与本轮统计
func (r *StatusRepository) RecordSuccess(ctx context.Context, sport, job string, at time.Time, stats interface{}) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("序列化刷新统计失败: %w", err)
	}
	row := &model.RefreshStatus{
		Sport:         sport,
		Job:           job,
		LastRun:       &at,
		LastAttemptAt: &at,
		StatsJSON:     datatypes.JSON(raw),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sport"}, {Name: "job"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run", "last_attempt_at", "last_error", "stats_json"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("更新refresh_status失败: %w", err)
	}
	return nil
}
