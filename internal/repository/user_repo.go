package repository

import (
	"context"
	"errors"
	"fmt"

	"StreakSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserFlagRepository struct {
	db *gorm.DB
}

func NewUserFlagRepository(db *gorm.DB) *UserFlagRepository {
	return &UserFlagRepository{db: db}
}

// IsAdmin 无记录视为非管理员
func (r *UserFlagRepository) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var f model.UserFlag
	err := r.db.WithContext(ctx).Select("user_id", "is_admin").Where("user_id = ?", userID).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询user_flags失败: %w", err)
	}
	return f.IsAdmin, nil
}

// SetAdmin 设置或取消管理员
func (r *UserFlagRepository) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	row := &model.UserFlag{UserID: userID, IsAdmin: isAdmin}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_admin", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("更新user_flags失败: %w", err)
	}
	return nil
}
