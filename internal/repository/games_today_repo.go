package repository

import (
	"context"
	"fmt"
	"time"

	"StreakSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GamesTodayRepository struct {
	db *gorm.DB
}

func NewGamesTodayRepository(db *gorm.DB) *GamesTodayRepository {
	return &GamesTodayRepository{db: db}
}

// Upsert 按比赛ID覆盖比分与状态
func (r *GamesTodayRepository) Upsert(ctx context.Context, rows []*model.GameToday) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sport", "game_date", "game_time", "home_team_abbr", "away_team_abbr",
			"home_score", "away_score", "status", "updated_at",
		}),
	}).Create(rows).Error
	if err != nil {
		return fmt.Errorf("写入games_today失败: %w", err)
	}
	return nil
}

// ListByDate 指定比赛日的赛程
func (r *GamesTodayRepository) ListByDate(ctx context.Context, sport string, date time.Time) ([]model.GameToday, error) {
	var rows []model.GameToday
	if err := r.db.WithContext(ctx).Where("sport = ? AND game_date = ?", sport, date).
		Order("game_time ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询games_today失败: %w", err)
	}
	return rows, nil
}
