package repository

import (
	"context"
	"fmt"

	"StreakSync/internal/model"
	"StreakSync/internal/streak"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertBatchSize 单条 INSERT 的行数上限
const upsertBatchSize = 500

var playerGameColumns = []string{"player_name", "team_abbr", "game_date", "matchup", "wl", "pts", "reb", "ast", "fg3m", "blk", "stl", "season", "sport", "updated_at"}

var teamGameColumns = []string{"team_abbr", "game_date", "matchup", "wl", "pts", "season", "sport", "updated_at"}

type GameLogRepository struct {
	db *gorm.DB
}

func NewGameLogRepository(db *gorm.DB) *GameLogRepository {
	return &GameLogRepository{db: db}
}

// KnownGameIDs 球员表与球队表都已存在的比赛，任一缺失都会重新拉取
func (r *GameLogRepository) KnownGameIDs(ctx context.Context, sport, season string) (map[string]bool, error) {
	var playerIDs, teamIDs []string
	if err := r.db.WithContext(ctx).Model(&model.PlayerRecentGame{}).
		Where("sport = ? AND season = ?", sport, season).
		Distinct().Pluck("game_id", &playerIDs).Error; err != nil {
		return nil, fmt.Errorf("查询已入库球员比赛失败: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&model.TeamRecentGame{}).
		Where("sport = ? AND season = ?", sport, season).
		Distinct().Pluck("game_id", &teamIDs).Error; err != nil {
		return nil, fmt.Errorf("查询已入库球队比赛失败: %w", err)
	}
	inTeams := make(map[string]bool, len(teamIDs))
	for _, id := range teamIDs {
		inTeams[id] = true
	}
	known := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		if inTeams[id] {
			known[id] = true
		}
	}
	return known, nil
}

// UpsertPlayerGames 按 (player_id, game_id) 幂等写入
func (r *GameLogRepository) UpsertPlayerGames(ctx context.Context, rows []*model.PlayerRecentGame) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "player_id"}, {Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns(playerGameColumns),
	}).CreateInBatches(rows, upsertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("写入player_recent_games失败: %w", err)
	}
	return len(rows), nil
}

// UpsertTeamGames 按 (team_id, game_id) 幂等写入
func (r *GameLogRepository) UpsertTeamGames(ctx context.Context, rows []*model.TeamRecentGame) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "team_id"}, {Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns(teamGameColumns),
	}).CreateInBatches(rows, upsertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("写入team_recent_games失败: %w", err)
	}
	return len(rows), nil
}

// SeasonLog 当前赛季全部比赛记录
func (r *GameLogRepository) SeasonLog(ctx context.Context, sport, season string, et streak.EntityType) ([]streak.GameRecord, error) {
	q := r.db.WithContext(ctx).Where("sport = ? AND season = ?", sport, season).Order("game_date DESC, game_id DESC")
	return r.load(q, et)
}

// EntityLog 单个主体最近 limit 场，limit<=0 不限制
func (r *GameLogRepository) EntityLog(ctx context.Context, sport string, et streak.EntityType, entityID int64, limit int) ([]streak.GameRecord, error) {
	col := "player_id"
	if et == streak.EntityTeam {
		col = "team_id"
	}
	q := r.db.WithContext(ctx).Where("sport = ? AND "+col+" = ?", sport, entityID).Order("game_date DESC, game_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return r.load(q, et)
}

func (r *GameLogRepository) load(q *gorm.DB, et streak.EntityType) ([]streak.GameRecord, error) {
	if et == streak.EntityTeam {
		var rows []model.TeamRecentGame
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("查询team_recent_games失败: %w", err)
		}
		out := make([]streak.GameRecord, 0, len(rows))
		for i := range rows {
			out = append(out, rows[i].ToRecord())
		}
		return out, nil
	}

	var rows []model.PlayerRecentGame
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询player_recent_games失败: %w", err)
	}
	out := make([]streak.GameRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToRecord())
	}
	return out, nil
}
