package repository

import (
	"context"
	"fmt"
	"strings"

	"StreakSync/internal/model"
	"StreakSync/internal/streak"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var streakKeyColumns = []clause.Column{
	{Name: "sport"}, {Name: "entity_type"}, {Name: "entity_id"}, {Name: "stat"}, {Name: "threshold"},
}

var streakValueColumns = []string{
	"entity_name", "team_abbr", "streak_len", "streak_start", "last_game", "streak_win_pct",
	"season_wins", "season_games", "season_win_pct",
	"last5_hits", "last5_games", "last5_hit_pct",
	"last10_hits", "last10_games", "last10_hit_pct",
	"last15_hits", "last15_games", "last15_hit_pct",
	"last20_hits", "last20_games", "last20_hit_pct",
	"updated_at",
}

// StreakQuery 列表查询条件，零值字段不参与过滤
type StreakQuery struct {
	Sport        string
	EntityType   streak.EntityType
	EntityID     int64
	Stat         string
	MinStreak    int
	MinSeasonPct float64
	MinThreshold *float64
	MaxThreshold *float64
	Team         string
	Search       string
}

type StreakRepository struct {
	db *gorm.DB
}

func NewStreakRepository(db *gorm.DB) *StreakRepository {
	return &StreakRepository{db: db}
}

// Snapshot 上一轮的连胜集合，作为事件判定基准
func (r *StreakRepository) Snapshot(ctx context.Context, sport string, et streak.EntityType) (streak.Snapshot, error) {
	var rows []model.Streak
	if err := r.db.WithContext(ctx).
		Select("entity_type", "entity_id", "stat", "threshold", "streak_len", "entity_name", "team_abbr", "last_game").
		Where("sport = ? AND entity_type = ?", sport, string(et)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("读取连胜快照失败: %w", err)
	}
	snap := make(streak.Snapshot, len(rows))
	for i := range rows {
		s := &rows[i]
		abbr := ""
		if s.TeamAbbr != nil {
			abbr = *s.TeamAbbr
		}
		snap[s.Key()] = streak.Prior{
			StreakLen:  s.StreakLen,
			EntityName: s.EntityName,
			TeamAbbr:   abbr,
			LastGame:   streak.DateOf(s.LastGame),
		}
	}
	return snap, nil
}

// DeleteByEntityType 删除某类主体的全部连胜
func (r *StreakRepository) DeleteByEntityType(ctx context.Context, sport string, et streak.EntityType) (int64, error) {
	res := r.db.WithContext(ctx).Where("sport = ? AND entity_type = ?", sport, string(et)).Delete(&model.Streak{})
	if res.Error != nil {
		return 0, fmt.Errorf("删除旧连胜失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// InsertBatch 写入一批连胜
func (r *StreakRepository) InsertBatch(ctx context.Context, rows []*model.Streak) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(rows).Error; err != nil {
		return fmt.Errorf("写入连胜失败: %w", err)
	}
	return nil
}

// ReplaceDiff 单事务内按 key upsert 新集合并删除不在新集合中的 key，读者不会看到空表
func (r *StreakRepository) ReplaceDiff(ctx context.Context, sport string, et streak.EntityType, rows []*model.Streak) error {
	keep := make(map[streak.Key]struct{}, len(rows))
	for _, s := range rows {
		keep[s.Key()] = struct{}{}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   streakKeyColumns,
				DoUpdates: clause.AssignmentColumns(streakValueColumns),
			}).CreateInBatches(rows, upsertBatchSize).Error; err != nil {
				return fmt.Errorf("upsert连胜失败: %w", err)
			}
		}

		var existing []model.Streak
		if err := tx.Select("id", "entity_type", "entity_id", "stat", "threshold").
			Where("sport = ? AND entity_type = ?", sport, string(et)).
			Find(&existing).Error; err != nil {
			return fmt.Errorf("读取现有连胜失败: %w", err)
		}
		var stale []uint64
		for i := range existing {
			if _, ok := keep[existing[i].Key()]; !ok {
				stale = append(stale, existing[i].ID)
			}
		}
		for start := 0; start < len(stale); start += upsertBatchSize {
			end := min(start+upsertBatchSize, len(stale))
			if err := tx.Where("id IN ?", stale[start:end]).Delete(&model.Streak{}).Error; err != nil {
				return fmt.Errorf("删除失效连胜失败: %w", err)
			}
		}
		return nil
	})
}

// List 按条件查询，默认按连胜长度降序
func (r *StreakRepository) List(ctx context.Context, q StreakQuery) ([]model.Streak, error) {
	db := r.db.WithContext(ctx).Model(&model.Streak{})
	if q.Sport != "" {
		db = db.Where("sport = ?", q.Sport)
	}
	if q.EntityType != "" {
		db = db.Where("entity_type = ?", string(q.EntityType))
	}
	if q.EntityID != 0 {
		db = db.Where("entity_id = ?", q.EntityID)
	}
	if q.Stat != "" {
		db = db.Where("stat = ?", strings.ToUpper(q.Stat))
	}
	if q.MinStreak > 0 {
		db = db.Where("streak_len >= ?", q.MinStreak)
	}
	if q.MinSeasonPct > 0 {
		db = db.Where("season_win_pct >= ?", q.MinSeasonPct)
	}
	if q.MinThreshold != nil {
		db = db.Where("threshold >= ?", *q.MinThreshold)
	}
	if q.MaxThreshold != nil {
		db = db.Where("threshold <= ?", *q.MaxThreshold)
	}
	if q.Team != "" {
		db = db.Where("UPPER(team_abbr) = ?", strings.ToUpper(q.Team))
	}
	if q.Search != "" {
		like := "%" + strings.ToLower(q.Search) + "%"
		if q.EntityType == streak.EntityTeam {
			db = db.Where("LOWER(team_abbr) LIKE ?", like)
		} else {
			db = db.Where("LOWER(entity_name) LIKE ?", like)
		}
	}

	var rows []model.Streak
	if err := db.Order("streak_len DESC, entity_id ASC, stat ASC, threshold ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询连胜失败: %w", err)
	}
	return rows, nil
}

// Count 某类主体当前连胜数
func (r *StreakRepository) Count(ctx context.Context, sport string, et streak.EntityType) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Streak{}).
		Where("sport = ? AND entity_type = ?", sport, string(et)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计连胜失败: %w", err)
	}
	return n, nil
}
