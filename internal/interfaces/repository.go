package interfaces

import (
	"context"
	"time"

	"StreakSync/internal/model"
	"StreakSync/internal/streak"
)

// GameLogRepository 比赛日志存取
type GameLogRepository interface {
	KnownGameIDs(ctx context.Context, sport, season string) (map[string]bool, error)
	UpsertPlayerGames(ctx context.Context, rows []*model.PlayerRecentGame) (int, error)
	UpsertTeamGames(ctx context.Context, rows []*model.TeamRecentGame) (int, error)
	SeasonLog(ctx context.Context, sport, season string, et streak.EntityType) ([]streak.GameRecord, error)
	EntityLog(ctx context.Context, sport string, et streak.EntityType, entityID int64, limit int) ([]streak.GameRecord, error)
}

// StreakRepository 当前连胜表
type StreakRepository interface {
	Snapshot(ctx context.Context, sport string, et streak.EntityType) (streak.Snapshot, error)
	DeleteByEntityType(ctx context.Context, sport string, et streak.EntityType) (int64, error)
	InsertBatch(ctx context.Context, rows []*model.Streak) error
	ReplaceDiff(ctx context.Context, sport string, et streak.EntityType, rows []*model.Streak) error
}

// EventRepository 事件流水
type EventRepository interface {
	Append(ctx context.Context, rows []*model.StreakEvent) error
}

// StatusRepository 刷新状态
type StatusRepository interface {
	Get(ctx context.Context, sport, job string) (*model.RefreshStatus, error)
	RecordAttempt(ctx context.Context, sport, job string, at time.Time, runErr error) error
	RecordSuccess(ctx context.Context, sport, job string, at time.Time, stats interface{}) error
}

// GamesTodayRepository 今日赛程
type GamesTodayRepository interface {
	Upsert(ctx context.Context, rows []*model.GameToday) error
}
