package interfaces

import (
	"context"

	"StreakSync/internal/model"
)

// GameLogSource 所有上游数据源必须实现的核心接口
type GameLogSource interface {
	// GetName 数据源名称
	GetName() string
	// GetType 数据源类型，需与配置中的 key 一致
	GetType() model.SourceType
	// FetchScoreboard 今日赛程
	FetchScoreboard(ctx context.Context) ([]model.NBAScoreGame, error)
	// FetchCompletedGames 拉取完赛且不在 known 中的比赛
	FetchCompletedGames(ctx context.Context, known map[string]bool) (*model.GameLogBatch, error)
}
