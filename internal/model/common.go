package model

import "StreakSync/internal/streak"

// SourceType 上游数据源类型
type SourceType string

const (
	SourceNBACDN SourceType = "nbacdn"
)

// GameLogBatch 一次抓取得到的新比赛记录
type GameLogBatch struct {
	Players      []streak.GameRecord // 每名出场球员一行
	Teams        []streak.GameRecord // 每支球队一行，Pts 为球队得分
	GamesFetched int                 // 成功拉取的 boxscore 数量
	GamesSkipped int                 // 已入库而跳过的完赛场次
	GamesFailed  int                 // 拉取失败的场次
}

// Records 按主体类型取出对应记录
func (b *GameLogBatch) Records(et streak.EntityType) []streak.GameRecord {
	if b == nil {
		return nil
	}
	if et == streak.EntityTeam {
		return b.Teams
	}
	return b.Players
}
