package model

import (
	"time"

	"StreakSync/internal/streak"
)

// PlayerRecentGame 球员单场技术统计（player_id + game_id 唯一）
type PlayerRecentGame struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Sport      string    `gorm:"column:sport;type:varchar(16);not null;index:idx_prg_season;comment:运动"`
	Season     string    `gorm:"column:season;type:varchar(16);not null;index:idx_prg_season;comment:赛季标签"`
	PlayerID   int64     `gorm:"column:player_id;type:bigint;not null;uniqueIndex:uk_player_game;comment:球员ID"`
	GameID     string    `gorm:"column:game_id;type:varchar(32);not null;uniqueIndex:uk_player_game;comment:比赛ID"`
	PlayerName *string   `gorm:"column:player_name;type:varchar(128);comment:球员名"`
	TeamAbbr   *string   `gorm:"column:team_abbr;type:varchar(8);comment:球队缩写"`
	GameDate   time.Time `gorm:"column:game_date;type:date;not null;index;comment:比赛日"`
	Matchup    *string   `gorm:"column:matchup;type:varchar(32);comment:对阵"`
	WL         *string   `gorm:"column:wl;type:varchar(1);comment:胜负"`
	Pts        *int      `gorm:"column:pts;type:int;comment:得分"`
	Reb        *int      `gorm:"column:reb;type:int;comment:篮板"`
	Ast        *int      `gorm:"column:ast;type:int;comment:助攻"`
	Fg3m       *int      `gorm:"column:fg3m;type:int;comment:三分命中"`
	Blk        *int      `gorm:"column:blk;type:int;comment:盖帽"`
	Stl        *int      `gorm:"column:stl;type:int;comment:抢断"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (PlayerRecentGame) TableName() string { return "player_recent_games" }

// ToRecord 转为计算输入，缺失的统计按 0 处理
func (p *PlayerRecentGame) ToRecord() streak.GameRecord {
	return streak.GameRecord{
		EntityID:   p.PlayerID,
		EntityName: deref(p.PlayerName),
		TeamAbbr:   deref(p.TeamAbbr),
		GameID:     p.GameID,
		GameDate:   streak.DateOf(p.GameDate),
		Matchup:    deref(p.Matchup),
		WL:         deref(p.WL),
		Pts:        derefInt(p.Pts),
		Reb:        derefInt(p.Reb),
		Ast:        derefInt(p.Ast),
		Fg3m:       derefInt(p.Fg3m),
		Blk:        derefInt(p.Blk),
		Stl:        derefInt(p.Stl),
	}
}

// NewPlayerRecentGame 由计算输入构造入库模型
func NewPlayerRecentGame(sport, season string, g streak.GameRecord) *PlayerRecentGame {
	return &PlayerRecentGame{
		Sport:      sport,
		Season:     season,
		PlayerID:   g.EntityID,
		GameID:     g.GameID,
		PlayerName: strPtr(g.EntityName),
		TeamAbbr:   strPtr(g.TeamAbbr),
		GameDate:   streak.DateOf(g.GameDate),
		Matchup:    strPtr(g.Matchup),
		WL:         strPtr(g.WL),
		Pts:        &g.Pts,
		Reb:        &g.Reb,
		Ast:        &g.Ast,
		Fg3m:       &g.Fg3m,
		Blk:        &g.Blk,
		Stl:        &g.Stl,
	}
}

// TeamRecentGame 球队单场数据（team_id + game_id 唯一），pts 为球队总分
type TeamRecentGame struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Sport     string    `gorm:"column:sport;type:varchar(16);not null;index:idx_trg_season;comment:运动"`
	Season    string    `gorm:"column:season;type:varchar(16);not null;index:idx_trg_season;comment:赛季标签"`
	TeamID    int64     `gorm:"column:team_id;type:bigint;not null;uniqueIndex:uk_team_game;comment:球队ID"`
	GameID    string    `gorm:"column:game_id;type:varchar(32);not null;uniqueIndex:uk_team_game;comment:比赛ID"`
	TeamAbbr  *string   `gorm:"column:team_abbr;type:varchar(8);comment:球队缩写"`
	GameDate  time.Time `gorm:"column:game_date;type:date;not null;index;comment:比赛日"`
	Matchup   *string   `gorm:"column:matchup;type:varchar(32);comment:对阵"`
	WL        *string   `gorm:"column:wl;type:varchar(1);comment:胜负"`
	Pts       *int      `gorm:"column:pts;type:int;comment:球队得分"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (TeamRecentGame) TableName() string { return "team_recent_games" }

// ToRecord 球队以缩写作为展示名
func (t *TeamRecentGame) ToRecord() streak.GameRecord {
	abbr := deref(t.TeamAbbr)
	return streak.GameRecord{
		EntityID:   t.TeamID,
		EntityName: abbr,
		TeamAbbr:   abbr,
		GameID:     t.GameID,
		GameDate:   streak.DateOf(t.GameDate),
		Matchup:    deref(t.Matchup),
		WL:         deref(t.WL),
		Pts:        derefInt(t.Pts),
	}
}

// NewTeamRecentGame 由计算输入构造入库模型
func NewTeamRecentGame(sport, season string, g streak.GameRecord) *TeamRecentGame {
	return &TeamRecentGame{
		Sport:    sport,
		Season:   season,
		TeamID:   g.EntityID,
		GameID:   g.GameID,
		TeamAbbr: strPtr(g.TeamAbbr),
		GameDate: streak.DateOf(g.GameDate),
		Matchup:  strPtr(g.Matchup),
		WL:       strPtr(g.WL),
		Pts:      &g.Pts,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
