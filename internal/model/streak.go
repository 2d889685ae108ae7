package model

import (
	"time"

	"StreakSync/internal/streak"
)

// Streak 当前有效连胜（每轮按 sport + entity_type 整体替换）
type Streak struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Sport        string    `gorm:"column:sport;type:varchar(16);not null;uniqueIndex:uk_streak_key,priority:1;comment:运动"`
	EntityType   string    `gorm:"column:entity_type;type:varchar(16);not null;uniqueIndex:uk_streak_key,priority:2;comment:主体类型 player/team"`
	EntityID     int64     `gorm:"column:entity_id;type:bigint;not null;uniqueIndex:uk_streak_key,priority:3;comment:球员或球队ID"`
	Stat         string    `gorm:"column:stat;type:varchar(16);not null;uniqueIndex:uk_streak_key,priority:4;comment:指标"`
	Threshold    float64   `gorm:"column:threshold;type:numeric(10,2);not null;uniqueIndex:uk_streak_key,priority:5;comment:阈值"`
	EntityName   string    `gorm:"column:entity_name;type:varchar(128);not null;comment:展示名"`
	TeamAbbr     *string   `gorm:"column:team_abbr;type:varchar(8);comment:球队缩写"`
	StreakLen    int       `gorm:"column:streak_len;type:int;not null;index;comment:当前连续命中场数"`
	StreakStart  time.Time `gorm:"column:streak_start;type:date;not null;comment:连胜开始日"`
	LastGame     time.Time `gorm:"column:last_game;type:date;not null;comment:最近一场比赛日"`
	StreakWinPct float64   `gorm:"column:streak_win_pct;type:numeric(6,2);default:100;comment:连胜期命中率（恒为100）"`
	SeasonWins   int       `gorm:"column:season_wins;type:int;not null;comment:赛季命中场数"`
	SeasonGames  int       `gorm:"column:season_games;type:int;not null;comment:赛季场数"`
	SeasonWinPct float64   `gorm:"column:season_win_pct;type:numeric(6,2);not null;index;comment:赛季命中率"`
	Last5Hits    int       `gorm:"column:last5_hits;type:int;comment:近5场命中"`
	Last5Games   int       `gorm:"column:last5_games;type:int;comment:近5场场数"`
	Last5HitPct  *float64  `gorm:"column:last5_hit_pct;type:numeric(6,2);comment:近5场命中率"`
	Last10Hits   int       `gorm:"column:last10_hits;type:int;comment:近10场命中"`
	Last10Games  int       `gorm:"column:last10_games;type:int;comment:近10场场数"`
	Last10HitPct *float64  `gorm:"column:last10_hit_pct;type:numeric(6,2);comment:近10场命中率"`
	Last15Hits   int       `gorm:"column:last15_hits;type:int;comment:近15场命中"`
	Last15Games  int       `gorm:"column:last15_games;type:int;comment:近15场场数"`
	Last15HitPct *float64  `gorm:"column:last15_hit_pct;type:numeric(6,2);comment:近15场命中率"`
	Last20Hits   int       `gorm:"column:last20_hits;type:int;comment:近20场命中"`
	Last20Games  int       `gorm:"column:last20_games;type:int;comment:近20场场数"`
	Last20HitPct *float64  `gorm:"column:last20_hit_pct;type:numeric(6,2);comment:近20场命中率"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (Streak) TableName() string { return "streaks" }

// NewStreak 计算结果 → 入库模型
func NewStreak(r streak.Record) *Streak {
	s := &Streak{
		Sport:        r.Sport,
		EntityType:   string(r.EntityType),
		EntityID:     r.EntityID,
		Stat:         r.Stat,
		Threshold:    r.Threshold,
		EntityName:   r.EntityName,
		TeamAbbr:     strPtr(r.TeamAbbr),
		StreakLen:    r.StreakLen,
		StreakStart:  r.StreakStart,
		LastGame:     r.LastGame,
		StreakWinPct: 100,
		SeasonWins:   r.SeasonWins,
		SeasonGames:  r.SeasonGames,
		SeasonWinPct: r.SeasonWinPct,
	}
	w := r.Window(5)
	s.Last5Hits, s.Last5Games, s.Last5HitPct = w.Hits, w.Games, w.HitPct
	w = r.Window(10)
	s.Last10Hits, s.Last10Games, s.Last10HitPct = w.Hits, w.Games, w.HitPct
	w = r.Window(15)
	s.Last15Hits, s.Last15Games, s.Last15HitPct = w.Hits, w.Games, w.HitPct
	w = r.Window(20)
	s.Last20Hits, s.Last20Games, s.Last20HitPct = w.Hits, w.Games, w.HitPct
	return s
}

// Key 自然主键
func (s *Streak) Key() streak.Key {
	return streak.Key{
		EntityType: streak.EntityType(s.EntityType),
		EntityID:   s.EntityID,
		Stat:       s.Stat,
		Threshold:  s.Threshold,
	}
}

// StreakEvent 连胜状态变化流水，只追加
type StreakEvent struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey;comment:UUID"`
	RunID         string     `gorm:"column:run_id;type:varchar(36);index;comment:产生该事件的刷新批次"`
	Seq           int        `gorm:"column:seq;type:int;not null;default:0;comment:批次内序号"`
	Sport         string     `gorm:"column:sport;type:varchar(16);not null;index:idx_event_recent,priority:1;comment:运动"`
	EntityType    string     `gorm:"column:entity_type;type:varchar(16);not null;comment:主体类型"`
	EntityID      int64      `gorm:"column:entity_id;type:bigint;not null;index;comment:球员或球队ID"`
	EntityName    *string    `gorm:"column:entity_name;type:varchar(128);comment:展示名"`
	TeamAbbr      *string    `gorm:"column:team_abbr;type:varchar(8);comment:球队缩写"`
	Stat          string     `gorm:"column:stat;type:varchar(16);not null;comment:指标"`
	Threshold     float64    `gorm:"column:threshold;type:numeric(10,2);not null;comment:阈值"`
	EventType     string     `gorm:"column:event_type;type:varchar(16);not null;comment:started/extended/broken"`
	PrevStreakLen *int       `gorm:"column:prev_streak_len;type:int;comment:变化前长度"`
	NewStreakLen  *int       `gorm:"column:new_streak_len;type:int;comment:变化后长度"`
	LastGame      *time.Time `gorm:"column:last_game;type:date;comment:最近一场比赛日"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamp;not null;index:idx_event_recent,priority:2;comment:创建时间"`
}

func (StreakEvent) TableName() string { return "streak_events" }

// NewStreakEvent 计算事件 → 入库模型，seq 保留同一批次内的产出顺序
func NewStreakEvent(id, runID string, seq int, e streak.Event, createdAt time.Time) *StreakEvent {
	return &StreakEvent{
		ID:            id,
		RunID:         runID,
		Seq:           seq,
		Sport:         e.Sport,
		EntityType:    string(e.EntityType),
		EntityID:      e.EntityID,
		EntityName:    strPtr(e.EntityName),
		TeamAbbr:      strPtr(e.TeamAbbr),
		Stat:          e.Stat,
		Threshold:     e.Threshold,
		EventType:     string(e.Type),
		PrevStreakLen: e.PrevLen,
		NewStreakLen:  e.NewLen,
		LastGame:      e.LastGame,
		CreatedAt:     createdAt,
	}
}
