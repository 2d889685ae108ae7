package model

import (
	"time"

	"gorm.io/datatypes"
)

// 刷新任务类型
const (
	JobStreaks = "streaks"
	JobGames   = "games"
)

// RefreshStatus 每个 (sport, job) 一行，记录最近一次成功/尝试
type RefreshStatus struct {
	Sport         string         `gorm:"column:sport;type:varchar(16);primaryKey;comment:运动"`
	Job           string         `gorm:"column:job;type:varchar(16);primaryKey;comment:任务类型 streaks/games"`
	LastRun       *time.Time     `gorm:"column:last_run;type:timestamp;comment:最近成功时间"`
	LastAttemptAt *time.Time     `gorm:"column:last_attempt_at;type:timestamp;comment:最近尝试时间"`
	LastError     *string        `gorm:"column:last_error;type:text;comment:最近错误信息"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:jsonb;comment:本轮统计JSON"`
}

func (RefreshStatus) TableName() string { return "refresh_status" }

// GameToday 今日赛程
type GameToday struct {
	ID           string    `gorm:"column:id;type:varchar(32);primaryKey;comment:比赛ID"`
	Sport        string    `gorm:"column:sport;type:varchar(16);not null;comment:运动"`
	GameDate     time.Time `gorm:"column:game_date;type:date;not null;index;comment:比赛日"`
	GameTime     *string   `gorm:"column:game_time;type:varchar(32);comment:开赛时间（美东）"`
	HomeTeamAbbr *string   `gorm:"column:home_team_abbr;type:varchar(8);comment:主队"`
	AwayTeamAbbr *string   `gorm:"column:away_team_abbr;type:varchar(8);comment:客队"`
	HomeScore    *int      `gorm:"column:home_score;type:int;comment:主队得分"`
	AwayScore    *int      `gorm:"column:away_score;type:int;comment:客队得分"`
	Status       *string   `gorm:"column:status;type:varchar(32);comment:比赛状态文本"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (GameToday) TableName() string { return "games_today" }

// UserFlag 用户标记，is_admin 决定能否手动触发刷新
type UserFlag struct {
	UserID    string    `gorm:"column:user_id;type:varchar(64);primaryKey;comment:用户ID"`
	IsAdmin   bool      `gorm:"column:is_admin;type:boolean;default:false;comment:是否管理员"`
	IsPremium bool      `gorm:"column:is_premium;type:boolean;default:false;comment:是否付费用户"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;autoCreateTime;comment:创建时间"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;autoUpdateTime;comment:更新时间"`
}

func (UserFlag) TableName() string { return "user_flags" }

// AllModels AutoMigrate 顺序
func AllModels() []interface{} {
	return []interface{}{
		&PlayerRecentGame{},
		&TeamRecentGame{},
		&Streak{},
		&StreakEvent{},
		&RefreshStatus{},
		&GameToday{},
		&UserFlag{},
	}
}
