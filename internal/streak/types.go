package streak

import (
	"fmt"
	"strconv"
	"time"
)

// EntityType 连胜主体类型
type EntityType string

const (
	EntityPlayer EntityType = "player"
	EntityTeam   EntityType = "team"
)

// Valid 是否为已知主体类型
func (e EntityType) Valid() bool {
	return e == EntityPlayer || e == EntityTeam
}

// ParseEntityType 解析主体类型，空串返回 false
func ParseEntityType(s string) (EntityType, bool) {
	et := EntityType(s)
	return et, et.Valid()
}

// GameRecord 单个主体单场比赛的原始技术统计（只读输入）
type GameRecord struct {
	EntityID   int64
	EntityName string
	TeamAbbr   string
	GameID     string
	GameDate   time.Time // 比赛日（UTC 零点），仅用于排序
	Matchup    string
	WL         string // W / L，未知为空
	Pts        int
	Reb        int
	Ast        int
	Fg3m       int
	Blk        int
	Stl        int
}

// Won 该场是否获胜
func (g GameRecord) Won() bool {
	return g.WL == "W"
}

// Key 连胜记录的自然主键（同一 sport 内）
type Key struct {
	EntityType EntityType
	EntityID   int64
	Stat       string
	Threshold  float64
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%d-%s-%s", k.EntityType, k.EntityID, k.Stat, FormatThreshold(k.Threshold))
}

// Less 确定性排序：主体 → stat → 阈值
func (k Key) Less(o Key) bool {
	if k.EntityType != o.EntityType {
		return k.EntityType < o.EntityType
	}
	if k.EntityID != o.EntityID {
		return k.EntityID < o.EntityID
	}
	if k.Stat != o.Stat {
		return k.Stat < o.Stat
	}
	return k.Threshold < o.Threshold
}

// FormatThreshold 阈值的紧凑字符串形式（20 而不是 20.000000）
func FormatThreshold(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

// WindowSizes 近 N 场统计窗口
var WindowSizes = []int{5, 10, 15, 20}

// WindowStat 近 N 场命中情况；Games 为 0 时 HitPct 为 nil
type WindowStat struct {
	Size   int
	Hits   int
	Games  int
	HitPct *float64
}

// Record 当前有效的一条连胜记录，每次刷新整体重建
type Record struct {
	Key
	Sport        string
	EntityName   string
	TeamAbbr     string
	StreakLen    int
	StreakStart  time.Time
	LastGame     time.Time
	SeasonWins   int
	SeasonGames  int
	SeasonWinPct float64
	Windows      []WindowStat // 顺序同 WindowSizes
}

// Window 按窗口大小取统计，不存在时返回零值
func (r Record) Window(size int) WindowStat {
	for _, w := range r.Windows {
		if w.Size == size {
			return w
		}
	}
	return WindowStat{Size: size}
}

// Prior 上一轮持久化结果的最小投影，用于事件比对
type Prior struct {
	StreakLen  int
	EntityName string
	TeamAbbr   string
	LastGame   time.Time
}

// Snapshot 上一轮连胜集合
type Snapshot map[Key]Prior

// EventType 连胜状态变化类型
type EventType string

const (
	EventStarted  EventType = "started"
	EventExtended EventType = "extended"
	EventBroken   EventType = "broken"
)

// Event 一次状态变化，只追加不修改
type Event struct {
	Key
	Sport      string
	EntityName string
	TeamAbbr   string
	Type       EventType
	PrevLen    *int // started 时为 nil
	NewLen     *int // broken 时为 nil
	LastGame   *time.Time
}
