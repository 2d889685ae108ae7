package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"StreakSync/internal/model"
	"StreakSync/internal/repository"
	"StreakSync/internal/streak"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 排序方式
const (
	SortStreak    = "streak"
	SortSeason    = "season"
	SortL10       = "l10"
	SortRecent    = "recent"
	SortThreshold = "threshold"
	SortBestBets  = "best_bets"
)

// DefaultEventLimit 事件列表默认（也是最大）条数
const DefaultEventLimit = 200

// minThresholds 非高级模式下隐藏的低阈值（仅球员）
var minThresholds = map[string]float64{
	"PTS": 5,
	"REB": 4,
	"AST": 2,
	"3PM": 1,
}

// StreakListParams 列表查询参数
type StreakListParams struct {
	EntityType   streak.EntityType
	Stat         string
	MinStreak    int
	MinSeasonPct float64
	MinThreshold *float64
	MaxThreshold *float64
	Team         string
	Search       string
	Sort         string
	Advanced     bool // true 时不隐藏低阈值
	KeepAll      bool // true 时不按 主体+指标 去重
	BestBets     bool
	Limit        int
}

// StreakView 对外展示的连胜卡片
type StreakView struct {
	ID           string     `json:"id"`
	Sport        string     `json:"sport"`
	EntityType   string     `json:"entity_type"`
	EntityID     int64      `json:"entity_id"`
	EntityName   string     `json:"entity_name"`
	TeamAbbr     *string    `json:"team_abbr"`
	Stat         string     `json:"stat"`
	Threshold    float64    `json:"threshold"`
	StreakLen    int        `json:"streak_len"`
	StreakStart  string     `json:"streak_start"`
	LastGame     string     `json:"last_game"`
	StreakWinPct float64    `json:"streak_win_pct"`
	SeasonWins   int        `json:"season_wins"`
	SeasonGames  int        `json:"season_games"`
	SeasonWinPct float64    `json:"season_win_pct"`
	Last5Hits    int        `json:"last5_hits"`
	Last5Games   int        `json:"last5_games"`
	Last5HitPct  *float64   `json:"last5_hit_pct"`
	Last10Hits   int        `json:"last10_hits"`
	Last10Games  int        `json:"last10_games"`
	Last10HitPct *float64   `json:"last10_hit_pct"`
	Last15Hits   int        `json:"last15_hits"`
	Last15Games  int        `json:"last15_games"`
	Last15HitPct *float64   `json:"last15_hit_pct"`
	Last20Hits   int        `json:"last20_hits"`
	Last20Games  int        `json:"last20_games"`
	Last20HitPct *float64   `json:"last20_hit_pct"`
	BestBetScore *float64   `json:"best_bet_score,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// EventView 对外展示的事件
type EventView struct {
	ID            string  `json:"id"`
	RunID         string  `json:"run_id"`
	Sport         string  `json:"sport"`
	EntityType    string  `json:"entity_type"`
	EntityID      int64   `json:"entity_id"`
	EntityName    *string `json:"entity_name"`
	TeamAbbr      *string `json:"team_abbr"`
	Stat          string  `json:"stat"`
	Threshold     float64 `json:"threshold"`
	EventType     string  `json:"event_type"`
	PrevStreakLen *int    `json:"prev_streak_len"`
	NewStreakLen  *int    `json:"new_streak_len"`
	LastGame      *string `json:"last_game"`
	CreatedAt     string  `json:"created_at"`
}

// GameView 最近比赛
type GameView struct {
	GameID   string `json:"game_id"`
	GameDate string `json:"game_date"`
	Matchup  string `json:"matchup"`
	WL       string `json:"wl"`
	Pts      int    `json:"pts"`
	Reb      int    `json:"reb"`
	Ast      int    `json:"ast"`
	Fg3m     int    `json:"fg3m"`
	Blk      int    `json:"blk"`
	Stl      int    `json:"stl"`
}

// EntityDetail 单个主体的全部连胜、最近比赛与事件
type EntityDetail struct {
	EntityType  string       `json:"entity_type"`
	EntityID    int64        `json:"entity_id"`
	EntityName  string       `json:"entity_name"`
	TeamAbbr    string       `json:"team_abbr"`
	Streaks     []StreakView `json:"streaks"`
	RecentGames []GameView   `json:"recent_games"`
	Events      []EventView  `json:"events"`
}

// JobStatus 单个任务的刷新状态与新鲜度
type JobStatus struct {
	Job           string     `json:"job"`
	LastRun       *time.Time `json:"last_run"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	LastError     *string    `json:"last_error"`
	Stale         bool       `json:"stale"`
	HoursSince    *float64   `json:"hours_since"`
	Stats         any        `json:"stats,omitempty"`
}

// StatusView /api/refresh-status
type StatusView struct {
	Sport           string      `json:"sport"`
	Season          string      `json:"season"`
	StaleAfterHours float64     `json:"stale_after_hours"`
	Running         State       `json:"state"`
	Jobs            []JobStatus `json:"jobs"`
}

// QueryService 只读查询
type QueryService struct {
	streaks  *repository.StreakRepository
	events   *repository.EventRepository
	gameLogs *repository.GameLogRepository
	status   *repository.StatusRepository
	refresh  *RefreshService
	logger   *logrus.Logger
}

func NewQueryService(streaks *repository.StreakRepository, events *repository.EventRepository, gameLogs *repository.GameLogRepository,
	status *repository.StatusRepository, refresh *RefreshService, logger *logrus.Logger) *QueryService {
	return &QueryService{
		streaks:  streaks,
		events:   events,
		gameLogs: gameLogs,
		status:   status,
		refresh:  refresh,
		logger:   logger,
	}
}

// ListStreaks 查询 → 低阈值过滤 → 去重 → Best Bets → 排序 → 截断
func (s *QueryService) ListStreaks(ctx context.Context, p StreakListParams) ([]StreakView, error) {
	rc := s.refresh.RunContext()
	rows, err := s.streaks.List(ctx, repository.StreakQuery{
		Sport:        rc.Sport,
		EntityType:   p.EntityType,
		Stat:         p.Stat,
		MinStreak:    p.MinStreak,
		MinSeasonPct: p.MinSeasonPct,
		MinThreshold: p.MinThreshold,
		MaxThreshold: p.MaxThreshold,
		Team:         p.Team,
		Search:       p.Search,
	})
	if err != nil {
		return nil, err
	}

	if !p.Advanced {
		rows = filterLowThresholds(rows)
	}
	if !p.KeepAll {
		rows = DedupeBest(rows)
	}
	if p.BestBets {
		rows = filterBestBets(rows)
	}

	sortBy := p.Sort
	if sortBy == "" && p.BestBets {
		sortBy = SortBestBets
	}
	SortStreaks(rows, sortBy)

	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	out := make([]StreakView, 0, len(rows))
	for i := range rows {
		v := toStreakView(&rows[i])
		if p.BestBets || sortBy == SortBestBets {
			score := BestBetScore(&rows[i])
			v.BestBetScore = &score
		}
		out = append(out, v)
	}
	return out, nil
}

// EntityStreaks 单个主体详情
func (s *QueryService) EntityStreaks(ctx context.Context, et streak.EntityType, entityID int64, games int) (*EntityDetail, error) {
	rc := s.refresh.RunContext()
	rows, err := s.streaks.List(ctx, repository.StreakQuery{Sport: rc.Sport, EntityType: et, EntityID: entityID})
	if err != nil {
		return nil, err
	}
	SortStreaks(rows, SortStreak)

	log, err := s.gameLogs.EntityLog(ctx, rc.Sport, et, entityID, games)
	if err != nil {
		return nil, err
	}
	evs, err := s.events.Recent(ctx, repository.EventQuery{Sport: rc.Sport, EntityType: et, EntityID: entityID, Limit: 50})
	if err != nil {
		return nil, err
	}

	d := &EntityDetail{
		EntityType:  string(et),
		EntityID:    entityID,
		Streaks:     make([]StreakView, 0, len(rows)),
		RecentGames: make([]GameView, 0, len(log)),
		Events:      make([]EventView, 0, len(evs)),
	}
	for i := range rows {
		d.Streaks = append(d.Streaks, toStreakView(&rows[i]))
	}
	for _, g := range log {
		d.RecentGames = append(d.RecentGames, GameView{
			GameID:   g.GameID,
			GameDate: g.GameDate.Format(time.DateOnly),
			Matchup:  g.Matchup,
			WL:       g.WL,
			Pts:      g.Pts,
			Reb:      g.Reb,
			Ast:      g.Ast,
			Fg3m:     g.Fg3m,
			Blk:      g.Blk,
			Stl:      g.Stl,
		})
	}
	for i := range evs {
		d.Events = append(d.Events, toEventView(&evs[i]))
	}

	switch {
	case len(log) > 0:
		d.EntityName, d.TeamAbbr = log[0].EntityName, log[0].TeamAbbr
	case len(rows) > 0:
		d.EntityName = rows[0].EntityName
		if rows[0].TeamAbbr != nil {
			d.TeamAbbr = *rows[0].TeamAbbr
		}
	default:
		return nil, fmt.Errorf("%s %d 无数据: %w", et, entityID, ErrNotFound)
	}
	return d, nil
}

// RecentEvents 最新事件，limit 默认且最多 200
func (s *QueryService) RecentEvents(ctx context.Context, et streak.EntityType, entityID int64, limit int) ([]EventView, error) {
	if limit <= 0 || limit > DefaultEventLimit {
		limit = DefaultEventLimit
	}
	rows, err := s.events.Recent(ctx, repository.EventQuery{
		Sport:      s.refresh.RunContext().Sport,
		EntityType: et,
		EntityID:   entityID,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]EventView, 0, len(rows))
	for i := range rows {
		out = append(out, toEventView(&rows[i]))
	}
	return out, nil
}

// Status 各任务最近一次成功时间与是否过期
func (s *QueryService) Status(ctx context.Context) (*StatusView, error) {
	rc := s.refresh.RunContext()
	rows, err := s.status.List(ctx, rc.Sport)
	if err != nil {
		return nil, err
	}
	byJob := make(map[string]*model.RefreshStatus, len(rows))
	for i := range rows {
		byJob[rows[i].Job] = &rows[i]
	}

	v := &StatusView{
		Sport:           rc.Sport,
		Season:          rc.Season,
		StaleAfterHours: rc.StaleAfter.Hours(),
		Running:         s.refresh.State(),
	}
	for _, job := range []string{model.JobStreaks, model.JobGames} {
		js := JobStatus{Job: job}
		if st, ok := byJob[job]; ok {
			js.LastRun = st.LastRun
			js.LastAttemptAt = st.LastAttemptAt
			js.LastError = st.LastError
			if len(st.StatsJSON) > 0 {
				js.Stats = st.StatsJSON
			}
		}
		js.Stale = streak.IsStale(js.LastRun, rc.Now, rc.StaleAfter)
		js.HoursSince = HoursSinceRounded(js.LastRun, rc.Now)
		v.Jobs = append(v.Jobs, js)
	}
	return v, nil
}

// HoursSinceRounded 保留一位小数
func HoursSinceRounded(lastRun *time.Time, now time.Time) *float64 {
	h := streak.HoursSince(lastRun, now)
	if h == nil {
		return nil
	}
	r, _ := decimal.NewFromFloat(*h).Round(1).Float64()
	return &r
}

func filterLowThresholds(rows []model.Streak) []model.Streak {
	out := rows[:0:0]
	for _, r := range rows {
		if r.EntityType == string(streak.EntityPlayer) {
			if floor, ok := minThresholds[r.Stat]; ok && r.Threshold < floor {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// DedupeBest 每个 主体+指标 只保留一张：连胜最长 → 阈值最高 → 赛季命中率最高
func DedupeBest(rows []model.Streak) []model.Streak {
	type groupKey struct {
		et   string
		id   int64
		stat string
	}
	best := make(map[groupKey]int, len(rows))
	var order []groupKey
	for i := range rows {
		k := groupKey{rows[i].EntityType, rows[i].EntityID, rows[i].Stat}
		j, ok := best[k]
		if !ok {
			best[k] = i
			order = append(order, k)
			continue
		}
		if betterCard(&rows[i], &rows[j]) {
			best[k] = i
		}
	}
	out := make([]model.Streak, 0, len(order))
	for _, k := range order {
		out = append(out, rows[best[k]])
	}
	return out
}

func betterCard(a, b *model.Streak) bool {
	if a.StreakLen != b.StreakLen {
		return a.StreakLen > b.StreakLen
	}
	if a.Threshold != b.Threshold {
		return a.Threshold > b.Threshold
	}
	return a.SeasonWinPct > b.SeasonWinPct
}

// IsBestBet 连胜≥3 且（赛季≥55% 或 近10场≥60%）
func IsBestBet(r *model.Streak) bool {
	return r.StreakLen >= 3 && (r.SeasonWinPct >= 55 || l10Pct(r) >= 60)
}

// BestBetScore streak*2 + L10*0.10 + season*0.05，保留两位小数
func BestBetScore(r *model.Streak) float64 {
	score := decimal.NewFromInt(int64(r.StreakLen)).Mul(decimal.NewFromInt(2)).
		Add(decimal.NewFromFloat(l10Pct(r)).Mul(decimal.RequireFromString("0.10"))).
		Add(decimal.NewFromFloat(r.SeasonWinPct).Mul(decimal.RequireFromString("0.05")))
	f, _ := score.Round(2).Float64()
	return f
}

func filterBestBets(rows []model.Streak) []model.Streak {
	out := rows[:0:0]
	for i := range rows {
		if IsBestBet(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

func l10Pct(r *model.Streak) float64 {
	if r.Last10HitPct != nil {
		return *r.Last10HitPct
	}
	return 0
}

// SortStreaks 按指定方式排序，最后以 entity_id/stat/threshold 升序保证稳定
func SortStreaks(rows []model.Streak, by string) {
	cmpFloat := func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	}
	cmpInt := func(a, b int) int { return cmpFloat(float64(a), float64(b)) }
	cmpTime := func(a, b time.Time) int {
		switch {
		case a.After(b):
			return -1
		case a.Before(b):
			return 1
		}
		return 0
	}

	primary := func(a, b *model.Streak) int {
		switch by {
		case SortSeason:
			if c := cmpFloat(a.SeasonWinPct, b.SeasonWinPct); c != 0 {
				return c
			}
			return cmpInt(a.StreakLen, b.StreakLen)
		case SortL10:
			if c := cmpFloat(l10Pct(a), l10Pct(b)); c != 0 {
				return c
			}
			return cmpInt(a.StreakLen, b.StreakLen)
		case SortRecent:
			if c := cmpTime(a.LastGame, b.LastGame); c != 0 {
				return c
			}
			return cmpInt(a.StreakLen, b.StreakLen)
		case SortThreshold:
			if c := cmpFloat(a.Threshold, b.Threshold); c != 0 {
				return c
			}
			return cmpInt(a.StreakLen, b.StreakLen)
		case SortBestBets:
			return cmpFloat(BestBetScore(a), BestBetScore(b))
		default:
			if c := cmpInt(a.StreakLen, b.StreakLen); c != 0 {
				return c
			}
			if c := cmpFloat(a.SeasonWinPct, b.SeasonWinPct); c != 0 {
				return c
			}
			return cmpTime(a.LastGame, b.LastGame)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := &rows[i], &rows[j]
		if c := primary(a, b); c != 0 {
			return c < 0
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Stat != b.Stat {
			return a.Stat < b.Stat
		}
		return a.Threshold < b.Threshold
	})
}

// ValidSort 排序参数是否合法（空串表示默认）
func ValidSort(by string) bool {
	switch by {
	case "", SortStreak, SortSeason, SortL10, SortRecent, SortThreshold, SortBestBets:
		return true
	}
	return false
}

func toStreakView(r *model.Streak) StreakView {
	k := r.Key()
	v := StreakView{
		ID:           fmt.Sprintf("%s-%s", r.Sport, k.String()),
		Sport:        r.Sport,
		EntityType:   r.EntityType,
		EntityID:     r.EntityID,
		EntityName:   r.EntityName,
		TeamAbbr:     r.TeamAbbr,
		Stat:         r.Stat,
		Threshold:    r.Threshold,
		StreakLen:    r.StreakLen,
		StreakStart:  r.StreakStart.Format(time.DateOnly),
		LastGame:     r.LastGame.Format(time.DateOnly),
		StreakWinPct: r.StreakWinPct,
		SeasonWins:   r.SeasonWins,
		SeasonGames:  r.SeasonGames,
		SeasonWinPct: r.SeasonWinPct,
		Last5Hits:    r.Last5Hits,
		Last5Games:   r.Last5Games,
		Last5HitPct:  r.Last5HitPct,
		Last10Hits:   r.Last10Hits,
		Last10Games:  r.Last10Games,
		Last10HitPct: r.Last10HitPct,
		Last15Hits:   r.Last15Hits,
		Last15Games:  r.Last15Games,
		Last15HitPct: r.Last15HitPct,
		Last20Hits:   r.Last20Hits,
		Last20Games:  r.Last20Games,
		Last20HitPct: r.Last20HitPct,
	}
	if !r.UpdatedAt.IsZero() {
		u := r.UpdatedAt
		v.UpdatedAt = &u
	}
	return v
}

func toEventView(e *model.StreakEvent) EventView {
	v := EventView{
		ID:            e.ID,
		RunID:         e.RunID,
		Sport:         e.Sport,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		EntityName:    e.EntityName,
		TeamAbbr:      e.TeamAbbr,
		Stat:          e.Stat,
		Threshold:     e.Threshold,
		EventType:     e.EventType,
		PrevStreakLen: e.PrevStreakLen,
		NewStreakLen:  e.NewStreakLen,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.LastGame != nil {
		d := e.LastGame.Format(time.DateOnly)
		v.LastGame = &d
	}
	return v
}
