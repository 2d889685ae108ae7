package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // 容器镜像不一定带时区库

	"StreakSync/internal/interfaces"
	"StreakSync/internal/metrics"
	"StreakSync/internal/model"
	"StreakSync/internal/runlock"
	"StreakSync/internal/streak"

	"github.com/sirupsen/logrus"
)

// GamesSummary 今日赛程刷新结果
type GamesSummary struct {
	OK         bool      `json:"ok"`
	RanAt      time.Time `json:"ran_at"`
	Games      int       `json:"games"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// GamesTodayService 刷新 games_today
type GamesTodayService struct {
	source  interfaces.GameLogSource
	repo    interfaces.GamesTodayRepository
	status  interfaces.StatusRepository
	locker  Locker
	metrics *metrics.Metrics
	clock   Clock
	sport   string
	logger  *logrus.Logger
}

func NewGamesTodayService(source interfaces.GameLogSource, repo interfaces.GamesTodayRepository, status interfaces.StatusRepository,
	locker Locker, m *metrics.Metrics, clock Clock, sport string, logger *logrus.Logger) *GamesTodayService {
	if clock == nil {
		clock = time.Now
	}
	if sport == "" {
		sport = streak.DefaultSport
	}
	if m == nil {
		m = metrics.New()
	}
	if locker == nil {
		locker = runlock.New(nil, 0, logger)
	}
	return &GamesTodayService{
		source:  source,
		repo:    repo,
		status:  status,
		locker:  locker,
		metrics: m,
		clock:   clock,
		sport:   sport,
		logger:  logger,
	}
}

// Run 拉取今日赛程并覆盖写入
func (s *GamesTodayService) Run(ctx context.Context) (*GamesSummary, error) {
	release, err := s.locker.TryLock(ctx, model.JobGames)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("获取运行锁失败: %w", err)
	}
	defer release()
	ctx, cancel := detach(ctx, defaultRunTimeout)
	defer cancel()

	now := s.clock().UTC()
	start := time.Now()
	sum := &GamesSummary{RanAt: now}
	finish := func(runErr error) (*GamesSummary, error) {
		sum.DurationMS = time.Since(start).Milliseconds()
		s.metrics.RunDuration.WithLabelValues(model.JobGames).Observe(time.Since(start).Seconds())
		if runErr != nil {
			sum.Error = runErr.Error()
			s.metrics.Runs.WithLabelValues(model.JobGames, "failed").Inc()
			if err := s.status.RecordAttempt(ctx, s.sport, model.JobGames, now, runErr); err != nil {
				s.logger.WithError(err).Warn("记录赛程刷新失败状态失败")
			}
			s.logger.WithError(runErr).Error("刷新今日赛程失败")
			return sum, runErr
		}
		sum.OK = true
		s.metrics.Runs.WithLabelValues(model.JobGames, "ok").Inc()
		if err := s.status.RecordSuccess(ctx, s.sport, model.JobGames, now, map[string]int{"games": sum.Games}); err != nil {
			s.logger.WithError(err).Warn("更新赛程刷新状态失败")
		}
		s.logger.WithField("games", sum.Games).Info("刷新今日赛程完成")
		return sum, nil
	}

	games, err := s.source.FetchScoreboard(ctx)
	if err != nil {
		return finish(fmt.Errorf("%w: %s: %v", ErrUpstream, s.source.GetName(), err))
	}
	rows := make([]*model.GameToday, 0, len(games))
	for _, g := range games {
		rows = append(rows, ToGameToday(s.sport, g, now))
	}
	if err := s.repo.Upsert(ctx, rows); err != nil {
		return finish(err)
	}
	sum.Games = len(rows)
	return finish(nil)
}

var eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// ToGameToday 比赛日与开赛时间按美东时间展示，时间无法解析时比赛日取 now
func ToGameToday(sport string, g model.NBAScoreGame, now time.Time) *model.GameToday {
	row := &model.GameToday{
		ID:           g.GameID,
		Sport:        sport,
		HomeTeamAbbr: optString(g.HomeTeam.TeamTricode),
		AwayTeamAbbr: optString(g.AwayTeam.TeamTricode),
		Status:       optString(g.GameStatusText),
	}
	if g.GameStatus > 1 {
		home, away := g.HomeTeam.Score, g.AwayTeam.Score
		row.HomeScore, row.AwayScore = &home, &away
	}
	if t, err := time.Parse(time.RFC3339, g.GameTimeUTC); err == nil {
		et := t.In(eastern)
		row.GameDate = time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, time.UTC)
		gt := et.Format("3:04 PM") + " ET"
		row.GameTime = &gt
	} else {
		row.GameDate = streak.DateOf(now)
	}
	return row
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
