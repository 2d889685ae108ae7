package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StreakSync/internal/config"
	"StreakSync/internal/interfaces"
	"StreakSync/internal/metrics"
	"StreakSync/internal/model"
	"StreakSync/internal/runlock"
	"StreakSync/internal/streak"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUpstream 上游数据源不可用，HTTP 层映射为 502
	ErrUpstream = errors.New("上游数据源不可用")
	// ErrRunInProgress 已有刷新在运行，HTTP 层映射为 409
	ErrRunInProgress = errors.New("刷新任务正在运行")
	// ErrNotFound 查询对象不存在，HTTP 层映射为 404
	ErrNotFound = errors.New("记录不存在")
)

// PersistMode 连胜落库方式
const (
	PersistReplace = "replace"
	PersistDiff    = "diff"
)

// State 单次刷新的状态
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateComputing  State = "computing"
	StateDiffing    State = "diffing"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

const (
	sampleSize        = 5
	defaultRunTimeout = 15 * time.Minute
)

// detach 持锁后的运行不随调用方取消，只受 timeout 限制
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Clock 便于测试固定时间
type Clock func() time.Time

// Locker 运行锁
type Locker interface {
	TryLock(ctx context.Context, name string) (func(), error)
}

// RefreshCounts 本轮处理量
type RefreshCounts struct {
	PlayerRecentGames int `json:"player_recent_games"`
	TeamRecentGames   int `json:"team_recent_games"`
	GamesFetched      int `json:"games_fetched"`
	Streaks           int `json:"streaks"`
	StreakEvents      int `json:"streak_events"`
}

// StepError 不中断运行的落库错误
type StepError struct {
	Step       string `json:"step"`
	EntityType string `json:"entity_type,omitempty"`
	Batch      *int   `json:"batch,omitempty"`
	Error      string `json:"error"`
}

// SampleStreak 响应里的连胜样例
type SampleStreak struct {
	EntityType string  `json:"entity_type"`
	EntityID   int64   `json:"entity_id"`
	EntityName string  `json:"entity_name"`
	Stat       string  `json:"stat"`
	Threshold  float64 `json:"threshold"`
	StreakLen  int     `json:"streak_len"`
	SeasonPct  float64 `json:"season_win_pct"`
}

// SampleEvent 响应里的事件样例
type SampleEvent struct {
	EntityType string  `json:"entity_type"`
	EntityName string  `json:"entity_name"`
	Stat       string  `json:"stat"`
	Threshold  float64 `json:"threshold"`
	EventType  string  `json:"event_type"`
	PrevLen    *int    `json:"prev_streak_len"`
	NewLen     *int    `json:"new_streak_len"`
}

// RefreshSummary 刷新结果，直接作为 HTTP 响应体
type RefreshSummary struct {
	OK            bool           `json:"ok"`
	RunID         string         `json:"run_id"`
	RanAt         time.Time      `json:"ran_at"`
	State         State          `json:"state"`
	Season        string         `json:"season"`
	EntityTypes   []string       `json:"entity_types"`
	Counts        RefreshCounts  `json:"counts"`
	Changes       map[string]int `json:"changes"`
	DurationMS    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"`
	StepErrors    []StepError    `json:"step_errors,omitempty"`
	SampleStreaks []SampleStreak `json:"sample_streaks,omitempty"`
	SampleEvents  []SampleEvent  `json:"sample_events,omitempty"`
}

// RefreshDeps 编排器依赖
type RefreshDeps struct {
	Source   interfaces.GameLogSource
	GameLogs interfaces.GameLogRepository
	Streaks  interfaces.StreakRepository
	Events   interfaces.EventRepository
	Status   interfaces.StatusRepository
	Locker   Locker
	Metrics  *metrics.Metrics
	Computer *streak.Computer
	Clock    Clock
}

// RefreshService 拉取 → 快照 → 计算 → 对比 → 落库
type RefreshService struct {
	deps        RefreshDeps
	logger      *logrus.Logger
	refreshCfg  config.RefreshConfig
	streakCfg   config.StreakConfig
	entityTypes []streak.EntityType

	mu    sync.RWMutex
	state State
}

func NewRefreshService(cfg *config.Config, deps RefreshDeps, logger *logrus.Logger) *RefreshService {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Computer == nil {
		catalog := streak.DefaultCatalog().WithRanges(cfg.Streak.ThresholdOverrides())
		deps.Computer = streak.NewComputer(catalog, cfg.Refresh.Workers)
	}
	if deps.Locker == nil {
		deps.Locker = runlock.New(nil, cfg.Refresh.LockTTL, logger)
	}
	rc := cfg.Refresh
	if rc.BatchSize <= 0 {
		rc.BatchSize = 500
	}
	if rc.PersistMode == "" {
		rc.PersistMode = PersistReplace
	}
	return &RefreshService{
		deps:        deps,
		logger:      logger,
		refreshCfg:  rc,
		streakCfg:   cfg.Streak,
		entityTypes: cfg.EntityTypes(),
		state:       StateIdle,
	}
}

// State 当前（或最近一次）运行状态
func (s *RefreshService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *RefreshService) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RunContext 按当前时钟与配置构造
func (s *RefreshService) RunContext() streak.RunContext {
	return streak.NewRunContext(s.deps.Clock(), s.streakCfg.Sport, s.streakCfg.Season, s.streakCfg.MinStreakLength, s.streakCfg.StaleAfter)
}

// entityPlan 单个主体类型在落库前的全部结果
type entityPlan struct {
	et      streak.EntityType
	records []streak.Record
	events  []streak.Event
}

// Run 执行一次刷新。only 为空时刷新配置中的全部主体类型。
// 返回的 summary 总是非 nil（ErrRunInProgress 除外）；error 仅用于区分 HTTP 状态。
func (s *RefreshService) Run(ctx context.Context, only ...streak.EntityType) (*RefreshSummary, error) {
	release, err := s.deps.Locker.TryLock(ctx, model.JobStreaks)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("获取运行锁失败: %w", err)
	}
	defer release()
	ctx, cancel := detach(ctx, s.refreshCfg.RunTimeout)
	defer cancel()

	rc := s.RunContext()
	start := time.Now()
	ets := s.entityTypes
	if len(only) > 0 {
		ets = only
	}

	sum := &RefreshSummary{
		RunID:   uuid.NewString(),
		RanAt:   rc.Now,
		Season:  rc.Season,
		Changes: map[string]int{},
	}
	for _, et := range ets {
		sum.EntityTypes = append(sum.EntityTypes, string(et))
	}
	log := s.logger.WithFields(logrus.Fields{
		"run_id": sum.RunID,
		"sport":  rc.Sport,
		"season": rc.Season,
	})
	log.WithField("entity_types", sum.EntityTypes).Info("开始刷新连胜")

	runErr := s.run(ctx, rc, ets, sum, log)
	sum.DurationMS = time.Since(start).Milliseconds()
	s.deps.Metrics.RunDuration.WithLabelValues(model.JobStreaks).Observe(time.Since(start).Seconds())

	if runErr != nil {
		s.setState(StateFailed)
		sum.State = StateFailed
		sum.OK = false
		sum.Error = runErr.Error()
		s.deps.Metrics.Runs.WithLabelValues(model.JobStreaks, "failed").Inc()
		// last_run 不动，只记尝试与错误，前端据此显示数据延迟
		if err := s.deps.Status.RecordAttempt(ctx, rc.Sport, model.JobStreaks, rc.Now, runErr); err != nil {
			log.WithError(err).Warn("记录刷新失败状态失败")
		}
		log.WithError(runErr).WithField("duration_ms", sum.DurationMS).Error("刷新连胜失败")
		return sum, runErr
	}

	s.setState(StateDone)
	sum.State = StateDone
	sum.OK = true
	outcome := "ok"
	if len(sum.StepErrors) > 0 {
		outcome = "partial"
	}
	s.deps.Metrics.Runs.WithLabelValues(model.JobStreaks, outcome).Inc()
	log.WithFields(logrus.Fields{
		"streaks":     sum.Counts.Streaks,
		"events":      sum.Counts.StreakEvents,
		"step_errors": len(sum.StepErrors),
		"duration_ms": sum.DurationMS,
	}).Info("刷新连胜完成")
	return sum, nil
}

func (s *RefreshService) run(ctx context.Context, rc streak.RunContext, ets []streak.EntityType, sum *RefreshSummary, log *logrus.Entry) error {
	// 1. 拉取
	s.setState(StateFetching)
	logs, err := s.fetch(ctx, rc, ets, sum, log)
	if err != nil {
		return err
	}

	// 2. 快照 + 计算 + 对比，全部完成后才开始写库
	plans := make([]entityPlan, 0, len(ets))
	for _, et := range ets {
		prior, err := s.deps.Streaks.Snapshot(ctx, rc.Sport, et)
		if err != nil {
			return fmt.Errorf("读取%s连胜快照失败: %w", et, err)
		}

		s.setState(StateComputing)
		records, err := s.deps.Computer.Compute(ctx, rc, et, logs[et])
		if err != nil {
			return fmt.Errorf("计算%s连胜失败: %w", et, err)
		}

		s.setState(StateDiffing)
		events := streak.Diff(rc, records, prior, logs[et])
		for t, n := range streak.Changes(events) {
			sum.Changes[string(t)] += n
		}
		log.WithFields(logrus.Fields{
			"entity_type": et,
			"games":       len(logs[et]),
			"prior":       len(prior),
			"streaks":     len(records),
			"events":      len(events),
		}).Info("连胜计算完成")
		plans = append(plans, entityPlan{et: et, records: records, events: events})
	}

	// 3. 落库
	s.setState(StatePersisting)
	wrote := false
	var firstErr error
	for _, p := range plans {
		ok, err := s.persist(ctx, rc, p, sum, log)
		wrote = wrote || ok
		if firstErr == nil {
			firstErr = err
		}
	}
	if !wrote && firstErr != nil {
		// 所有写入都失败：视为存储不可用
		return fmt.Errorf("写入连胜全部失败: %w", firstErr)
	}

	if err := s.deps.Status.RecordSuccess(ctx, rc.Sport, model.JobStreaks, rc.Now, sum.Counts); err != nil {
		s.stepError(sum, log, "refresh_status", "", nil, err)
	}
	return nil
}

// fetch 拉取新 boxscore、写入日志表，返回各主体类型的赛季日志（新 ∪ 已存）
func (s *RefreshService) fetch(ctx context.Context, rc streak.RunContext, ets []streak.EntityType, sum *RefreshSummary, log *logrus.Entry) (map[streak.EntityType][]streak.GameRecord, error) {
	known, err := s.deps.GameLogs.KnownGameIDs(ctx, rc.Sport, rc.Season)
	if err != nil {
		return nil, fmt.Errorf("读取已入库比赛失败: %w", err)
	}
	batch, err := s.deps.Source.FetchCompletedGames(ctx, known)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, s.deps.Source.GetName(), err)
	}
	sum.Counts.GamesFetched = batch.GamesFetched
	s.deps.Metrics.GamesFetched.Add(float64(batch.GamesFetched))
	log.WithFields(logrus.Fields{
		"games_fetched": batch.GamesFetched,
		"games_skipped": batch.GamesSkipped,
		"games_failed":  batch.GamesFailed,
	}).Info("拉取比赛完成")

	// 新比赛日志写入失败不影响本轮计算（内存中合并），下一轮会重新拉取
	if len(batch.Players) > 0 {
		rows := make([]*model.PlayerRecentGame, 0, len(batch.Players))
		for _, g := range batch.Players {
			rows = append(rows, model.NewPlayerRecentGame(rc.Sport, rc.Season, g))
		}
		n, err := s.deps.GameLogs.UpsertPlayerGames(ctx, rows)
		if err != nil {
			s.stepError(sum, log, "player_recent_games", string(streak.EntityPlayer), nil, err)
		}
		sum.Counts.PlayerRecentGames = n
	}
	if len(batch.Teams) > 0 {
		rows := make([]*model.TeamRecentGame, 0, len(batch.Teams))
		for _, g := range batch.Teams {
			rows = append(rows, model.NewTeamRecentGame(rc.Sport, rc.Season, g))
		}
		n, err := s.deps.GameLogs.UpsertTeamGames(ctx, rows)
		if err != nil {
			s.stepError(sum, log, "team_recent_games", string(streak.EntityTeam), nil, err)
		}
		sum.Counts.TeamRecentGames = n
	}

	out := make(map[streak.EntityType][]streak.GameRecord, len(ets))
	for _, et := range ets {
		stored, err := s.deps.GameLogs.SeasonLog(ctx, rc.Sport, rc.Season, et)
		if err != nil {
			return nil, fmt.Errorf("读取%s赛季日志失败: %w", et, err)
		}
		out[et] = mergeLogs(batch.Records(et), stored)
	}
	return out, nil
}

// mergeLogs 以 (entity, game) 去重，新拉取的记录优先
func mergeLogs(fresh, stored []streak.GameRecord) []streak.GameRecord {
	type gameKey struct {
		entity int64
		game   string
	}
	seen := make(map[gameKey]struct{}, len(fresh)+len(stored))
	out := make([]streak.GameRecord, 0, len(fresh)+len(stored))
	for _, list := range [][]streak.GameRecord{fresh, stored} {
		for _, g := range list {
			k := gameKey{g.EntityID, g.GameID}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// persist 写入一个主体类型，返回是否至少有一步写入成功
func (s *RefreshService) persist(ctx context.Context, rc streak.RunContext, p entityPlan, sum *RefreshSummary, log *logrus.Entry) (bool, error) {
	et := string(p.et)
	rows := make([]*model.Streak, 0, len(p.records))
	for _, r := range p.records {
		rows = append(rows, model.NewStreak(r))
	}

	wrote := false
	var firstErr error
	fail := func(step string, batch *int, err error) {
		if firstErr == nil {
			firstErr = err
		}
		s.stepError(sum, log, step, et, batch, err)
	}

	switch s.refreshCfg.PersistMode {
	case PersistDiff:
		if err := s.deps.Streaks.ReplaceDiff(ctx, rc.Sport, p.et, rows); err != nil {
			fail("streaks_diff", nil, err)
		} else {
			wrote = true
			sum.Counts.Streaks += len(rows)
		}
	default:
		deleted, err := s.deps.Streaks.DeleteByEntityType(ctx, rc.Sport, p.et)
		if err != nil {
			fail("streaks_delete", nil, err)
		} else {
			wrote = true
			log.WithFields(logrus.Fields{"entity_type": et, "deleted": deleted}).Debug("已删除旧连胜")
		}
		size := s.refreshCfg.BatchSize
		for i := 0; i*size < len(rows); i++ {
			end := min((i+1)*size, len(rows))
			if err := s.deps.Streaks.InsertBatch(ctx, rows[i*size:end]); err != nil {
				batch := i
				fail("streaks_insert", &batch, err)
				continue
			}
			wrote = true
			sum.Counts.Streaks += end - i*size
		}
	}
	s.deps.Metrics.ActiveStreaks.WithLabelValues(et).Set(float64(len(rows)))

	if len(p.events) > 0 {
		evRows := make([]*model.StreakEvent, 0, len(p.events))
		for i, e := range p.events {
			evRows = append(evRows, model.NewStreakEvent(uuid.NewString(), sum.RunID, i, e, rc.Now))
		}
		if err := s.deps.Events.Append(ctx, evRows); err != nil {
			fail("streak_events", nil, err)
		} else {
			wrote = true
			sum.Counts.StreakEvents += len(evRows)
			for _, e := range p.events {
				s.deps.Metrics.Events.WithLabelValues(et, string(e.Type)).Inc()
			}
		}
	}

	s.addSamples(sum, p)
	if len(rows) == 0 && len(p.events) == 0 && firstErr == nil {
		// 本类型无任何需要写入的内容
		wrote = true
	}
	return wrote, firstErr
}

func (s *RefreshService) addSamples(sum *RefreshSummary, p entityPlan) {
	for _, r := range p.records {
		if len(sum.SampleStreaks) >= sampleSize {
			break
		}
		sum.SampleStreaks = append(sum.SampleStreaks, SampleStreak{
			EntityType: string(r.EntityType),
			EntityID:   r.EntityID,
			EntityName: r.EntityName,
			Stat:       r.Stat,
			Threshold:  r.Threshold,
			StreakLen:  r.StreakLen,
			SeasonPct:  r.SeasonWinPct,
		})
	}
	for _, e := range p.events {
		if len(sum.SampleEvents) >= sampleSize {
			break
		}
		sum.SampleEvents = append(sum.SampleEvents, SampleEvent{
			EntityType: string(e.EntityType),
			EntityName: e.EntityName,
			Stat:       e.Stat,
			Threshold:  e.Threshold,
			EventType:  string(e.Type),
			PrevLen:    e.PrevLen,
			NewLen:     e.NewLen,
		})
	}
}

func (s *RefreshService) stepError(sum *RefreshSummary, log *logrus.Entry, step, et string, batch *int, err error) {
	sum.StepErrors = append(sum.StepErrors, StepError{Step: step, EntityType: et, Batch: batch, Error: err.Error()})
	s.deps.Metrics.StepErrors.WithLabelValues(step).Inc()
	fields := logrus.Fields{"step": step}
	if et != "" {
		fields["entity_type"] = et
	}
	if batch != nil {
		fields["batch"] = *batch
	}
	log.WithError(err).WithFields(fields).Error("落库步骤失败，继续执行")
}
