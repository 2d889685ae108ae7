package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"StreakSync/internal/config"
	"StreakSync/internal/metrics"
	"StreakSync/internal/model"
	"StreakSync/internal/repository"
	"StreakSync/internal/runlock"
	"StreakSync/internal/streak"
	"StreakSync/internal/testutil"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, time.November, d, 0, 0, 0, 0, time.UTC)
}

// fakeSource 返回 games 中不在 known 里的比赛
type fakeSource struct {
	players    []streak.GameRecord
	teams      []streak.GameRecord
	scoreboard []model.NBAScoreGame
	err        error
	calls      int
}

func (f *fakeSource) GetName() string            { return "fake" }
func (f *fakeSource) GetType() model.SourceType { return "fake" }

func (f *fakeSource) FetchScoreboard(context.Context) ([]model.NBAScoreGame, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scoreboard, nil
}

func (f *fakeSource) FetchCompletedGames(_ context.Context, known map[string]bool) (*model.GameLogBatch, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	b := &model.GameLogBatch{}
	games := map[string]bool{}
	for _, g := range f.players {
		if !known[g.GameID] {
			b.Players = append(b.Players, g)
			games[g.GameID] = true
		}
	}
	for _, g := range f.teams {
		if !known[g.GameID] {
			b.Teams = append(b.Teams, g)
			games[g.GameID] = true
		}
	}
	b.GamesFetched = len(games)
	return b, nil
}

// playerGames 按 从旧到新 的得分构造比赛，第 i 场在 day(i+1)，game id 按主体区分
func playerGames(id int64, name string, ptsOldToNew ...int) []streak.GameRecord {
	out := make([]streak.GameRecord, 0, len(ptsOldToNew))
	for i, p := range ptsOldToNew {
		out = append(out, streak.GameRecord{
			EntityID:   id,
			EntityName: name,
			TeamAbbr:   "BOS",
			GameID:     fmt.Sprintf("g%02d", i+1),
			GameDate:   day(i + 1),
			WL:         "W",
			Pts:        p,
		})
	}
	return out
}

// teamGames 与 playerGames 同 game id 的球队日志
func teamGames(abbr string, n int) []streak.GameRecord {
	out := make([]streak.GameRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, streak.GameRecord{
			EntityID:   1610612738,
			EntityName: abbr,
			TeamAbbr:   abbr,
			GameID:     fmt.Sprintf("g%02d", i+1),
			GameDate:   day(i + 1),
			WL:         "W",
			Pts:        110,
		})
	}
	return out
}

func ptsCatalog(lo, hi float64) *streak.Catalog {
	return streak.NewCatalog(streak.StatDef{
		Code:       "PTS",
		EntityType: streak.EntityPlayer,
		Direction:  streak.Over,
		Range:      streak.Range{Min: lo, Max: hi, Step: 5},
		Extract:    func(g streak.GameRecord) float64 { return float64(g.Pts) },
	})
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		Refresh: config.RefreshConfig{
			EntityTypes: []string{"player"},
			BatchSize:   500,
			PersistMode: mode,
			Workers:     2,
		},
		Streak: config.StreakConfig{
			Sport:           "NBA",
			Season:          "2025-26",
			MinStreakLength: 3,
		},
	}
}

type harness struct {
	svc      *RefreshService
	source   *fakeSource
	streaks  *repository.StreakRepository
	events   *repository.EventRepository
	status   *repository.StatusRepository
	gameLogs *repository.GameLogRepository
	metrics  *metrics.Metrics
	locker   *runlock.Locker
}

type harnessOpt func(*RefreshDeps)

func newHarness(t *testing.T, mode string, catalog *streak.Catalog, opts ...harnessOpt) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	h := &harness{
		source:   &fakeSource{},
		streaks:  repository.NewStreakRepository(db),
		events:   repository.NewEventRepository(db),
		status:   repository.NewStatusRepository(db),
		gameLogs: repository.NewGameLogRepository(db),
		metrics:  metrics.New(),
		locker:   runlock.New(nil, time.Minute, testutil.Logger()),
	}
	deps := RefreshDeps{
		Source:   h.source,
		GameLogs: h.gameLogs,
		Streaks:  h.streaks,
		Events:   h.events,
		Status:   h.status,
		Locker:   h.locker,
		Metrics:  h.metrics,
		Computer: streak.NewComputer(catalog, 2),
		Clock:    func() time.Time { return time.Date(2025, 11, 30, 12, 0, 0, 0, time.UTC) },
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = NewRefreshService(testConfig(mode), deps, testutil.Logger())
	return h
}

func (h *harness) seedStreak(t *testing.T, id int64, name string, threshold float64, n int) {
	t.Helper()
	require.NoError(t, h.streaks.InsertBatch(context.Background(), []*model.Streak{model.NewStreak(streak.Record{
		Key:         streak.Key{EntityType: streak.EntityPlayer, EntityID: id, Stat: "PTS", Threshold: threshold},
		Sport:       "NBA",
		EntityName:  name,
		StreakLen:   n,
		StreakStart: day(1),
		LastGame:    day(2),
	})}))
}

func TestRefresh_FirstRunThenIdempotent(t *testing.T) {
	for _, mode := range []string{PersistReplace, PersistDiff} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, mode, streak.DefaultCatalog())
			h.source.players = append(playerGames(1, "A", 25, 25, 25, 25), playerGames(2, "B", 5, 30, 30, 30)...)
			h.source.teams = teamGames("BOS", 4)

			first, err := h.svc.Run(ctx)
			require.NoError(t, err)
			assert.True(t, first.OK)
			assert.Equal(t, StateDone, first.State)
			assert.Equal(t, 8, first.Counts.PlayerRecentGames)
			assert.Equal(t, 4, first.Counts.GamesFetched)
			require.Positive(t, first.Counts.Streaks)
			assert.Equal(t, first.Counts.Streaks, first.Counts.StreakEvents)
			assert.Equal(t, first.Counts.Streaks, first.Changes["started"])
			assert.NotEmpty(t, first.SampleStreaks)
			assert.Empty(t, first.StepErrors)

			before, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA"})
			require.NoError(t, err)

			// 第二轮：上游无新比赛，基于已存日志重算
			second, err := h.svc.Run(ctx)
			require.NoError(t, err)
			assert.True(t, second.OK)
			assert.Zero(t, second.Counts.GamesFetched)
			assert.Zero(t, second.Counts.StreakEvents)
			assert.Empty(t, second.Changes)
			assert.Equal(t, first.Counts.Streaks, second.Counts.Streaks)

			after, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA"})
			require.NoError(t, err)
			require.Len(t, after, len(before))
			for i := range before {
				assert.Equal(t, before[i].Key(), after[i].Key())
				assert.Equal(t, before[i].StreakLen, after[i].StreakLen)
				assert.Equal(t, before[i].SeasonWinPct, after[i].SeasonWinPct)
			}

			st, err := h.status.Get(ctx, "NBA", model.JobStreaks)
			require.NoError(t, err)
			require.NotNil(t, st.LastRun)
			assert.Nil(t, st.LastError)
		})
	}
}

func TestRefresh_FetchFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PersistReplace, ptsCatalog(20, 20))
	h.source.players = playerGames(1, "A", 25, 25, 25)

	_, err := h.svc.Run(ctx)
	require.NoError(t, err)
	okStatus, err := h.status.Get(ctx, "NBA", model.JobStreaks)
	require.NoError(t, err)
	lastRun := *okStatus.LastRun

	h.source.err = errors.New("403 forbidden")
	sum, err := h.svc.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	require.NotNil(t, sum)
	assert.False(t, sum.OK)
	assert.Equal(t, StateFailed, sum.State)
	assert.Contains(t, sum.Error, "403 forbidden")
	assert.Equal(t, StateFailed, h.svc.State())

	rows, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].StreakLen)

	st, err := h.status.Get(ctx, "NBA", model.JobStreaks)
	require.NoError(t, err)
	assert.True(t, lastRun.Equal(*st.LastRun))
	require.NotNil(t, st.LastError)
	assert.Contains(t, *st.LastError, "403 forbidden")
}

func TestRefresh_ExtendedScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PersistReplace, ptsCatalog(20, 20))
	h.seedStreak(t, 1, "E", 20, 2)
	h.source.players = playerGames(1, "E", 8, 22, 25, 30)

	sum, err := h.svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"extended": 1}, sum.Changes)

	evs, err := h.events.Recent(ctx, repository.EventQuery{Sport: "NBA"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "extended", evs[0].EventType)
	assert.Equal(t, 2, *evs[0].PrevStreakLen)
	assert.Equal(t, 3, *evs[0].NewStreakLen)
	assert.Equal(t, sum.RunID, evs[0].RunID)

	rows, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, day(2).Equal(rows[0].StreakStart))
	assert.True(t, day(4).Equal(rows[0].LastGame))
	assert.Equal(t, 75.0, rows[0].SeasonWinPct)
}

func TestRefresh_BrokenScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PersistReplace, ptsCatalog(20, 25))
	h.seedStreak(t, 9, "F", 25, 5)
	h.source.players = playerGames(9, "F", 30, 30, 30, 30, 30, 18)

	sum, err := h.svc.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.OK)
	assert.Zero(t, sum.Counts.Streaks)
	assert.Equal(t, map[string]int{"broken": 1}, sum.Changes)

	evs, err := h.events.Recent(ctx, repository.EventQuery{Sport: "NBA"})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "broken", evs[0].EventType)
	assert.Equal(t, 5, *evs[0].PrevStreakLen)
	assert.Nil(t, evs[0].NewStreakLen)
	require.NotNil(t, evs[0].LastGame)
	assert.True(t, day(6).Equal(*evs[0].LastGame))

	n, err := h.streaks.Count(ctx, "NBA", streak.EntityPlayer)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// flakyStreaks 指定批次写入失败
type flakyStreaks struct {
	*repository.StreakRepository
	failBatch   int
	failDelete  bool
	failInserts bool
	calls       int
}

func (f *flakyStreaks) DeleteByEntityType(ctx context.Context, sport string, et streak.EntityType) (int64, error) {
	if f.failDelete {
		return 0, errors.New("delete timeout")
	}
	return f.StreakRepository.DeleteByEntityType(ctx, sport, et)
}

func (f *flakyStreaks) InsertBatch(ctx context.Context, rows []*model.Streak) error {
	defer func() { f.calls++ }()
	if f.failInserts || f.calls == f.failBatch {
		return errors.New("payload too large")
	}
	return f.StreakRepository.InsertBatch(ctx, rows)
}

func TestRefresh_PartialBatchFailureIsReported(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyStreaks
	h := newHarness(t, PersistReplace, ptsCatalog(20, 30), func(d *RefreshDeps) {
		flaky = &flakyStreaks{StreakRepository: d.Streaks.(*repository.StreakRepository), failBatch: 1}
		d.Streaks = flaky
	})
	h.svc.refreshCfg.BatchSize = 1
	// 阈值 20/25/30 各一条 → 三个批次，第二批失败
	h.source.players = playerGames(1, "A", 31, 31, 31)

	sum, err := h.svc.Run(ctx)
	require.NoError(t, err)
	assert.True(t, sum.OK)
	assert.Equal(t, 2, sum.Counts.Streaks)
	assert.Equal(t, 3, sum.Counts.StreakEvents)
	require.Len(t, sum.StepErrors, 1)
	assert.Equal(t, "streaks_insert", sum.StepErrors[0].Step)
	require.NotNil(t, sum.StepErrors[0].Batch)
	assert.Equal(t, 1, *sum.StepErrors[0].Batch)

	n, err := h.streaks.Count(ctx, "NBA", streak.EntityPlayer)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRefresh_AllWritesFailedIsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PersistReplace, ptsCatalog(20, 20), func(d *RefreshDeps) {
		d.Streaks = &flakyStreaks{StreakRepository: d.Streaks.(*repository.StreakRepository), failDelete: true, failInserts: true, failBatch: -1}
		d.Events = failingEvents{}
	})
	h.source.players = playerGames(1, "A", 25, 25, 25)

	sum, err := h.svc.Run(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstream)
	assert.False(t, sum.OK)
	assert.Equal(t, StateFailed, sum.State)
	assert.Len(t, sum.StepErrors, 3)

	st, err := h.status.Get(ctx, "NBA", model.JobStreaks)
	require.NoError(t, err)
	assert.Nil(t, st.LastRun)
}

type failingEvents struct{}

func (failingEvents) Append(context.Context, []*model.StreakEvent) error {
	return errors.New("events table locked")
}

type failingSnapshot struct {
	*repository.StreakRepository
}

func (failingSnapshot) Snapshot(context.Context, string, streak.EntityType) (streak.Snapshot, error) {
	return nil, errors.New("read replica down")
}

func TestRefresh_SnapshotFailureAbortsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PersistReplace, ptsCatalog(20, 20), func(d *RefreshDeps) {
		d.Streaks = failingSnapshot{d.Streaks.(*repository.StreakRepository)}
	})
	h.seedStreak(t, 1, "A", 20, 4)
	h.source.players = playerGames(1, "A", 25, 25, 25, 25, 25)

	sum, err := h.svc.Run(ctx)
	require.Error(t, err)
	assert.False(t, sum.OK)
	assert.Contains(t, sum.Error, "read replica down")

	rows, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].StreakLen)
}

func TestRefresh_RunInProgress(t *testing.T) {
	h := newHarness(t, PersistReplace, ptsCatalog(20, 20))
	release, err := h.locker.TryLock(context.Background(), model.JobStreaks)
	require.NoError(t, err)
	defer release()

	sum, err := h.svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, sum)
	assert.Zero(t, h.source.calls)
}

func TestRefresh_TeamsUseTeamLog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, PersistReplace, streak.DefaultCatalog())
	h.source.teams = []streak.GameRecord{
		{EntityID: 1610612738, EntityName: "BOS", TeamAbbr: "BOS", GameID: "t1", GameDate: day(1), WL: "W", Pts: 112},
		{EntityID: 1610612738, EntityName: "BOS", TeamAbbr: "BOS", GameID: "t2", GameDate: day(2), WL: "W", Pts: 118},
		{EntityID: 1610612738, EntityName: "BOS", TeamAbbr: "BOS", GameID: "t3", GameDate: day(3), WL: "W", Pts: 121},
	}

	sum, err := h.svc.Run(ctx, streak.EntityTeam)
	require.NoError(t, err)
	assert.Equal(t, []string{"team"}, sum.EntityTypes)
	assert.Equal(t, 3, sum.Counts.TeamRecentGames)

	ml, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA", EntityType: streak.EntityTeam, Stat: "ML"})
	require.NoError(t, err)
	require.Len(t, ml, 1)
	assert.Equal(t, 3, ml[0].StreakLen)

	over, err := h.streaks.List(ctx, repository.StreakQuery{Sport: "NBA", EntityType: streak.EntityTeam, Stat: "PTS"})
	require.NoError(t, err)
	// 100/105/110 三档连续 3 场
	assert.Len(t, over, 3)
}

func TestRefresh_RecordsMetrics(t *testing.T) {
	h := newHarness(t, PersistReplace, ptsCatalog(20, 20))
	h.source.players = playerGames(1, "A", 25, 25, 25)
	_, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.Runs.WithLabelValues(model.JobStreaks, "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.Events.WithLabelValues("player", "started")))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.ActiveStreaks.WithLabelValues("player")))
	assert.Equal(t, 3.0, promtest.ToFloat64(h.metrics.GamesFetched))
}

func TestMergeLogsPrefersFresh(t *testing.T) {
	fresh := []streak.GameRecord{{EntityID: 1, GameID: "g1", Pts: 30}}
	stored := []streak.GameRecord{{EntityID: 1, GameID: "g1", Pts: 10}, {EntityID: 1, GameID: "g0", Pts: 5}}
	out := mergeLogs(fresh, stored)
	require.Len(t, out, 2)
	assert.Equal(t, 30, out[0].Pts)
}

// cancelAfterDelete 删除旧连胜后立刻取消调用方的 ctx
type cancelAfterDelete struct {
	*repository.StreakRepository
	cancel context.CancelFunc
}

func (c *cancelAfterDelete) DeleteByEntityType(ctx context.Context, sport string, et streak.EntityType) (int64, error) {
	n, err := c.StreakRepository.DeleteByEntityType(ctx, sport, et)
	c.cancel()
	return n, err
}

func (c *cancelAfterDelete) InsertBatch(ctx context.Context, rows []*model.Streak) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.StreakRepository.InsertBatch(ctx, rows)
}

func TestRefresh_CallerCancelDoesNotInterruptPersist(t *testing.T) {
	bg := context.Background()
	h := newHarness(t, PersistReplace, ptsCatalog(20, 30))
	h.source.players = playerGames(1, "A", 31, 31, 31)
	h.source.teams = teamGames("BOS", 3)

	first, err := h.svc.Run(bg)
	require.NoError(t, err)
	require.Equal(t, 3, first.Counts.Streaks)

	callerCtx, cancel := context.WithCancel(bg)
	defer cancel()
	h.svc.deps.Streaks = &cancelAfterDelete{StreakRepository: h.streaks, cancel: cancel}

	second, err := h.svc.Run(callerCtx)
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.Empty(t, second.StepErrors)
	assert.Equal(t, 3, second.Counts.Streaks)
	assert.Error(t, callerCtx.Err())

	n, err := h.streaks.Count(bg, "NBA", streak.EntityPlayer)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// 输入不变，下一轮不应把已有连胜当成新开始
	third, err := h.svc.Run(bg)
	require.NoError(t, err)
	assert.Empty(t, third.Changes)
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := detach(parent, time.Minute)
	defer stop()
	cancel()
	assert.NoError(t, ctx.Err())
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	_, stopDefault := detach(context.Background(), 0)
	stopDefault()
}
