package streak

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Computer 由整季比赛记录计算全部当前连胜，纯计算无 IO
type Computer struct {
	catalog *Catalog
	workers int
}

// NewComputer workers<=0 时串行计算
func NewComputer(catalog *Catalog, workers int) *Computer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Computer{catalog: catalog, workers: workers}
}

// Compute 按主体分组并行计算，输出顺序固定为 主体ID → 指标注册顺序 → 阈值升序
func (c *Computer) Compute(ctx context.Context, rc RunContext, et EntityType, games []GameRecord) ([]Record, error) {
	groups := GroupByEntity(games)
	ids := make([]int64, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	stats := c.catalog.Stats(et)
	results := make([][]Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// 每个主体只读自己的比赛、只写自己的下标，无需加锁
			results[i] = computeEntity(rc, et, stats, groups[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, rs := range results {
		total += len(rs)
	}
	out := make([]Record, 0, total)
	for _, rs := range results {
		out = append(out, rs...)
	}
	return out, nil
}

// GroupByEntity 按主体分组，每组按 最近在前 排序
func GroupByEntity(games []GameRecord) map[int64][]GameRecord {
	groups := make(map[int64][]GameRecord)
	for _, g := range games {
		groups[g.EntityID] = append(groups[g.EntityID], g)
	}
	for id := range groups {
		SortRecentFirst(groups[id])
	}
	return groups
}

// SortRecentFirst 比赛日降序，同日（背靠背补赛等）按 game_id 降序兜底，保证全序
func SortRecentFirst(games []GameRecord) {
	slices.SortStableFunc(games, func(a, b GameRecord) int {
		if c := b.GameDate.Compare(a.GameDate); c != 0 {
			return c
		}
		return cmp.Compare(b.GameID, a.GameID)
	})
}

func computeEntity(rc RunContext, et EntityType, stats []StatDef, games []GameRecord) []Record {
	if len(games) == 0 {
		return nil
	}
	latest := games[0]

	var out []Record
	for _, def := range stats {
		values := make([]float64, len(games))
		for i, g := range games {
			values[i] = def.Value(g)
		}
		for _, threshold := range def.Thresholds() {
			streakLen := 0
			for _, v := range values {
				if !def.IsHit(v, threshold) {
					break
				}
				streakLen++
			}
			if streakLen < rc.MinStreakLength {
				continue
			}

			seasonWins := countHits(def, values, threshold)
			windows := make([]WindowStat, 0, len(WindowSizes))
			for _, size := range WindowSizes {
				n := min(size, len(values))
				hits := countHits(def, values[:n], threshold)
				windows = append(windows, WindowStat{
					Size:   size,
					Hits:   hits,
					Games:  n,
					HitPct: pctOrNil(hits, n),
				})
			}

			out = append(out, Record{
				Key: Key{
					EntityType: et,
					EntityID:   latest.EntityID,
					Stat:       def.Code,
					Threshold:  threshold,
				},
				Sport:        rc.Sport,
				EntityName:   latest.EntityName,
				TeamAbbr:     latest.TeamAbbr,
				StreakLen:    streakLen,
				StreakStart:  games[streakLen-1].GameDate,
				LastGame:     latest.GameDate,
				SeasonWins:   seasonWins,
				SeasonGames:  len(values),
				SeasonWinPct: Pct(seasonWins, len(values)),
				Windows:      windows,
			})
		}
	}
	return out
}

func countHits(def StatDef, values []float64, threshold float64) int {
	n := 0
	for _, v := range values {
		if def.IsHit(v, threshold) {
			n++
		}
	}
	return n
}

var hundred = decimal.NewFromInt(100)

// Pct hits/games*100，保留两位小数；games 为 0 返回 0
func Pct(hits, games int) float64 {
	if games <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(hits)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(games))).
		Round(2).
		InexactFloat64()
}

func pctOrNil(hits, games int) *float64 {
	if games <= 0 {
		return nil
	}
	p := Pct(hits, games)
	return &p
}
