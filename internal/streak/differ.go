package streak

import "slices"

// Diff 对比本轮连胜集合与上一轮快照，产出 started / extended / broken 事件。
// 长度不变不产生事件，事件量与变化量成正比而不是与连胜总数成正比。
func Diff(rc RunContext, next []Record, prior Snapshot, log []GameRecord) []Event {
	var events []Event
	present := make(map[Key]struct{}, len(next))

	for _, r := range next {
		present[r.Key] = struct{}{}
		newLen := r.StreakLen
		lastGame := r.LastGame

		old, ok := prior[r.Key]
		switch {
		case !ok:
			events = append(events, Event{
				Key:        r.Key,
				Sport:      r.Sport,
				EntityName: r.EntityName,
				TeamAbbr:   r.TeamAbbr,
				Type:       EventStarted,
				NewLen:     &newLen,
				LastGame:   &lastGame,
			})
		case newLen > old.StreakLen:
			prevLen := old.StreakLen
			events = append(events, Event{
				Key:        r.Key,
				Sport:      r.Sport,
				EntityName: r.EntityName,
				TeamAbbr:   r.TeamAbbr,
				Type:       EventExtended,
				PrevLen:    &prevLen,
				NewLen:     &newLen,
				LastGame:   &lastGame,
			})
		}
	}

	// 快照中存在、本轮消失的 key → broken；按 key 排序保证输出稳定
	var gone []Key
	for k := range prior {
		if _, ok := present[k]; !ok {
			gone = append(gone, k)
		}
	}
	if len(gone) == 0 {
		return events
	}
	slices.SortFunc(gone, func(a, b Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})

	latest := latestByEntity(log)
	for _, k := range gone {
		old := prior[k]
		prevLen := old.StreakLen
		ev := Event{
			Key:        k,
			Sport:      rc.Sport,
			EntityName: old.EntityName,
			TeamAbbr:   old.TeamAbbr,
			Type:       EventBroken,
			PrevLen:    &prevLen,
		}
		if g, ok := latest[k.EntityID]; ok {
			// 主体仍有比赛：用当前日志里最新一场的信息
			d := g.GameDate
			ev.LastGame = &d
			if g.EntityName != "" {
				ev.EntityName = g.EntityName
			}
			if g.TeamAbbr != "" {
				ev.TeamAbbr = g.TeamAbbr
			}
		} else if !old.LastGame.IsZero() {
			// 主体已无近期比赛，尽力沿用上一轮的数据
			d := old.LastGame
			ev.LastGame = &d
		}
		events = append(events, ev)
	}
	return events
}

func latestByEntity(log []GameRecord) map[int64]GameRecord {
	out := make(map[int64]GameRecord)
	for _, g := range log {
		cur, ok := out[g.EntityID]
		if !ok || isMoreRecent(g, cur) {
			out[g.EntityID] = g
		}
	}
	return out
}

func isMoreRecent(a, b GameRecord) bool {
	if !a.GameDate.Equal(b.GameDate) {
		return a.GameDate.After(b.GameDate)
	}
	return a.GameID > b.GameID
}

// SnapshotOf 把一组记录投影为快照，测试与 diff 模式落库共用
func SnapshotOf(records []Record) Snapshot {
	s := make(Snapshot, len(records))
	for _, r := range records {
		s[r.Key] = Prior{
			StreakLen:  r.StreakLen,
			EntityName: r.EntityName,
			TeamAbbr:   r.TeamAbbr,
			LastGame:   r.LastGame,
		}
	}
	return s
}

// Changes 统计各类事件数量
func Changes(events []Event) map[EventType]int {
	out := map[EventType]int{}
	for _, e := range events {
		out[e.Type]++
	}
	return out
}
