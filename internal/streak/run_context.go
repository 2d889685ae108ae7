package streak

import (
	"fmt"
	"time"
)

const (
	// DefaultMinStreakLength 少于该长度的连续命中不算连胜
	DefaultMinStreakLength = 3
	// DefaultStaleAfter 超过该时长未成功刷新即提示数据可能延迟
	DefaultStaleAfter = 3 * time.Hour
	// DefaultSport 当前只接入 NBA
	DefaultSport = "NBA"
)

// RunContext 一次刷新的显式上下文，计算只依赖这里的值而不读全局时钟
type RunContext struct {
	Now             time.Time
	Sport           string
	Season          string
	MinStreakLength int
	StaleAfter      time.Duration
}

// NewRunContext 用默认值补齐，season 为空时按 now 推算
func NewRunContext(now time.Time, sport, season string, minLen int, staleAfter time.Duration) RunContext {
	if sport == "" {
		sport = DefaultSport
	}
	if season == "" {
		season = SeasonFor(now)
	}
	if minLen <= 0 {
		minLen = DefaultMinStreakLength
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return RunContext{
		Now:             now.UTC(),
		Sport:           sport,
		Season:          season,
		MinStreakLength: minLen,
		StaleAfter:      staleAfter,
	}
}

// SeasonFor NBA 赛季标签，10 月起算新赛季，如 2025-10-15 → "2025-26"
func SeasonFor(t time.Time) string {
	start := t.Year()
	if t.Month() < time.October {
		start--
	}
	return fmt.Sprintf("%d-%02d", start, (start+1)%100)
}

// DateOf 截断到 UTC 零点
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsStale lastRun 为空不算过期（前端显示“暂无数据”而不是“延迟”）
func IsStale(lastRun *time.Time, now time.Time, threshold time.Duration) bool {
	if lastRun == nil {
		return false
	}
	return now.Sub(*lastRun) > threshold
}

// HoursSince lastRun 为空返回 nil
func HoursSince(lastRun *time.Time, now time.Time) *float64 {
	if lastRun == nil {
		return nil
	}
	h := now.Sub(*lastRun).Hours()
	return &h
}
