package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatDef_Thresholds(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		want []float64
	}{
		{"points", Range{10, 40, 5}, []float64{10, 15, 20, 25, 30, 35, 40}},
		{"single", Range{1, 1, 0}, []float64{1}},
		{"fractional", Range{0.5, 1.5, 0.5}, []float64{0.5, 1, 1.5}},
		{"max not on step", Range{1, 4, 2}, []float64{1, 3}},
		{"inverted", Range{5, 1, 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatDef{Range: tt.r}.Thresholds())
		})
	}
}

func TestStatDef_ComboValues(t *testing.T) {
	c := DefaultCatalog()
	g := GameRecord{Pts: 20, Reb: 7, Ast: 5}
	want := map[string]float64{"PTS": 20, "PA": 25, "PR": 27, "RA": 12, "PRA": 32, "3PM": 0}
	for code, v := range want {
		def, ok := c.Lookup(EntityPlayer, code)
		require.True(t, ok, code)
		assert.Equal(t, v, def.Value(g), code)
	}
}

func TestStatDef_IsHit(t *testing.T) {
	c := DefaultCatalog()
	over, _ := c.Lookup(EntityTeam, "PTS")
	under, _ := c.Lookup(EntityTeam, "PTS_U")
	ml, _ := c.Lookup(EntityTeam, "ML")

	assert.True(t, over.IsHit(110, 110))
	assert.False(t, over.IsHit(109, 110))
	assert.True(t, under.IsHit(110, 110))
	assert.False(t, under.IsHit(111, 110))

	assert.True(t, ml.IsHit(ml.Value(GameRecord{WL: "W"}), 1))
	assert.False(t, ml.IsHit(ml.Value(GameRecord{WL: "L"}), 1))
}

func TestCatalog_StatsPerEntityType(t *testing.T) {
	c := DefaultCatalog()
	var players, teams []string
	for _, d := range c.Stats(EntityPlayer) {
		players = append(players, d.Code)
	}
	for _, d := range c.Stats(EntityTeam) {
		teams = append(teams, d.Code)
	}
	assert.Equal(t, []string{"PTS", "REB", "AST", "3PM", "BLK", "STL", "PA", "PR", "RA", "PRA"}, players)
	assert.Equal(t, []string{"PTS", "PTS_U", "ML"}, teams)

	_, ok := c.Lookup(EntityTeam, "REB")
	assert.False(t, ok)
}

func TestCatalog_WithRanges(t *testing.T) {
	base := DefaultCatalog()
	c := base.WithRanges(map[EntityType]map[string]Range{
		EntityPlayer: {"PTS": {20, 30, 10}, "NOPE": {1, 2, 1}},
	})
	def, _ := c.Lookup(EntityPlayer, "PTS")
	assert.Equal(t, []float64{20, 30}, def.Thresholds())

	// 原目录不受影响，球队 PTS 也不受影响
	orig, _ := base.Lookup(EntityPlayer, "PTS")
	assert.Len(t, orig.Thresholds(), 7)
	team, _ := c.Lookup(EntityTeam, "PTS")
	assert.Equal(t, 100.0, team.Thresholds()[0])
}

func TestSeasonFor(t *testing.T) {
	assert.Equal(t, "2025-26", SeasonFor(time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-26", SeasonFor(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2099-00", SeasonFor(time.Date(2099, time.December, 1, 0, 0, 0, 0, time.UTC)))
}

func TestIsStale(t *testing.T) {
	now := time.Date(2025, time.November, 30, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-2 * time.Hour)
	old := now.Add(-4 * time.Hour)

	assert.False(t, IsStale(nil, now, DefaultStaleAfter))
	assert.False(t, IsStale(&fresh, now, DefaultStaleAfter))
	assert.True(t, IsStale(&old, now, DefaultStaleAfter))
	assert.Nil(t, HoursSince(nil, now))
	assert.InDelta(t, 4.0, *HoursSince(&old, now), 1e-9)
}
