package model

// NBA live-data CDN 原始结构（只保留用到的字段）

// NBAScoreboardResponse todaysScoreboard_00.json
type NBAScoreboardResponse struct {
	Scoreboard struct {
		GameDate string         `json:"gameDate"`
		Games    []NBAScoreGame `json:"games"`
	} `json:"scoreboard"`
}

// NBAScoreGame 赛程中的一场比赛
type NBAScoreGame struct {
	GameID         string           `json:"gameId"`
	GameStatus     int              `json:"gameStatus"` // 1 未开始 2 进行中 3 完赛
	GameStatusText string           `json:"gameStatusText"`
	GameTimeUTC    string           `json:"gameTimeUTC"`
	HomeTeam       NBAScoreGameTeam `json:"homeTeam"`
	AwayTeam       NBAScoreGameTeam `json:"awayTeam"`
}

// NBAScoreGameTeam 赛程中的球队
type NBAScoreGameTeam struct {
	TeamID      int64  `json:"teamId"`
	TeamTricode string `json:"teamTricode"`
	Score       int    `json:"score"`
}

// NBAGameStatusFinal 完赛
const NBAGameStatusFinal = 3

// NBABoxscoreResponse boxscore_{gameId}.json
type NBABoxscoreResponse struct {
	Game NBABoxscoreGame `json:"game"`
}

// NBABoxscoreGame 单场技术统计
type NBABoxscoreGame struct {
	GameID      string          `json:"gameId"`
	GameTimeUTC string          `json:"gameTimeUTC"`
	GameStatus  int             `json:"gameStatus"`
	HomeTeam    NBABoxscoreTeam `json:"homeTeam"`
	AwayTeam    NBABoxscoreTeam `json:"awayTeam"`
}

// NBABoxscoreTeam 单队及其球员
type NBABoxscoreTeam struct {
	TeamID      int64       `json:"teamId"`
	TeamTricode string      `json:"teamTricode"`
	Score       int         `json:"score"`
	Players     []NBAPlayer `json:"players"`
}

// NBAPlayer 球员统计；Statistics 为 nil 表示未出场
type NBAPlayer struct {
	PersonID   int64                `json:"personId"`
	Name       string               `json:"name"`
	FirstName  string               `json:"firstName"`
	FamilyName string               `json:"familyName"`
	Statistics *NBAPlayerStatistics `json:"statistics"`
}

// NBAPlayerStatistics 用到的技术统计
type NBAPlayerStatistics struct {
	Points            int `json:"points"`
	ReboundsTotal     int `json:"reboundsTotal"`
	Assists           int `json:"assists"`
	ThreePointersMade int `json:"threePointersMade"`
	Blocks            int `json:"blocks"`
	Steals            int `json:"steals"`
}
