package nbacdn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"StreakSync/internal/adapter"
	"StreakSync/internal/config"
	"StreakSync/internal/interfaces"
	"StreakSync/internal/model"
	"StreakSync/internal/streak"
	"StreakSync/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
)

// DefaultBaseURL NBA live-data CDN
const DefaultBaseURL = "https://cdn.nba.com/static/json/liveData"

func init() {
	adapter.Register(model.SourceNBACDN, NewNBACDNAdapter)
}

type Adapter struct {
	cfg        *config.SourceConfig
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewNBACDNAdapter(cfg *config.SourceConfig, logger *logrus.Logger) interfaces.GameLogSource {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Adapter{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		logger:     logger,
	}
}

func (a *Adapter) GetName() string { return "NBA CDN" }

func (a *Adapter) GetType() model.SourceType { return model.SourceNBACDN }

// FetchScoreboard 今日赛程，失败即视为上游不可用
func (a *Adapter) FetchScoreboard(ctx context.Context) ([]model.NBAScoreGame, error) {
	var resp model.NBAScoreboardResponse
	u := a.baseURL + "/scoreboard/todaysScoreboard_00.json"
	if err := httpclient.GetJSON(ctx, a.httpClient, u, a.cfg.RetryCount, &resp); err != nil {
		return nil, fmt.Errorf("获取NBA今日赛程失败: %w", err)
	}
	a.logger.WithFields(logrus.Fields{
		"game_date": resp.Scoreboard.GameDate,
		"games":     len(resp.Scoreboard.Games),
	}).Info("获取NBA今日赛程成功")
	return resp.Scoreboard.Games, nil
}

// FetchCompletedGames 对完赛且未入库的比赛逐场拉取 boxscore；单场失败跳过
func (a *Adapter) FetchCompletedGames(ctx context.Context, known map[string]bool) (*model.GameLogBatch, error) {
	games, err := a.FetchScoreboard(ctx)
	if err != nil {
		return nil, err
	}

	batch := &model.GameLogBatch{}
	first := true
	for _, g := range games {
		if g.GameStatus != model.NBAGameStatusFinal {
			continue
		}
		if known[g.GameID] {
			batch.GamesSkipped++
			a.logger.WithField("game_id", g.GameID).Debug("比赛已入库，跳过")
			continue
		}
		if !first && a.cfg.FetchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.cfg.FetchDelay):
			}
		}
		first = false

		box, err := a.fetchBoxscore(ctx, g.GameID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			batch.GamesFailed++
			a.logger.WithError(err).WithField("game_id", g.GameID).Warn("boxscore拉取失败，跳过该场")
			continue
		}
		players, teams, err := ExtractGameLogs(box)
		if err != nil {
			batch.GamesFailed++
			a.logger.WithError(err).WithField("game_id", g.GameID).Warn("boxscore数据异常，跳过该场")
			continue
		}
		batch.Players = append(batch.Players, players...)
		batch.Teams = append(batch.Teams, teams...)
		batch.GamesFetched++
		a.logger.WithFields(logrus.Fields{
			"game_id": g.GameID,
			"players": len(players),
		}).Info("解析boxscore成功")
	}
	return batch, nil
}

func (a *Adapter) fetchBoxscore(ctx context.Context, gameID string) (*model.NBABoxscoreGame, error) {
	var resp model.NBABoxscoreResponse
	u := fmt.Sprintf("%s/boxscore/boxscore_%s.json", a.baseURL, gameID)
	if err := httpclient.GetJSON(ctx, a.httpClient, u, a.cfg.RetryCount, &resp); err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return nil, fmt.Errorf("boxscore %s 尚未发布: %w", gameID, err)
		}
		return nil, err
	}
	return &resp.Game, nil
}

// ExtractGameLogs boxscore → 球员行 + 球队行；未出场（无统计）的球员不产生记录
func ExtractGameLogs(box *model.NBABoxscoreGame) (players, teams []streak.GameRecord, err error) {
	gameDate, err := ParseGameDate(box.GameTimeUTC)
	if err != nil {
		return nil, nil, fmt.Errorf("比赛%s: %w", box.GameID, err)
	}
	home, away := box.HomeTeam, box.AwayTeam
	homeWon := home.Score > away.Score

	for _, side := range []struct {
		team   model.NBABoxscoreTeam
		isHome bool
	}{{home, true}, {away, false}} {
		t := side.team
		var matchup, wl string
		if side.isHome {
			matchup = fmt.Sprintf("%s vs. %s", t.TeamTricode, away.TeamTricode)
			wl = winLoss(homeWon)
		} else {
			matchup = fmt.Sprintf("%s @ %s", t.TeamTricode, home.TeamTricode)
			wl = winLoss(!homeWon)
		}

		teams = append(teams, streak.GameRecord{
			EntityID:   t.TeamID,
			EntityName: t.TeamTricode,
			TeamAbbr:   t.TeamTricode,
			GameID:     box.GameID,
			GameDate:   gameDate,
			Matchup:    matchup,
			WL:         wl,
			Pts:        t.Score,
		})

		for _, p := range t.Players {
			if p.Statistics == nil {
				continue
			}
			name := p.Name
			if name == "" {
				name = strings.TrimSpace(p.FirstName + " " + p.FamilyName)
			}
			s := p.Statistics
			players = append(players, streak.GameRecord{
				EntityID:   p.PersonID,
				EntityName: name,
				TeamAbbr:   t.TeamTricode,
				GameID:     box.GameID,
				GameDate:   gameDate,
				Matchup:    matchup,
				WL:         wl,
				Pts:        s.Points,
				Reb:        s.ReboundsTotal,
				Ast:        s.Assists,
				Fg3m:       s.ThreePointersMade,
				Blk:        s.Blocks,
				Stl:        s.Steals,
			})
		}
	}
	return players, teams, nil
}

// ParseGameDate 取 gameTimeUTC 的日期部分（UTC 零点）
func ParseGameDate(gameTimeUTC string) (time.Time, error) {
	datePart, _, _ := strings.Cut(gameTimeUTC, "T")
	d, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("gameTimeUTC 无法解析: %q", gameTimeUTC)
	}
	return d, nil
}

func winLoss(won bool) string {
	if won {
		return "W"
	}
	return "L"
}
