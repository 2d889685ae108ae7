package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"StreakSync/internal/service"
	"StreakSync/internal/streak"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultStreakLimit = 200
	maxStreakLimit     = 1000
	defaultEntityGames = 20
)

// StreakHandler 提供给前端的连胜查询接口
type StreakHandler struct {
	query     *service.QueryService
	maxEvents int
	logger    *logrus.Logger
}

func NewStreakHandler(query *service.QueryService, maxEvents int, logger *logrus.Logger) *StreakHandler {
	if maxEvents <= 0 || maxEvents > service.DefaultEventLimit {
		maxEvents = service.DefaultEventLimit
	}
	return &StreakHandler{query: query, maxEvents: maxEvents, logger: logger}
}

// ListStreaks 连胜列表
// GET /api/streaks?entity_type=player&stat=PTS&min_streak=3&sort=streak&search=curry&limit=50
func (h *StreakHandler) ListStreaks(c *gin.Context) {
	p, err := parseListParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	rows, err := h.query.ListStreaks(c.Request.Context(), p)
	if err != nil {
		h.logger.WithError(err).Error("ListStreaks failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(rows), "streaks": rows})
}

func parseListParams(c *gin.Context) (service.StreakListParams, error) {
	p := service.StreakListParams{
		Stat:     strings.ToUpper(strings.TrimSpace(c.Query("stat"))),
		Team:     strings.ToUpper(strings.TrimSpace(c.Query("team"))),
		Search:   strings.TrimSpace(c.Query("search")),
		Sort:     c.Query("sort"),
		Advanced: queryBool(c, "advanced"),
		KeepAll:  queryBool(c, "keep_all"),
		BestBets: queryBool(c, "best_bets"),
		Limit:    defaultStreakLimit,
	}
	if raw := c.Query("entity_type"); raw != "" {
		et, ok := streak.ParseEntityType(raw)
		if !ok {
			return p, fmt.Errorf("invalid entity_type: %s", raw)
		}
		p.EntityType = et
	}
	if !service.ValidSort(p.Sort) {
		return p, fmt.Errorf("invalid sort: %s", p.Sort)
	}

	var err error
	if p.MinStreak, err = queryInt(c, "min_streak", 0); err != nil {
		return p, err
	}
	if p.Limit, err = queryInt(c, "limit", defaultStreakLimit); err != nil {
		return p, err
	}
	if p.Limit <= 0 || p.Limit > maxStreakLimit {
		p.Limit = maxStreakLimit
	}
	if v, err := queryFloat(c, "min_season_pct"); err != nil {
		return p, err
	} else if v != nil {
		p.MinSeasonPct = *v
	}
	if p.MinThreshold, err = queryFloat(c, "min_threshold"); err != nil {
		return p, err
	}
	if p.MaxThreshold, err = queryFloat(c, "max_threshold"); err != nil {
		return p, err
	}
	return p, nil
}

// EntityStreaks 单个球员/球队的连胜、最近比赛与事件
// GET /api/streaks/entity/:entity_type/:entity_id?games=20
func (h *StreakHandler) EntityStreaks(c *gin.Context) {
	et, ok := streak.ParseEntityType(c.Param("entity_type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid entity_type"})
		return
	}
	id, err := strconv.ParseInt(c.Param("entity_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid entity_id"})
		return
	}
	games, err := queryInt(c, "games", defaultEntityGames)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	d, err := h.query.EntityStreaks(c.Request.Context(), et, id, games)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("EntityStreaks failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entity": d})
}

// RecentEvents 最新连胜事件
// GET /api/streak-events?entity_type=player&entity_id=201939&limit=50
func (h *StreakHandler) RecentEvents(c *gin.Context) {
	var et streak.EntityType
	if raw := c.Query("entity_type"); raw != "" {
		v, ok := streak.ParseEntityType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": fmt.Sprintf("invalid entity_type: %s", raw)})
			return
		}
		et = v
	}
	entityID, err := queryInt(c, "entity_id", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit", h.maxEvents)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if limit <= 0 || limit > h.maxEvents {
		limit = h.maxEvents
	}

	rows, err := h.query.RecentEvents(c.Request.Context(), et, int64(entityID), limit)
	if err != nil {
		h.logger.WithError(err).Error("RecentEvents failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(rows), "events": rows})
}

// RefreshStatus 最近成功刷新时间与是否延迟
// GET /api/refresh-status
func (h *StreakHandler) RefreshStatus(c *gin.Context) {
	st, err := h.query.Status(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("RefreshStatus failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func queryBool(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return v, nil
}

func queryFloat(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return &v, nil
}
