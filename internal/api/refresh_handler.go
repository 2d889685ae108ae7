package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"StreakSync/internal/auth"
	"StreakSync/internal/service"
	"StreakSync/internal/streak"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HeaderRefreshSecret 定时任务调用刷新接口时携带的共享密钥
const HeaderRefreshSecret = "x-refresh-secret"

// StreakRefresher 连胜刷新
type StreakRefresher interface {
	Run(ctx context.Context, only ...streak.EntityType) (*service.RefreshSummary, error)
}

// GamesRefresher 今日赛程刷新
type GamesRefresher interface {
	Run(ctx context.Context) (*service.GamesSummary, error)
}

// RefreshHandler 刷新触发接口
type RefreshHandler struct {
	refresh    StreakRefresher
	games      GamesRefresher
	secret     string
	triggerURL string
	client     *http.Client
	logger     *logrus.Logger
}

// NewRefreshHandler triggerURL 为空时管理员接口直接在进程内执行刷新
func NewRefreshHandler(refresh StreakRefresher, games GamesRefresher, secret, triggerURL string, timeout time.Duration, logger *logrus.Logger) *RefreshHandler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RefreshHandler{
		refresh:    refresh,
		games:      games,
		secret:     secret,
		triggerURL: triggerURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RequireSecret 校验 x-refresh-secret
func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderRefreshSecret)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// PlayersAndStreaks 刷新比赛日志与连胜
// POST /refresh/players-and-streaks?entity_type=player
func (h *RefreshHandler) PlayersAndStreaks(c *gin.Context) {
	var only []streak.EntityType
	if raw := c.Query("entity_type"); raw != "" {
		et, ok := streak.ParseEntityType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": fmt.Sprintf("invalid entity_type: %s", raw)})
			return
		}
		only = append(only, et)
	}

	sum, err := h.refresh.Run(c.Request.Context(), only...)
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, service.ErrUpstream):
		c.JSON(http.StatusBadGateway, sum)
	case sum == nil:
		h.logger.WithError(err).Error("刷新连胜失败")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	default:
		// 其余失败也返回 200，由 ok 字段区分
		c.JSON(http.StatusOK, sum)
	}
}

// GamesToday 刷新今日赛程
// POST /refresh/games-today
func (h *RefreshHandler) GamesToday(c *gin.Context) {
	sum, err := h.games.Run(c.Request.Context())
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, service.ErrUpstream):
		c.JSON(http.StatusBadGateway, sum)
	case sum == nil:
		h.logger.WithError(err).Error("刷新今日赛程失败")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	default:
		c.JSON(http.StatusOK, sum)
	}
}

// AdminRefresh 管理员手动刷新，服务端带密钥转发到刷新接口
// POST /admin/refresh
func (h *RefreshHandler) AdminRefresh(c *gin.Context) {
	userID, _ := c.Get(auth.ContextUserID)
	log := h.logger.WithField("user_id", userID)
	if h.triggerURL == "" {
		log.Info("管理员触发进程内刷新")
		h.PlayersAndStreaks(c)
		return
	}

	target := h.triggerURL
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, target, bytes.NewReader(nil))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	req.Header.Set(HeaderRefreshSecret, h.secret)
	req.Header.Set("Content-Type", "application/json")

	log.WithField("target", h.triggerURL).Info("管理员触发刷新，转发中")
	resp, err := h.client.Do(req)
	if err != nil {
		log.WithError(err).Error("转发刷新请求失败")
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": fmt.Sprintf("刷新接口不可达: %v", err)})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": fmt.Sprintf("读取刷新响应失败: %v", err)})
		return
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json; charset=utf-8"
	}
	c.Data(resp.StatusCode, ct, body)
}
