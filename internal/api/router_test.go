package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"StreakSync/internal/auth"
	"StreakSync/internal/config"
	"StreakSync/internal/metrics"
	"StreakSync/internal/model"
	"StreakSync/internal/repository"
	"StreakSync/internal/service"
	"StreakSync/internal/streak"
	"StreakSync/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "refresh-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRefresher struct {
	sum  *service.RefreshSummary
	err  error
	only []streak.EntityType
}

func (f *fakeRefresher) Run(_ context.Context, only ...streak.EntityType) (*service.RefreshSummary, error) {
	f.only = only
	return f.sum, f.err
}

type fakeGames struct {
	sum *service.GamesSummary
	err error
}

func (f *fakeGames) Run(context.Context) (*service.GamesSummary, error) {
	return f.sum, f.err
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type testEnv struct {
	router  *gin.Engine
	refresh *fakeRefresher
	games   *fakeGames
	streaks *repository.StreakRepository
	events  *repository.EventRepository
	users   *repository.UserFlagRepository
	jwt     auth.JWT
}

func newEnv(t *testing.T, triggerURL string, db Pinger) *testEnv {
	t.Helper()
	gdb := testutil.NewDB(t)
	logger := testutil.Logger()
	cfg := &config.Config{
		Refresh: config.RefreshConfig{Secret: testSecret, EntityTypes: []string{"player", "team"}},
		Streak:  config.StreakConfig{Sport: "NBA", Season: "2025-26"},
		Auth:    config.AuthConfig{JWTSecret: "jwt-secret", Issuer: "streaksync"},
	}
	env := &testEnv{
		refresh: &fakeRefresher{},
		games:   &fakeGames{},
		streaks: repository.NewStreakRepository(gdb),
		events:  repository.NewEventRepository(gdb),
		users:   repository.NewUserFlagRepository(gdb),
		jwt:     auth.JWT{Secret: []byte("jwt-secret"), Issuer: "streaksync"},
	}
	refreshSvc := service.NewRefreshService(cfg, service.RefreshDeps{}, logger)
	query := service.NewQueryService(env.streaks, env.events, repository.NewGameLogRepository(gdb),
		repository.NewStatusRepository(gdb), refreshSvc, logger)

	env.router = NewRouter(RouterDeps{
		Config:  cfg,
		Refresh: NewRefreshHandler(env.refresh, env.games, testSecret, triggerURL, time.Second, logger),
		Streaks: NewStreakHandler(query, 0, logger),
		Admins:  env.users,
		Metrics: metrics.New(),
		DB:      db,
		Logger:  logger,
	})
	return env
}

func (e *testEnv) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.jwt.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID}})
	require.NoError(t, err)
	return "Bearer " + tok
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRefreshEndpoint_Secret(t *testing.T) {
	env := newEnv(t, "", pinger{})
	env.refresh.sum = &service.RefreshSummary{OK: true, State: service.StateDone}

	w := env.do(http.MethodPost, "/refresh/players-and-streaks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/refresh/players-and-streaks", map[string]string{HeaderRefreshSecret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["ok"])

	w = env.do(http.MethodPost, "/refresh/players-and-streaks?entity_type=team", map[string]string{HeaderRefreshSecret: testSecret})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
	assert.Equal(t, []streak.EntityType{streak.EntityTeam}, env.refresh.only)

	w = env.do(http.MethodPost, "/refresh/players-and-streaks?entity_type=coach", map[string]string{HeaderRefreshSecret: testSecret})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshEndpoint_StatusMapping(t *testing.T) {
	hdr := map[string]string{HeaderRefreshSecret: testSecret}
	cases := []struct {
		name string
		sum  *service.RefreshSummary
		err  error
		code int
		ok   any
	}{
		{"in progress", nil, service.ErrRunInProgress, http.StatusConflict, false},
		{"upstream", &service.RefreshSummary{Error: "403"}, fmt.Errorf("%w: nbacdn: 403", service.ErrUpstream), http.StatusBadGateway, false},
		{"storage", &service.RefreshSummary{Error: "写入连胜全部失败"}, errors.New("写入连胜全部失败"), http.StatusOK, false},
		{"lock backend", nil, errors.New("redis down"), http.StatusInternalServerError, false},
		{"partial", &service.RefreshSummary{OK: true, StepErrors: []service.StepError{{Step: "streaks_insert"}}}, nil, http.StatusOK, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t, "", pinger{})
			env.refresh.sum, env.refresh.err = tc.sum, tc.err
			w := env.do(http.MethodPost, "/refresh/players-and-streaks", hdr)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, tc.ok, decode(t, w)["ok"])
		})
	}
}

func TestGamesTodayEndpoint(t *testing.T) {
	env := newEnv(t, "", pinger{})
	env.games.sum = &service.GamesSummary{OK: true, Games: 7}
	w := env.do(http.MethodPost, "/refresh/games-today", map[string]string{HeaderRefreshSecret: testSecret})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decode(t, w)["games"])

	env.games.sum, env.games.err = &service.GamesSummary{}, service.ErrUpstream
	w = env.do(http.MethodPost, "/refresh/games-today", map[string]string{HeaderRefreshSecret: testSecret})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAdminRefresh_ForwardsWithSecret(t *testing.T) {
	var gotSecret, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(HeaderRefreshSecret)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"counts":{"streaks":12}}`))
	}))
	defer upstream.Close()

	env := newEnv(t, upstream.URL+"/refresh/players-and-streaks", pinger{})
	require.NoError(t, env.users.SetAdmin(context.Background(), "admin-1", true))
	require.NoError(t, env.users.SetAdmin(context.Background(), "user-2", false))

	w := env.do(http.MethodPost, "/admin/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/admin/refresh", map[string]string{"Authorization": env.token(t, "user-2")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/admin/refresh?entity_type=player", map[string]string{"Authorization": env.token(t, "admin-1")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testSecret, gotSecret)
	assert.Equal(t, "entity_type=player", gotQuery)
	assert.Equal(t, true, decode(t, w)["ok"])
}

func TestAdminRefresh_UnreachableTarget(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	env := newEnv(t, target, pinger{})
	require.NoError(t, env.users.SetAdmin(context.Background(), "admin-1", true))
	w := env.do(http.MethodPost, "/admin/refresh", map[string]string{"Authorization": env.token(t, "admin-1")})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAdminRefresh_InProcessWhenNoTarget(t *testing.T) {
	env := newEnv(t, "", pinger{})
	env.refresh.sum = &service.RefreshSummary{OK: true}
	require.NoError(t, env.users.SetAdmin(context.Background(), "admin-1", true))
	w := env.do(http.MethodPost, "/admin/refresh", map[string]string{"Authorization": env.token(t, "admin-1")})
	assert.Equal(t, http.StatusOK, w.Code)
}

func seedStreak(t *testing.T, env *testEnv, id int64, name string, threshold float64, n int) {
	t.Helper()
	require.NoError(t, env.streaks.InsertBatch(context.Background(), []*model.Streak{model.NewStreak(streak.Record{
		Key:          streak.Key{EntityType: streak.EntityPlayer, EntityID: id, Stat: "PTS", Threshold: threshold},
		Sport:        "NBA",
		EntityName:   name,
		TeamAbbr:     "GSW",
		StreakLen:    n,
		StreakStart:  time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		LastGame:     time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC),
		SeasonWins:   n,
		SeasonGames:  n + 1,
		SeasonWinPct: 80,
	})}))
}

func TestListStreaks(t *testing.T) {
	env := newEnv(t, "", pinger{})
	seedStreak(t, env, 201939, "Stephen Curry", 20, 6)
	seedStreak(t, env, 201939, "Stephen Curry", 25, 4)
	seedStreak(t, env, 1628398, "Kevon Looney", 5, 3)

	w := env.do(http.MethodGet, "/api/streaks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["count"])
	first := body["streaks"].([]any)[0].(map[string]any)
	assert.Equal(t, "NBA-player-201939-PTS-20", first["id"])

	w = env.do(http.MethodGet, "/api/streaks?keep_all=true&search=CURRY&sort=threshold&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, 25, body["streaks"].([]any)[0].(map[string]any)["threshold"])

	w = env.do(http.MethodGet, "/api/streaks?min_streak=5", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	for _, q := range []string{"sort=hot", "entity_type=coach", "min_streak=x", "min_threshold=abc"} {
		w = env.do(http.MethodGet, "/api/streaks?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestEntityStreaksAndEvents(t *testing.T) {
	env := newEnv(t, "", pinger{})
	seedStreak(t, env, 201939, "Stephen Curry", 20, 6)
	prev, next := 5, 6
	require.NoError(t, env.events.Append(context.Background(), []*model.StreakEvent{
		model.NewStreakEvent("e1", "run-1", 0, streak.Event{
			Key:        streak.Key{EntityType: streak.EntityPlayer, EntityID: 201939, Stat: "PTS", Threshold: 20},
			Sport:      "NBA",
			EntityName: "Stephen Curry",
			Type:       streak.EventExtended,
			PrevLen:    &prev,
			NewLen:     &next,
		}, time.Now().UTC()),
	}))

	w := env.do(http.MethodGet, "/api/streaks/entity/player/201939", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entity := decode(t, w)["entity"].(map[string]any)
	assert.Equal(t, "Stephen Curry", entity["entity_name"])
	assert.Len(t, entity["streaks"], 1)
	assert.Len(t, entity["events"], 1)

	w = env.do(http.MethodGet, "/api/streaks/entity/player/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(http.MethodGet, "/api/streaks/entity/coach/42", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(http.MethodGet, "/api/streaks/entity/player/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/streak-events?entity_type=player&entity_id=201939&limit=5000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	ev := body["events"].([]any)[0].(map[string]any)
	assert.Equal(t, "extended", ev["event_type"])
	assert.EqualValues(t, 5, ev["prev_streak_len"])
}

func TestRefreshStatusEndpoint(t *testing.T) {
	env := newEnv(t, "", pinger{})
	w := env.do(http.MethodGet, "/api/refresh-status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "NBA", body["sport"])
	assert.EqualValues(t, 3, body["stale_after_hours"])
	assert.Len(t, body["jobs"], 2)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t, "", pinger{})
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", nil).Code)

	w := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	down := newEnv(t, "", pinger{err: errors.New("connection refused")})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/readyz", nil).Code)
}

func TestCORSPreflightAllowsRefreshSecret(t *testing.T) {
	env := newEnv(t, "", pinger{})
	w := env.do(http.MethodOptions, "/refresh/players-and-streaks", map[string]string{
		"Origin":                         "https://streaks.example.com",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": HeaderRefreshSecret,
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), http.CanonicalHeaderKey(HeaderRefreshSecret))
}
