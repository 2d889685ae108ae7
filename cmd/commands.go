package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StreakSync/internal/api"
	cronrunner "StreakSync/internal/cron"
	"StreakSync/internal/model"
	"StreakSync/internal/streak"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configDir string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "streaksync",
		Short:         "NBA streak computation and event detection",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configDir, "config", "./config", "directory containing config.yaml")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "logrus level: debug/info/warn/error")

	root.AddCommand(
		newServeCmd(flags),
		newRefreshCmd(flags),
		newGamesCmd(flags),
		newMigrateCmd(flags),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the scheduled refresh jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, flags.configDir, flags.logLevel)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	// 定时任务
	runner := cronrunner.New(logger, ctx)
	if cfg.Refresh.Cron != "" {
		if _, err := runner.Add(model.JobStreaks, cfg.Refresh.Cron, func(ctx context.Context) error {
			_, err := a.refresh.Run(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("注册连胜刷新定时任务失败: %w", err)
		}
	}
	if cfg.Refresh.GamesCron != "" {
		if _, err := runner.Add(model.JobGames, cfg.Refresh.GamesCron, func(ctx context.Context) error {
			_, err := a.gamesToday.Run(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("注册赛程刷新定时任务失败: %w", err)
		}
	}
	if runner.Len() > 0 {
		runner.Start()
		defer runner.Stop()
	}

	// 配置Gin运行模式（从配置读取：debug/release）
	gin.SetMode(cfg.Server.Mode)
	logger.Infof("Gin运行模式: %s", cfg.Server.Mode)

	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("获取SQL DB失败: %w", err)
	}
	router := api.NewRouter(api.RouterDeps{
		Config:   cfg,
		Refresh:  api.NewRefreshHandler(a.refresh, a.gamesToday, cfg.Refresh.Secret, cfg.Refresh.TriggerURL, cfg.Refresh.HTTPTimeout, logger),
		Streaks:  api.NewStreakHandler(a.query, cfg.Refresh.EventsMaxRead, logger),
		Admins:   a.users,
		Metrics:  a.metrics,
		DB:       sqlDB,
		Logger:   logger,
		Profiler: cfg.Server.Mode != gin.ReleaseMode,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("服务启动成功，端口：%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("启动服务失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRefreshCmd(flags *rootFlags) *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one streak refresh and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var only []streak.EntityType
			if entityType != "" {
				et, ok := streak.ParseEntityType(entityType)
				if !ok {
					return fmt.Errorf("未知的 entity-type: %s", entityType)
				}
				only = append(only, et)
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx, flags.configDir, flags.logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.refresh.Run(ctx, only...)
			if sum != nil {
				if perr := printJSON(cmd, sum); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "refresh only player or team")
	return cmd
}

func newGamesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "Refresh today's games from the scoreboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx, flags.configDir, flags.logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.gamesToday.Run(ctx)
			if sum != nil {
				if perr := printJSON(cmd, sum); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var admins []string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables, optionally granting admin to users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx, flags.configDir, flags.logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range admins {
				if err := a.users.SetAdmin(ctx, id, true); err != nil {
					return err
				}
				a.logger.WithField("user_id", id).Info("已授予管理员")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&admins, "admin", nil, "user id to mark as admin (repeatable)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
