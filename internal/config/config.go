package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"StreakSync/internal/streak"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`   // 服务器配置
	Database DatabaseConfig          `mapstructure:"database"` // PostgreSQL配置
	Refresh  RefreshConfig           `mapstructure:"refresh"`  // 刷新任务配置
	Streak   StreakConfig            `mapstructure:"streak"`   // 连胜计算配置
	Auth     AuthConfig              `mapstructure:"auth"`     // 管理员鉴权
	Redis    RedisConfig             `mapstructure:"redis"`    // 跨进程运行锁
	Sources  map[string]SourceConfig `mapstructure:"sources"`  // 上游数据源独立配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int      `mapstructure:"port"`         // 服务端口
	Mode        string   `mapstructure:"mode"`         // Gin运行模式：debug/release/test
	CORSOrigins []string `mapstructure:"cors_origins"` // 允许跨域的前端地址，空则放开
}

// DatabaseConfig PostgreSQL数据库配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
	LogLevel        string        `mapstructure:"log_level"`         // GORM日志：silent/error/warn/info
}

// RefreshConfig 刷新任务配置
type RefreshConfig struct {
	Cron          string        `mapstructure:"cron"`           // 定时刷新Cron表达式（含秒），空则不启用
	GamesCron     string        `mapstructure:"games_cron"`     // 今日赛程刷新Cron表达式
	Secret        string        `mapstructure:"secret"`         // x-refresh-secret 共享密钥
	TriggerURL    string        `mapstructure:"trigger_url"`    // 管理员接口服务端转发的目标地址
	Source        string        `mapstructure:"source"`         // 使用的数据源名称
	EntityTypes   []string      `mapstructure:"entity_types"`   // 每轮刷新的主体类型
	BatchSize     int           `mapstructure:"batch_size"`     // 批量写入大小
	PersistMode   string        `mapstructure:"persist_mode"`   // replace：先删后插；diff：按key增量
	Workers       int           `mapstructure:"workers"`        // 按主体并行计算的协程数
	LockTTL       time.Duration `mapstructure:"lock_ttl"`       // 运行锁过期时间，持锁期间自动续期
	RunTimeout    time.Duration `mapstructure:"run_timeout"`    // 单次刷新上限，不随调用方取消
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`   // 管理员转发请求超时
	EventsMaxRead int           `mapstructure:"events_max_read"` // 事件列表单次最多返回条数
}

// StreakConfig 连胜计算配置
type StreakConfig struct {
	Sport           string                             `mapstructure:"sport"`             // 运动，目前仅 NBA
	Season          string                             `mapstructure:"season"`            // 赛季标签，空则按当前日期推算
	MinStreakLength int                                `mapstructure:"min_streak_length"` // 最短连胜长度
	StaleAfter      time.Duration                      `mapstructure:"stale_after"`       // 数据过期阈值
	Thresholds      map[string]map[string]streak.Range `mapstructure:"thresholds"`        // 阈值区间覆盖：entity_type → stat → range
}

// AuthConfig 管理员JWT配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // HS256签名密钥
	Issuer    string `mapstructure:"issuer"`     // 期望的签发方，空则不校验
}

// RedisConfig Redis配置，Addr为空时只使用进程内锁
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SourceConfig 单个上游数据源配置
type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`    // 数据源基础地址
	Timeout    int           `mapstructure:"timeout"`     // 请求超时（秒）
	RetryCount int           `mapstructure:"retry_count"` // 单个请求重试次数
	Proxy      string        `mapstructure:"proxy"`       // 代理地址
	UserAgent  string        `mapstructure:"user_agent"`  // 部分CDN会拦截默认UA
	FetchDelay time.Duration `mapstructure:"fetch_delay"` // 逐场拉取之间的间隔，避免被限流
}

// LoadConfigFrom 加载 dir 下的 config.yaml，敏感项从 .env 覆盖（不提交 git）
func LoadConfigFrom(dir string) (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("refresh.source", "nbacdn")
	v.SetDefault("refresh.entity_types", []string{string(streak.EntityPlayer), string(streak.EntityTeam)})
	v.SetDefault("refresh.batch_size", 500)
	v.SetDefault("refresh.persist_mode", "replace")
	v.SetDefault("refresh.workers", 4)
	v.SetDefault("refresh.lock_ttl", 10*time.Minute)
	v.SetDefault("refresh.run_timeout", 15*time.Minute)
	v.SetDefault("refresh.http_timeout", 5*time.Minute)
	v.SetDefault("refresh.events_max_read", 200)
	v.SetDefault("streak.sport", streak.DefaultSport)
	v.SetDefault("streak.min_streak_length", streak.DefaultMinStreakLength)
	v.SetDefault("streak.stale_after", streak.DefaultStaleAfter)
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REFRESH_SECRET"); v != "" {
		cfg.Refresh.Secret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if s, ok := cfg.Sources["nbacdn"]; ok {
		if v := os.Getenv("NBA_CDN_PROXY"); v != "" {
			s.Proxy = v
		}
		cfg.Sources["nbacdn"] = s
	}
}

// Validate 启动前校验关键配置
func (c *Config) Validate() error {
	if c.Refresh.Secret == "" {
		return fmt.Errorf("refresh.secret 未配置（或设置 REFRESH_SECRET）")
	}
	switch c.Refresh.PersistMode {
	case "replace", "diff":
	default:
		return fmt.Errorf("refresh.persist_mode 取值非法: %s", c.Refresh.PersistMode)
	}
	for _, et := range c.Refresh.EntityTypes {
		if _, ok := streak.ParseEntityType(et); !ok {
			return fmt.Errorf("refresh.entity_types 含未知类型: %s", et)
		}
	}
	if c.Refresh.RunTimeout < 0 {
		return fmt.Errorf("refresh.run_timeout 不能为负: %s", c.Refresh.RunTimeout)
	}
	if _, ok := c.Sources[c.Refresh.Source]; !ok {
		return fmt.Errorf("未获取到数据源配置: %s", c.Refresh.Source)
	}
	return nil
}

// EntityTypes 配置中的主体类型
func (c *Config) EntityTypes() []streak.EntityType {
	out := make([]streak.EntityType, 0, len(c.Refresh.EntityTypes))
	for _, s := range c.Refresh.EntityTypes {
		out = append(out, streak.EntityType(s))
	}
	return out
}

// ThresholdOverrides 转成目录需要的结构，stat code 统一大写（viper 会把 key 转小写）
func (s *StreakConfig) ThresholdOverrides() map[streak.EntityType]map[string]streak.Range {
	out := make(map[streak.EntityType]map[string]streak.Range, len(s.Thresholds))
	for et, byCode := range s.Thresholds {
		m := make(map[string]streak.Range, len(byCode))
		for code, r := range byCode {
			m[strings.ToUpper(code)] = r
		}
		out[streak.EntityType(strings.ToLower(et))] = m
	}
	return out
}

// GetGORMConfig 按 log_level 生成 GORM 配置
func (d *DatabaseConfig) GetGORMConfig() *gorm.Config {
	level := logger.Warn
	switch strings.ToLower(d.LogLevel) {
	case "silent":
		level = logger.Silent
	case "error":
		level = logger.Error
	case "info":
		level = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}
