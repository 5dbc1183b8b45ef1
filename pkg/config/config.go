package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"3000"`

	// 数据库配置
	UseLocalDB         bool   `env:"USE_LOCAL_DB" envDefault:"false"`
	LocalDBPath        string `env:"LOCAL_DB_PATH" envDefault:"./data/hyrepro.db"`
	PostgresDSN        string `env:"POSTGRES_DSN"`
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	// 为空时由 SupabaseURL 推导出 /functions/v1
	SupabaseFunctionsURL string `env:"SUPABASE_FUNCTIONS_URL"`

	// JWT配置（托管认证服务签发的访问令牌）
	JWTSecret string `env:"SUPABASE_JWT_SECRET" envDefault:"your-secret-key-change-in-production"`

	// 前端流程配置
	DashboardPath  string        `env:"DASHBOARD_PATH" envDefault:"/dashboard"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// 令牌接口的限流与幂等
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"10m"`

	// CORS配置
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// 可观测性
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	// 调试配置
	Debug bool `env:"DEBUG" envDefault:"false"`
}

// LoadConfig 加载配置（支持本地和Vercel环境）
func LoadConfig() (*Config, error) {
	// 根据环境加载对应的 .env 文件
	switch os.Getenv("ENVIRONMENT") {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()

	// 生产环境关闭调试，并且禁止本地文件数据库
	if cfg.IsProduction() {
		cfg.Debug = false
		if cfg.UseLocalDB && (cfg.PostgresDSN != "" || cfg.SupabaseURL != "") {
			cfg.UseLocalDB = false
		}
	}
	return cfg, nil
}

// normalize trims values that commonly arrive with stray whitespace from env sources.
func (c *Config) normalize() {
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.SupabaseURL = strings.TrimRight(strings.TrimSpace(c.SupabaseURL), "/")
	c.SupabaseAnonKey = strings.TrimSpace(c.SupabaseAnonKey)
	c.SupabaseServiceKey = strings.TrimSpace(c.SupabaseServiceKey)
	c.SupabaseFunctionsURL = strings.TrimRight(strings.TrimSpace(c.SupabaseFunctionsURL), "/")
	c.DashboardPath = strings.TrimSpace(c.DashboardPath)
	if c.DashboardPath == "" {
		c.DashboardPath = "/dashboard"
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.AllowedOrigins = origins
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	cachedErr    error
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless (Vercel), it initializes once per cold start and
// reuses it across warm invocations, avoiding per-request parsing.
func GetCached() (*Config, error) {
	configOnce.Do(func() {
		cachedConfig, cachedErr = LoadConfig()
	})
	return cachedConfig, cachedErr
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 验证端口
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// 验证JWT密钥
	if (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) && c.IsProduction() {
		return fmt.Errorf("SUPABASE_JWT_SECRET must be set in production")
	}

	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	// 验证数据库配置
	switch {
	case c.UseLocalDB:
		if c.IsProduction() {
			return fmt.Errorf("USE_LOCAL_DB is not allowed in production")
		}
		if strings.TrimSpace(c.LocalDBPath) == "" {
			return fmt.Errorf("LOCAL_DB_PATH is required when USE_LOCAL_DB is set")
		}
	case c.PostgresDSN != "":
		// 直连PostgreSQL，无需额外验证
	case c.SupabaseURL != "":
		// 边缘函数只接受匿名密钥
		if c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_ANON_KEY is required when SUPABASE_URL is set")
		}
	default:
		return fmt.Errorf("数据库配置不完整：请配置 POSTGRES_DSN 或 SUPABASE_URL+SUPABASE_ANON_KEY 或 USE_LOCAL_DB")
	}

	return nil
}

// FunctionsBaseURL returns the base URL of the hosted backend functions.
func (c *Config) FunctionsBaseURL() string {
	if c.SupabaseFunctionsURL != "" {
		return c.SupabaseFunctionsURL
	}
	if c.SupabaseURL == "" {
		return ""
	}
	base := c.SupabaseURL
	if !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return base + "/functions/v1"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// loadEnvFile 加载 .env 文件到环境变量
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // 文件不存在或无法打开，静默返回
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// 移除值两端的引号（如果有）
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		// 只有当环境变量不存在时才设置
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}
