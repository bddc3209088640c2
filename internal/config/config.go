package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"textvault/internal/contenthash"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv 指定 YAML 配置文件路径的环境变量。
const ConfigPathEnv = "TEXTVAULT_CONFIG"

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string        `yaml:"port"`
	StorageDir         string        `yaml:"storage_dir"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	RateLimitRequests  int           `yaml:"rate_limit_requests"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	DBHost             string        `yaml:"db_host"`
	DBPort             int           `yaml:"db_port"`
	DBUser             string        `yaml:"db_user"`
	DBPassword         string        `yaml:"db_password"`
	DBName             string        `yaml:"db_name"`
	DBSSLMode          string        `yaml:"db_ssl_mode"`
	// 元数据索引
	IndexDriver string `yaml:"index_driver"` // "postgres" 或 "bolt"
	BoltPath    string `yaml:"bolt_path"`
	// 内容身份
	HashAlgorithm  string `yaml:"hash_algorithm"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	// 存储配置
	StorageDriver      string `yaml:"storage_driver"`      // "local" 或 "s3"
	StorageCompression string `yaml:"storage_compression"` // "none" 或 "zstd"，仅 local 生效
	S3Endpoint         string `yaml:"s3_endpoint"`         // S3/MinIO 端点，不含协议
	S3AccessKey        string `yaml:"s3_access_key"`
	S3SecretKey        string `yaml:"s3_secret_key"`
	S3Bucket           string `yaml:"s3_bucket"`
	S3Region           string `yaml:"s3_region"`
	S3Prefix           string `yaml:"s3_prefix"`
	S3UseSSL           bool   `yaml:"s3_use_ssl"`    // 是否使用 HTTPS
	S3PathStyle        bool   `yaml:"s3_path_style"` // 是否使用路径风格访问（MinIO 需要设为 true）
	// 孤儿清理，SweepInterval 为 0 时服务内不做周期清理
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepGracePeriod time.Duration `yaml:"sweep_grace_period"`
	// 日志
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default 返回未叠加任何文件与环境变量的默认配置。
func Default() *Config {
	return &Config{
		HTTPPort:           "8080",
		StorageDir:         "./data",
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		RateLimitRequests:  60,
		RateLimitWindow:    time.Minute,
		DBHost:             "127.0.0.1",
		DBPort:             5432,
		DBUser:             "textvault",
		DBPassword:         "textvault",
		DBName:             "textvault",
		DBSSLMode:          "disable",
		IndexDriver:        "postgres",
		BoltPath:           "./data/index.db",
		HashAlgorithm:      string(contenthash.DefaultAlgorithm),
		MaxUploadBytes:     10 << 20,
		StorageDriver:      "local",
		StorageCompression: "none",
		S3Endpoint:         "localhost:9000",
		S3AccessKey:        "minioadmin",
		S3SecretKey:        "minioadmin",
		S3Bucket:           "textvault",
		S3Region:           "us-east-1",
		S3PathStyle:        true,
		SweepGracePeriod:   time.Hour,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// Load 依次叠加默认值、YAML 文件与环境变量。
//
// path 为空时读取 TEXTVAULT_CONFIG；两者都为空则只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.StorageDriver == "local" {
		if err := ensureDir(cfg.StorageDir); err != nil {
			return nil, fmt.Errorf("确保存储目录失败: %w", err)
		}
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error

	c.HTTPPort = envOrDefault("PORT", c.HTTPPort)
	c.StorageDir = envOrDefault("STORAGE_DIR", c.StorageDir)
	if origins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS")); len(origins) > 0 {
		c.CORSAllowedOrigins = origins
	}
	if c.RateLimitRequests, err = parseIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests); err != nil {
		return err
	}
	if c.RateLimitWindow, err = parseDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow); err != nil {
		return err
	}

	c.DBHost = envOrDefault("DB_HOST", c.DBHost)
	if c.DBPort, err = parseIntEnv("DB_PORT", c.DBPort); err != nil {
		return err
	}
	c.DBUser = envOrDefault("DB_USER", c.DBUser)
	c.DBPassword = envOrDefault("DB_PASSWORD", c.DBPassword)
	c.DBName = envOrDefault("DB_NAME", c.DBName)
	c.DBSSLMode = envOrDefault("DB_SSL_MODE", c.DBSSLMode)

	c.IndexDriver = strings.ToLower(envOrDefault("INDEX_DRIVER", c.IndexDriver))
	c.BoltPath = envOrDefault("BOLT_PATH", c.BoltPath)
	c.HashAlgorithm = strings.ToLower(envOrDefault("HASH_ALGORITHM", c.HashAlgorithm))
	if c.MaxUploadBytes, err = parseInt64Env("MAX_UPLOAD_BYTES", c.MaxUploadBytes); err != nil {
		return err
	}

	c.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", c.StorageDriver))
	c.StorageCompression = strings.ToLower(envOrDefault("STORAGE_COMPRESSION", c.StorageCompression))
	c.S3Endpoint = envOrDefault("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = envOrDefault("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envOrDefault("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Bucket = envOrDefault("S3_BUCKET", c.S3Bucket)
	c.S3Region = envOrDefault("S3_REGION", c.S3Region)
	c.S3Prefix = envOrDefault("S3_PREFIX", c.S3Prefix)
	c.S3UseSSL = parseBoolEnv("S3_USE_SSL", c.S3UseSSL)
	c.S3PathStyle = parseBoolEnv("S3_PATH_STYLE", c.S3PathStyle)

	if c.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", c.SweepInterval); err != nil {
		return err
	}
	if c.SweepGracePeriod, err = parseDurationEnv("SWEEP_GRACE_PERIOD", c.SweepGracePeriod); err != nil {
		return err
	}

	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)
	return nil
}

// Validate 检查取值范围有限的配置项。
func (c *Config) Validate() error {
	switch c.IndexDriver {
	case "postgres", "bolt":
	default:
		return fmt.Errorf("INDEX_DRIVER 取值无效: %q", c.IndexDriver)
	}
	switch c.StorageDriver {
	case "local", "s3":
	default:
		return fmt.Errorf("STORAGE_DRIVER 取值无效: %q", c.StorageDriver)
	}
	switch c.StorageCompression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("STORAGE_COMPRESSION 取值无效: %q", c.StorageCompression)
	}
	if _, err := contenthash.ParseAlgorithm(c.HashAlgorithm); err != nil {
		return fmt.Errorf("HASH_ALGORITHM 取值无效: %w", err)
	}
	if c.IndexDriver == "bolt" && c.BoltPath == "" {
		return fmt.Errorf("INDEX_DRIVER=bolt 需要 BOLT_PATH")
	}
	if c.SweepInterval < 0 || c.SweepGracePeriod < 0 {
		return fmt.Errorf("清理间隔与宽限期不能为负数")
	}
	return nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

// parseInt64Env 允许 0，用于表示不限制。
func parseInt64Env(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value < 0 {
		return defaultValue, nil
	}
	return value, nil
}

// parseDurationEnv 允许 0，SWEEP_INTERVAL=0 用于关闭周期清理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value < 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
