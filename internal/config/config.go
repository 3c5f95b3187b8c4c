package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPrivilegedGroup はDIRECTORY_PRIVILEGED_GROUPが未設定の場合に使うグループ名。
const DefaultPrivilegedGroup = "Admins"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Directory
	Directory DirectoryConfig

	// Token
	TokenSecret string
	TokenTTL    time.Duration

	// Sync
	SyncInterval time.Duration
	SyncTimeout  time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// DirectoryConfig はディレクトリサーバーへの接続設定。
// 値はすべて外部から与え、コード中にハードコードしない。
type DirectoryConfig struct {
	Server             string // ldap://dc1.example.org:389 または ldaps://...
	BindUsername       string
	BindPassword       string
	BaseDN             string
	DomainSuffix       string // メール未設定時の補完に使うドメイン
	PrivilegedGroup    string // メンバーをスーパーユーザーとするグループ
	Timeout            time.Duration
	StartTLS           bool
	InsecureSkipVerify bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	require := func(key string, dst *string) {
		*dst = os.Getenv(key)
		if *dst == "" {
			missing = append(missing, key)
		}
	}

	require("DATABASE_URL", &cfg.DatabaseURL)
	require("DIRECTORY_SERVER", &cfg.Directory.Server)
	require("DIRECTORY_BIND_USERNAME", &cfg.Directory.BindUsername)
	require("DIRECTORY_BIND_PASSWORD", &cfg.Directory.BindPassword)
	require("DIRECTORY_BASE_DN", &cfg.Directory.BaseDN)
	require("DIRECTORY_DOMAIN_SUFFIX", &cfg.Directory.DomainSuffix)
	require("TOKEN_SECRET", &cfg.TokenSecret)

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.Directory.PrivilegedGroup = getEnvString("DIRECTORY_PRIVILEGED_GROUP", DefaultPrivilegedGroup)
	cfg.Directory.Timeout = getEnvDuration("DIRECTORY_TIMEOUT", 10*time.Second)
	cfg.Directory.StartTLS = getEnvBool("DIRECTORY_START_TLS", false)
	cfg.Directory.InsecureSkipVerify = getEnvBool("DIRECTORY_INSECURE_SKIP_VERIFY", false)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 6*time.Minute)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 0)
	cfg.SyncTimeout = getEnvDuration("SYNC_TIMEOUT", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
