// Package config は設定ファイル (config/config.yaml) と環境変数をまとめて読み込む。
//
// 読み込み順:
//  1. デフォルト値
//  2. config/config.yaml
//  3. .env を読み込んだ後の環境変数 (パスワードや秘密鍵はこちらで渡す)
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // mysql or sqlite
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbname"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // 空ならプロセス内 Hub のみ
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type AdminConfig struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type CirculationConfig struct {
	OverdueSchedule string `yaml:"overdue_schedule"`
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"` // 空なら表紙アップロードは無効
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Version     string            `yaml:"version"`
	Mode        string            `yaml:"mode"`
	Server      ServerConfig      `yaml:"server"`
	DB          DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Admin       AdminConfig       `yaml:"admin"`
	Circulation CirculationConfig `yaml:"circulation"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Mode:   "dev",
		Server: ServerConfig{Addr: ":8443"},
		DB: DatabaseConfig{
			Driver:     "mysql",
			Host:       "localhost",
			Port:       3306,
			Username:   "libportal",
			DBName:     "libportal",
			SQLitePath: "libportal.db",
		},
		Redis:       RedisConfig{Channel: "libportal:changes"},
		Auth:        AuthConfig{TokenTTL: 24 * time.Hour},
		Admin:       AdminConfig{Name: "Administrator"},
		Circulation: CirculationConfig{OverdueSchedule: "@hourly"},
		Storage:     StorageConfig{Bucket: "covers"},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (missing file is fine) and applies the environment on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env は任意

	cfg := defaults()
	buf, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	setString(&c.Mode, "APP_MODE")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.DB.Driver, "DB_DRIVER")
	setString(&c.DB.Host, "DB_HOST")
	setInt(&c.DB.Port, "DB_PORT")
	setString(&c.DB.Username, "DB_USER")
	setString(&c.DB.Password, "DB_PASSWORD")
	setString(&c.DB.DBName, "DB_NAME")
	setString(&c.DB.SQLitePath, "SQLITE_PATH")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Admin.Email, "ADMIN_EMAIL")
	setString(&c.Admin.Password, "ADMIN_PASSWORD")
	setString(&c.Storage.Endpoint, "STORAGE_ENDPOINT")
	setString(&c.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	setString(&c.Storage.SecretKey, "STORAGE_SECRET_KEY")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("mode must be dev or release, got %q", c.Mode)
	}
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.DB.Driver)
	}
	if c.Mode == "release" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("release mode requires JWT_SECRET of at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "libportal:changes"
	}
	return nil
}

func (c *Config) IsDev() bool { return c.Mode == "dev" }

// DSN builds the driver specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	// clientFoundRows: UPDATE の件数を「変更行」ではなく「一致行」で返させる (SQLite と揃える)
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.DBName)
}

// String は秘密情報を伏せた要約を返す。
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Addr: %s, DB: %s(%s), Redis: %q, Storage: %q}",
		c.Mode, c.Server.Addr, c.DB.Driver, maskPassword(c.DB.DSN()), c.Redis.Addr, c.Storage.Endpoint)
}

var dsnPassword = regexp.MustCompile(`^([^:@/]+:)([^@]+)(@)`)

func maskPassword(dsn string) string {
	if !strings.Contains(dsn, "@") {
		return dsn
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}***${3}")
}
