package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config - корневая структура конфигурации guard-сервиса.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Host       HostConfig       `mapstructure:"host"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (журнал модерации).
// Пустой URL - журнал пишется только в лог.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub событий вступления).
// Пустой Addr - слушатель не запускается.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки токенов операторов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// ReputationConfig - облачный черный список и бюджет запросов к нему.
type ReputationConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GuardConfig - политика модерации групп.
type GuardConfig struct {
	EnabledGroups           []string      `mapstructure:"enabled_groups"`
	AutoCheckWhitelist      []string      `mapstructure:"auto_check_whitelist"`
	DefaultCleanupThreshold time.Duration `mapstructure:"default_cleanup_threshold"`
	JanitorInterval         time.Duration `mapstructure:"janitor_interval"`
	JoinNotifyClean         bool          `mapstructure:"join_notify_clean"`
}

// HostConfig - OneBot-совместимый API бота и защита вызовов к нему.
// Пустой BaseURL - используется MockHost.
type HostConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	AccessToken string  `mapstructure:"access_token"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`

	// Настройки Circuit Breaker для API бота
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// REPUTATION_API_KEY=... перекроет reputation.api_key
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет - работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	// ключи без дефолта не видны AutomaticEnv при Unmarshal
	v.SetDefault("reputation.base_url", "")
	v.SetDefault("reputation.api_key", "")
	v.SetDefault("reputation.max_requests", 20)
	v.SetDefault("reputation.window", 5*time.Second)
	v.SetDefault("reputation.timeout", 10*time.Second)

	v.SetDefault("guard.default_cleanup_threshold", 300*time.Second)
	v.SetDefault("guard.janitor_interval", 30*time.Second)
	v.SetDefault("guard.enabled_groups", []string{})
	v.SetDefault("guard.auto_check_whitelist", []string{})
	v.SetDefault("guard.join_notify_clean", false)

	v.SetDefault("host.base_url", "") // пусто - in-memory хост (dev)
	v.SetDefault("host.access_token", "")
	v.SetDefault("host.rps", 5)
	v.SetDefault("host.burst", 5)
	v.SetDefault("host.cb_max_requests", 3)
	v.SetDefault("host.cb_interval", 5*time.Second)
	v.SetDefault("host.cb_timeout", 30*time.Second)
	v.SetDefault("host.retry_attempts", 3)
}

// loadKeyResource: PEM прямо из ENV (Docker/K8s) или файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}

// GroupSet превращает список ID групп в множество.
func GroupSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
