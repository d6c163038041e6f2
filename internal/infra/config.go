package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации конвейера ремедиации.
type Config struct {
	Server          ServerConfig   `mapstructure:"server"`
	Database        DatabaseConfig `mapstructure:"database"`
	Redis           RedisConfig    `mapstructure:"redis"`
	Influx          InfluxConfig   `mapstructure:"influx"`
	Logger          LoggerConfig   `mapstructure:"logger"`
	Metrics         MetricsConfig  `mapstructure:"metrics"`
	Policies        PoliciesConfig `mapstructure:"policies"`
	Runner          RunnerConfig   `mapstructure:"runner"`
	Queue           QueueConfig    `mapstructure:"queue"`
	Retry           RetryConfig    `mapstructure:"retry"`
	Worker          WorkerConfig   `mapstructure:"worker"`
	Executor        ExecutorConfig `mapstructure:"executor"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
}

// ServerConfig описывает настройки HTTP-сервера (API + /metrics).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr: адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (бэкенд очереди).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// InfluxConfig: альтернативный источник метрик.
type InfluxConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig: откуда и сколько метрик забирать за цикл.
type MetricsConfig struct {
	Source    string        `mapstructure:"source"` // postgres, influx
	BatchSize int           `mapstructure:"batch_size"`
	Lookback  time.Duration `mapstructure:"lookback"`
}

type PoliciesConfig struct {
	Path string `mapstructure:"path"` // glob
}

// RunnerConfig: цикл вычисления политик.
type RunnerConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	FailureCooldown        time.Duration `mapstructure:"failure_cooldown"`
}

// QueueConfig: очередь задач ремедиации.
type QueueConfig struct {
	Name            string        `mapstructure:"name"`
	DequeueTimeout  time.Duration `mapstructure:"dequeue_timeout"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
	HistoryInterval time.Duration `mapstructure:"history_interval"`
}

// RetryConfig: повторы при сбоях бэкенда.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Strategy    string        `mapstructure:"strategy"` // exponential, linear, constant
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// ExecutorConfig: внешний исполнитель ремедиаций и настройки его защиты.
type ExecutorConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: RUNNER_INTERVAL=10s перекроет runner.interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer())

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсекает заведомо нерабочие комбинации
func (c *Config) Validate() error {
	switch {
	case c.Runner.Interval <= 0:
		return errors.New("config: runner.interval must be positive")
	case c.Queue.Name == "":
		return errors.New("config: queue.name is required")
	case c.Queue.DequeueTimeout < time.Second:
		// BLPOP в Redis принимает целые секунды
		return errors.New("config: queue.dequeue_timeout must be at least 1s")
	case c.Executor.Timeout <= c.Queue.DequeueTimeout:
		return errors.New("config: executor.timeout must be longer than queue.dequeue_timeout")
	case c.Queue.HistoryCapacity <= 0:
		return errors.New("config: queue.history_capacity must be positive")
	case c.Metrics.Source != "postgres" && c.Metrics.Source != "influx":
		return fmt.Errorf("config: unknown metrics.source %q", c.Metrics.Source)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("influx.measurement", "infra_metrics")
	v.SetDefault("metrics.source", "postgres")
	v.SetDefault("metrics.batch_size", 500)
	v.SetDefault("metrics.lookback", 5*time.Minute)
	v.SetDefault("policies.path", "./policies/*.yaml")

	v.SetDefault("runner.interval", 30*time.Second)
	v.SetDefault("runner.max_consecutive_failures", 5)
	v.SetDefault("runner.failure_cooldown", 5*time.Minute)

	v.SetDefault("queue.name", "remediation")
	v.SetDefault("queue.dequeue_timeout", 5*time.Second)
	v.SetDefault("queue.history_capacity", 100)
	v.SetDefault("queue.history_interval", 5*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.strategy", "exponential")
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 10*time.Second)

	v.SetDefault("worker.concurrency", 1)

	v.SetDefault("executor.url", "http://localhost:9000")
	v.SetDefault("executor.timeout", 30*time.Second)
	v.SetDefault("executor.rate_limit", 50)
	v.SetDefault("executor.burst", 10)
	v.SetDefault("executor.cb_max_requests", 3)
	v.SetDefault("executor.cb_interval", 5*time.Second)
	v.SetDefault("executor.cb_timeout", 30*time.Second)
	v.SetDefault("executor.cb_failures", 5)

	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// envReplacer: server.port -> SERVER_PORT
func envReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
