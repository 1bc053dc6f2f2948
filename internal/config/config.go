package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ServiceName    = ""
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys"`
	Port                    map[string]string         `mapstructure:"port"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Scheduler               SchedulerConfig           `mapstructure:"scheduler"`
	Pipeline                PipelineConfig            `mapstructure:"pipeline"`
	Venues                  map[string]VenueConfig    `mapstructure:"venues"`
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string        `mapstructure:"cache_dsn"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// SchedulerConfig tunes the durable job layer: queue driver, worker
// pool size, intake rate, job-level retry policy, and registry
// retention windows.
type SchedulerConfig struct {
	Queue               string        `mapstructure:"queue"` // "jetstream" or "memory"
	Concurrency         int           `mapstructure:"concurrency"`
	IntakeRatePerMinute int           `mapstructure:"intake_rate_per_minute"`
	IntakeBurst         int           `mapstructure:"intake_burst"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	AckWait             time.Duration `mapstructure:"ack_wait"`
	CompletedRetention  time.Duration `mapstructure:"completed_retention"`
	MaxCompleted        int           `mapstructure:"max_completed"`
	FailedRetention     time.Duration `mapstructure:"failed_retention"`
}

// PipelineConfig tunes the per-order state machine: nested per-call
// retry policies, call timeouts, and the default slippage tolerance.
type PipelineConfig struct {
	QuoteTimeout    time.Duration   `mapstructure:"quote_timeout"`
	QuoteRetry      RetryConfig     `mapstructure:"quote_retry"`
	ExecuteTimeout  time.Duration   `mapstructure:"execute_timeout"`
	ExecuteRetry    RetryConfig     `mapstructure:"execute_retry"`
	DefaultSlippage decimal.Decimal `mapstructure:"default_slippage"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// VenueConfig describes one simulated liquidity venue. MidPrice keys
// are "IN/OUT" pairs, e.g. "SOL/USDC".
type VenueConfig struct {
	MidPrice          map[string]decimal.Decimal `mapstructure:"mid_price"`
	SpreadBps         int64                      `mapstructure:"spread_bps"`
	FeeRate           decimal.Decimal            `mapstructure:"fee_rate"`
	LiquidityDepth    decimal.Decimal            `mapstructure:"liquidity_depth"` // in output-asset units
	LatencyMin        time.Duration              `mapstructure:"latency_min"`
	LatencyMax        time.Duration              `mapstructure:"latency_max"`
	FailureRate       float64                    `mapstructure:"failure_rate"`
	ExecutionVariance float64                    `mapstructure:"execution_variance"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Decimal values come out of YAML as quoted strings; the text
	// unmarshaller hook turns them into decimal.Decimal.
	err = viper.Unmarshal(&Env, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
