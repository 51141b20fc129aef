package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Routing   RoutingConfig   `yaml:"routing"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	s := ""
	for i > 0 {
		s = string(rune('0'+i%10)) + s
		i /= 10
	}
	return s
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// RoutingConfig controls the selection and fallback engine.
type RoutingConfig struct {
	AttemptTimeout time.Duration    `yaml:"attempt_timeout"`
	Classifier     ClassifierConfig `yaml:"classifier"`
	Weights        ScoreWeights     `yaml:"weights"`
	Health         HealthConfig     `yaml:"health"`
	RateLimit      RateLimitConfig  `yaml:"rate_limit"`
	Usage          UsageConfig      `yaml:"usage"`
}

// ClassifierConfig holds the thresholds for fast/powerful classification.
type ClassifierConfig struct {
	HighVolumeChars  int `yaml:"high_volume_chars"`
	LongMessageChars int `yaml:"long_message_chars"`
}

// ScoreWeights are the multi-factor ranking weights. They should sum to 1.0
// but the ranker does not enforce it; scores are only compared to each other.
type ScoreWeights struct {
	BenchmarkRank     float64 `yaml:"benchmark_rank"`
	BenchmarkScore    float64 `yaml:"benchmark_score"`
	RateLimitHeadroom float64 `yaml:"rate_limit_headroom"`
	Priority          float64 `yaml:"priority"`
	Recency           float64 `yaml:"recency"`
	CostEfficiency    float64 `yaml:"cost_efficiency"`
}

type HealthConfig struct {
	DegradedThreshold    int           `yaml:"degraded_threshold"`
	UnavailableThreshold int           `yaml:"unavailable_threshold"`
	SuccessThreshold     int           `yaml:"success_threshold"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffCap           time.Duration `yaml:"backoff_cap"`
	ProbeInterval        time.Duration `yaml:"probe_interval"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
}

type RateLimitConfig struct {
	// DefaultCooldown is applied when a backend signals rate limiting
	// without a retry-after hint.
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
}

type UsageConfig struct {
	// Window is how far back attempts count toward the recency penalty.
	Window time.Duration `yaml:"window"`
	// Scale is the decayed attempt count at which the recency term bottoms
	// out at zero.
	Scale float64 `yaml:"scale"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "relay",
			User:            "relay",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Routing: DefaultRoutingConfig(),
	}
}

func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		AttemptTimeout: 30 * time.Second,
		Classifier: ClassifierConfig{
			HighVolumeChars:  5000,
			LongMessageChars: 2000,
		},
		Weights: ScoreWeights{
			BenchmarkRank:     0.30,
			BenchmarkScore:    0.20,
			RateLimitHeadroom: 0.20,
			Priority:          0.10,
			Recency:           0.10,
			CostEfficiency:    0.10,
		},
		Health: HealthConfig{
			DegradedThreshold:    3,
			UnavailableThreshold: 5,
			SuccessThreshold:     2,
			BackoffBase:          time.Second,
			BackoffCap:           60 * time.Second,
			ProbeInterval:        60 * time.Second,
			ProbeTimeout:         5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			DefaultCooldown: 30 * time.Second,
		},
		Usage: UsageConfig{
			Window: 10 * time.Minute,
			Scale:  10,
		},
	}
}
