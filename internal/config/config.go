// README: Config loader: optional config.yaml, ROAM_* env overrides, defaults for every setting.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestsPerMinute is the per-client turn budget; 0 disables limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type DBConfig struct {
	// DSN empty means in-memory inventory, reviews and message log.
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	// Addr empty means in-memory sessions and prompt cache.
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type AIConfig struct {
	GeminiKey  string        `mapstructure:"gemini_key"`
	Model      string        `mapstructure:"model"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	ToolRounds int           `mapstructure:"tool_rounds"`
	// MonthlyAllowance caps model-backed turns per caller; 0 disables metering.
	MonthlyAllowance int `mapstructure:"monthly_allowance"`
}

type ToolsConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout"`
	AuxParallelism int           `mapstructure:"aux_parallelism"`
	WeatherURL     string        `mapstructure:"weather_url"`
	RiskThreshold  float64       `mapstructure:"risk_threshold"`
}

type BookingConfig struct {
	MaxRentalDays   int     `mapstructure:"max_rental_days"`
	MaxMessageRunes int     `mapstructure:"max_message_runes"`
	HistoryLimit    int     `mapstructure:"history_limit"`
	TimeZone        string  `mapstructure:"time_zone"`
	ServiceFeeRate  float64 `mapstructure:"service_fee_rate"`
	// TablesFile and PersonaFile override the embedded defaults.
	TablesFile  string `mapstructure:"tables_file"`
	PersonaFile string `mapstructure:"persona_file"`
}

type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type Config struct {
	Env      string         `mapstructure:"env"`
	LogLevel string         `mapstructure:"log_level"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AI       AIConfig       `mapstructure:"ai"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Maps     struct {
		APIKey string `mapstructure:"api_key"`
		Region string `mapstructure:"region"`
	} `mapstructure:"maps"`
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the booking time zone used to decide "today".
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Booking.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("booking.time_zone %q: %w", c.Booking.TimeZone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.requests_per_minute", 60)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.session_ttl", 72*time.Hour)
	v.SetDefault("ai.gemini_key", "")
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.cache_ttl", time.Hour)
	v.SetDefault("ai.tool_rounds", 4)
	v.SetDefault("ai.monthly_allowance", 0)
	v.SetDefault("tools.timeout", 3*time.Second)
	v.SetDefault("tools.search_timeout", 5*time.Second)
	v.SetDefault("tools.aux_parallelism", 3)
	v.SetDefault("tools.weather_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("tools.risk_threshold", 0.7)
	v.SetDefault("booking.max_rental_days", 30)
	v.SetDefault("booking.max_message_runes", 2000)
	v.SetDefault("booking.history_limit", 12)
	v.SetDefault("booking.time_zone", "America/Phoenix")
	v.SetDefault("booking.service_fee_rate", 0.10)
	v.SetDefault("booking.tables_file", "")
	v.SetDefault("booking.persona_file", "")
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("maps.api_key", "")
	v.SetDefault("maps.region", "us")
}

// Load reads config.yaml from path (or ./ and ./config when path is empty), then ROAM_*
// environment variables such as ROAM_HTTP_ADDR or ROAM_AI_GEMINI_KEY. A missing file is fine.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ROAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Booking.MaxRentalDays <= 0 {
		return Config{}, fmt.Errorf("booking.max_rental_days must be positive, got %d", cfg.Booking.MaxRentalDays)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
