package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"
	_ "time/tzdata"

	xutil "SE3Price/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Location struct {
	Name   string  `yaml:"name" validate:"required"`
	Lat    float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon    float64 `yaml:"lon" validate:"gte=-180,lte=180"`
	Weight float64 `yaml:"weight" validate:"gt=0,lte=1"`
}

// FieldBound describes the valid physical range of one raw field and what the
// cleaner does with values outside it.
type FieldBound struct {
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
	Action string   `yaml:"action" validate:"omitempty,oneof=drop clamp"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
		PollInterval    time.Duration `yaml:"poll_interval" default:"5s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled        bool   `yaml:"enabled" default:"true"`
		Path           string `yaml:"path" default:"/metrics"`
		PushgatewayURL string `yaml:"pushgateway_url"`
	} `yaml:"metrics"`
	Region struct {
		Name              string        `yaml:"name" default:"SE3" validate:"required"`
		Timezone          string        `yaml:"timezone" default:"Europe/Stockholm" validate:"required"`
		BiddingZone       string        `yaml:"bidding_zone" default:"10Y1001A1001A46L" validate:"required"`
		AuctionCutoffHour int           `yaml:"auction_cutoff_hour" default:"12" validate:"gte=0,lte=23"`
		PublicationLag    time.Duration `yaml:"publication_lag" default:"1h"`
		Locations         []Location    `yaml:"locations" validate:"required,min=1,dive"`
		Holidays          []string      `yaml:"holidays"`
	} `yaml:"region"`
	Entsoe struct {
		BaseURL   string        `yaml:"base_url" default:"https://web-api.tp.entsoe.eu/api" validate:"required,url"`
		APIKey    string        `yaml:"api_key"`
		Timeout   time.Duration `yaml:"timeout" default:"30s"`
		RateLimit float64       `yaml:"rate_limit_per_sec" default:"6"`
		ChunkDays int           `yaml:"chunk_days" default:"31" validate:"gte=1,lte=365"`
	} `yaml:"entsoe"`
	Weather struct {
		ForecastURL           string        `yaml:"forecast_url" default:"https://api.open-meteo.com/v1/forecast" validate:"required,url"`
		HistoricalForecastURL string        `yaml:"historical_forecast_url" default:"https://historical-forecast-api.open-meteo.com/v1/forecast" validate:"required,url"`
		Timeout               time.Duration `yaml:"timeout" default:"30s"`
		RateLimit             float64       `yaml:"rate_limit_per_sec" default:"5"`
	} `yaml:"weather"`
	Retry struct {
		MaxAttempts    int           `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
		InitialBackoff time.Duration `yaml:"initial_backoff" default:"4s"`
		MaxBackoff     time.Duration `yaml:"max_backoff" default:"10s"`
		Multiplier     float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
		Jitter         bool          `yaml:"jitter" default:"true"`
	} `yaml:"retry"`
	Cache struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		TTL           time.Duration `yaml:"ttl" default:"1h"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"512"`
	} `yaml:"cache"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host" default:"localhost"`
		Port     int           `yaml:"port" default:"6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"se3price"`
		PoolSize int           `yaml:"pool_size" default:"10"`
		LockTTL  time.Duration `yaml:"lock_ttl" default:"2h"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost" validate:"required"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"se3price" validate:"required"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled          bool          `yaml:"enabled"`
		Brokers          []string      `yaml:"brokers"`
		PredictionsTopic string        `yaml:"predictions_topic" default:"se3.predictions"`
		LogsTopic        string        `yaml:"logs_topic"`
		RequiredAcks     int           `yaml:"required_acks" default:"-1"`
		Compression      string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		MaxAttempts      int           `yaml:"max_attempts" default:"3"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		AutoCreateTopic  bool          `yaml:"auto_create_topic"`
	} `yaml:"kafka"`
	Cleaning struct {
		MaxInterpolateHours int                   `yaml:"max_interpolate_hours" default:"3" validate:"gte=1"`
		MaxForwardFillHours int                   `yaml:"max_forward_fill_hours" default:"1" validate:"gte=0"`
		MaxGapHours         int                   `yaml:"max_gap_hours" default:"6" validate:"gte=1"`
		MaxExcludedFraction float64               `yaml:"max_excluded_fraction" default:"0.1" validate:"gte=0,lte=1"`
		Bounds              map[string]FieldBound `yaml:"bounds" validate:"dive"`
	} `yaml:"cleaning"`
	Features struct {
		Version     int `yaml:"version" default:"1" validate:"gte=1"`
		HistoryDays int `yaml:"history_days" default:"8" validate:"gte=8"`
	} `yaml:"features"`
	Backfill struct {
		Start string `yaml:"start" default:"2024-01-01" validate:"required,datetime=2006-01-02"`
	} `yaml:"backfill"`
	Training struct {
		ModelName                string  `yaml:"model_name" default:"se3_price_predictor" validate:"required"`
		ModelDir                 string  `yaml:"model_dir" default:"models" validate:"required"`
		WindowMonths             int     `yaml:"window_months" default:"6" validate:"gte=1"`
		TrainRatio               float64 `yaml:"train_ratio" default:"0.7" validate:"gt=0,lt=1"`
		ValidationRatio          float64 `yaml:"validation_ratio" default:"0.15" validate:"gte=0,lt=1"`
		MaxMissingTargetFraction float64 `yaml:"max_missing_target_fraction" default:"0.2" validate:"gte=0,lte=1"`
		DropWarmupRows           bool    `yaml:"drop_warmup_rows" default:"true"`
		MAEAlertThreshold        float64 `yaml:"mae_alert_threshold" default:"8"`
		Params                   struct {
			NumRounds           int     `yaml:"num_rounds" default:"500" validate:"gte=1"`
			LearningRate        float64 `yaml:"learning_rate" default:"0.05" validate:"gt=0,lte=1"`
			MaxDepth            int     `yaml:"max_depth" default:"8" validate:"gte=1,lte=16"`
			MinChildWeight      float64 `yaml:"min_child_weight" default:"3" validate:"gte=0"`
			Gamma               float64 `yaml:"gamma" default:"0.1" validate:"gte=0"`
			Lambda              float64 `yaml:"lambda" default:"1" validate:"gte=0"`
			Alpha               float64 `yaml:"alpha" default:"0.1" validate:"gte=0"`
			Subsample           float64 `yaml:"subsample" default:"0.8" validate:"gt=0,lte=1"`
			ColSample           float64 `yaml:"colsample" default:"0.8" validate:"gt=0,lte=1"`
			MaxBins             int     `yaml:"max_bins" default:"64" validate:"gte=2,lte=255"`
			EarlyStoppingRounds int     `yaml:"early_stopping_rounds" default:"50" validate:"gte=0"`
			Seed                int64   `yaml:"seed" default:"42"`
		} `yaml:"params"`
	} `yaml:"training"`
	Inference struct {
		HorizonHours  int    `yaml:"horizon_hours" default:"24" validate:"gte=1"`
		BacktestDays  int    `yaml:"backtest_days" default:"7" validate:"gte=0"`
		CheapestHours int    `yaml:"cheapest_hours" default:"4" validate:"gte=1"`
		OutputDir     string `yaml:"output_dir" default:"predictions" validate:"required"`
		ArtifactName  string `yaml:"artifact_name" default:"latest_predictions.json" validate:"required"`
		ArchiveCopies bool   `yaml:"archive_copies" default:"true"`
	} `yaml:"inference"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file. Missing values fall back to
// the struct defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b, false)
}

// Parse decodes YAML bytes into a validated Config without env overrides.
func Parse(b []byte) (*Config, error) {
	return decode(b, false)
}

// LoadWithEnv loads .env (when present), the YAML file, and then overrides
// values with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	// .env is optional; real environment variables still win.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b, true)
}

func decode(b []byte, withEnv bool) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDomainDefaults()
	if withEnv {
		c.applyEnv()
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ENTSOE_API_KEY"); v != "" {
		c.Entsoe.APIKey = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PORT"); v != "" {
		c.ClickHouse.Port = xutil.ParseIntDefault(v, c.ClickHouse.Port)
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		c.ClickHouse.User = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Host, c.Redis.Port = xutil.SplitHostPort(v, c.Redis.Port)
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
}

// applyDomainDefaults fills slice and map settings that struct tags cannot express.
func (c *Config) applyDomainDefaults() {
	if len(c.Region.Locations) == 0 {
		c.Region.Locations = []Location{
			{Name: "Stockholm", Lat: 59.33, Lon: 18.07, Weight: 0.4},
			{Name: "Uppsala", Lat: 59.86, Lon: 17.64, Weight: 0.2},
			{Name: "Västerås", Lat: 59.62, Lon: 16.55, Weight: 0.2},
			{Name: "Norrköping", Lat: 58.59, Lon: 16.19, Weight: 0.2},
		}
	}
	if c.Region.Holidays == nil {
		c.Region.Holidays = []string{"01-01", "01-06", "05-01", "06-06", "12-24", "12-25", "12-26", "12-31"}
	}
	if c.Cleaning.Bounds == nil {
		c.Cleaning.Bounds = DefaultBounds()
	}
}

// DefaultBounds returns the physical ranges used when the config omits them.
// Price is dropped (never clamped) outside the harmonised Nordic auction limits.
func DefaultBounds() map[string]FieldBound {
	f := func(v float64) *float64 { return &v }
	return map[string]FieldBound{
		"price":          {Min: f(-500), Max: f(4000), Action: "drop"},
		"load_forecast":  {Min: f(0), Action: "clamp"},
		"wind_forecast":  {Min: f(0), Action: "clamp"},
		"solar_forecast": {Min: f(0), Action: "clamp"},
		"temperature":    {Min: f(-60), Max: f(50), Action: "drop"},
		"wind_speed_10m": {Min: f(0), Max: f(75), Action: "clamp"},
		"wind_speed_80m": {Min: f(0), Max: f(90), Action: "clamp"},
		"irradiance":     {Min: f(0), Max: f(1400), Action: "clamp"},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Region.Timezone); err != nil {
		return fmt.Errorf("region.timezone: %w", err)
	}
	var sum float64
	seen := make(map[string]bool, len(c.Region.Locations))
	for _, l := range c.Region.Locations {
		if seen[l.Name] {
			return fmt.Errorf("region.locations: duplicate location %q", l.Name)
		}
		seen[l.Name] = true
		sum += l.Weight
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("region.locations: weights must sum to 1.0, got %.6f", sum)
	}
	for _, h := range c.Region.Holidays {
		if _, err := time.Parse("01-02", h); err != nil {
			return fmt.Errorf("region.holidays: %q is not MM-DD", h)
		}
	}
	if c.Training.TrainRatio+c.Training.ValidationRatio >= 1 {
		return errors.New("training: train_ratio + validation_ratio must leave a test split")
	}
	if c.Cleaning.MaxInterpolateHours > c.Cleaning.MaxGapHours {
		return errors.New("cleaning: max_interpolate_hours cannot exceed max_gap_hours")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return errors.New("retry: max_backoff must be >= initial_backoff")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// RequireMarketKey is checked by jobs that talk to ENTSO-E; the dashboard runs without it.
func (c *Config) RequireMarketKey() error {
	if c.Entsoe.APIKey == "" {
		return errors.New("entsoe.api_key is required (set ENTSOE_API_KEY)")
	}
	return nil
}

// Location returns the configured region time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Region.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BackfillStart parses backfill.start in the region time zone.
func (c *Config) BackfillStart() time.Time {
	t, err := time.ParseInLocation("2006-01-02", c.Backfill.Start, c.Location())
	if err != nil {
		return time.Time{}
	}
	return t
}
