package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/aetriusgx/openet/internal/api"
	"github.com/aetriusgx/openet/internal/params"
	"github.com/aetriusgx/openet/internal/table"
)

// EnvPrefix prefixes environment overrides, e.g. OPENET_API_KEY.
const EnvPrefix = "OPENET"

// Config holds all configuration for our application
type Config struct {
	API        APIConfig           `mapstructure:"api"`
	Job        JobConfig           `mapstructure:"job"`
	Parameters params.RasterConfig `mapstructure:"parameters"`
	Geometry   GeometryConfig      `mapstructure:"geometry"`
	Storage    StorageConfig       `mapstructure:"storage"`
	Database   DatabaseConfig      `mapstructure:"database"`
	Schedule   ScheduleConfig      `mapstructure:"schedule"`
	Health     HealthConfig        `mapstructure:"health"`
	Metrics    MetricsConfig       `mapstructure:"metrics"`
	Logging    LoggingConfig       `mapstructure:"logging"`
}

type APIConfig struct {
	Key             string        `mapstructure:"key"`
	PointEndpoint   string        `mapstructure:"point_endpoint"`
	PolygonEndpoint string        `mapstructure:"polygon_endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	CacheSize       int           `mapstructure:"cache_size"`
}

type ValueFieldConfig struct {
	Point   string `mapstructure:"point"`
	Polygon string `mapstructure:"polygon"`
}

type JobConfig struct {
	Index               string           `mapstructure:"index"`
	Geometry            string           `mapstructure:"geometry"`
	ValueField          ValueFieldConfig `mapstructure:"value_field"`
	UseResolvedEndpoint bool             `mapstructure:"use_resolved_endpoint"`
	Workers             int              `mapstructure:"workers"`
	StartDate           string           `mapstructure:"start_date"`
	EndDate             string           `mapstructure:"end_date"`
	Output              string           `mapstructure:"output"`
	Format              string           `mapstructure:"format"`
}

type GeometryConfig struct {
	Path   string `mapstructure:"path"`
	Column string `mapstructure:"column"`
}

type StorageConfig struct {
	Kind            string `mapstructure:"kind"`
	ProjectID       string `mapstructure:"project_id"`
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Dir             string `mapstructure:"dir"`
	ObjectName      string `mapstructure:"object_name"`
	LocalDir        string `mapstructure:"local_dir"`
	Parents         bool   `mapstructure:"parents"`
}

type DatabaseConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Name              string `mapstructure:"name"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode"`
	ConnectionTimeout int    `mapstructure:"connection_timeout"`
}

type ScheduleConfig struct {
	Spec         string        `mapstructure:"spec"`
	LookbackDays int           `mapstructure:"lookback_days"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type HealthConfig struct {
	Port           int     `mapstructure:"port"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Storage kinds.
const (
	StorageNone  = "none"
	StorageGCS   = "gcs"
	StorageLocal = "local"
)

// Load layers defaults, the YAML file at path and OPENET_* environment
// variables, in increasing precedence. An empty path skips the file.
// ${VAR} references inside the file are expanded before parsing.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		raw, err := readExpanded(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func readExpanded(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	var expanded map[string]interface{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &expanded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return expanded, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.key", "")
	v.SetDefault("api.point_endpoint", api.PointEndpoint)
	v.SetDefault("api.polygon_endpoint", api.PolygonEndpoint)
	v.SetDefault("api.timeout", 0)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.rate_limit_burst", 1)
	v.SetDefault("api.cache_size", 0)

	v.SetDefault("job.index", "")
	v.SetDefault("job.geometry", "")
	v.SetDefault("job.value_field.point", "")
	v.SetDefault("job.value_field.polygon", "")
	v.SetDefault("job.use_resolved_endpoint", false)
	v.SetDefault("job.workers", 1)
	v.SetDefault("job.start_date", "")
	v.SetDefault("job.end_date", "")
	v.SetDefault("job.output", "")
	v.SetDefault("job.format", "csv")

	v.SetDefault("parameters.polygon", false)
	v.SetDefault("parameters.interval", "daily")
	v.SetDefault("parameters.reducer", "")
	v.SetDefault("parameters.overpass", []string{})
	v.SetDefault("parameters.models", []string{"Ensemble"})
	v.SetDefault("parameters.variables", []string{"ET"})
	v.SetDefault("parameters.references", []string{"gridMET"})
	v.SetDefault("parameters.units", []string{"mm"})
	v.SetDefault("parameters.file_formats", []string{"csv"})

	v.SetDefault("geometry.path", "")
	v.SetDefault("geometry.column", table.DefaultGeometryColumn)

	v.SetDefault("storage.kind", StorageNone)
	v.SetDefault("storage.project_id", "")
	v.SetDefault("storage.bucket", "forecasting-temp")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.credentials_json", "")
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.object_name", "")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.parents", true)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "openet")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.connection_timeout", 5)

	v.SetDefault("schedule.spec", "0 6 * * *")
	v.SetDefault("schedule.lookback_days", 30)
	v.SetDefault("schedule.timeout", time.Hour)

	v.SetDefault("health.port", 50051)
	v.SetDefault("health.rate_limit", 5.0)
	v.SetDefault("health.rate_limit_burst", 10)

	v.SetDefault("metrics.address", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.API.Key == "" {
		errs = append(errs, errors.New("api.key is required"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if c.Job.Workers < 1 {
		errs = append(errs, errors.New("job.workers must be at least 1"))
	}
	if _, ok := table.ParseFormat(c.Job.Format); !ok {
		errs = append(errs, fmt.Errorf("job.format %s is not supported", c.Job.Format))
	}
	if err := c.Parameters.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("parameters: %w", err))
	}
	switch c.Storage.Kind {
	case StorageNone, StorageLocal:
	case StorageGCS:
		if c.Storage.CredentialsFile != "" && c.Storage.CredentialsJSON != "" {
			errs = append(errs, errors.New("only one of storage.credentials_file and storage.credentials_json may be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.kind %s is not supported", c.Storage.Kind))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// DSN is the lib/pq connection string of the database section.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.ConnectionTimeout,
	)
}

// Logger builds a logger with the configured level and formatter.
func (l LoggingConfig) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	switch l.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}
