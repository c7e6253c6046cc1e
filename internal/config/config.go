package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const (
	defaultConfigPath = "config.yaml"
	configPathEnv     = "CATALOG_CONFIG"
)

// Config holds the configuration of the catalog worker and its CLI.
// Values come from config.yaml (or the file named by CATALOG_CONFIG) and are
// overridden by environment variables. Secrets only come from the environment.
type Config struct {
	Env string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`

	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Minio      MinioConfig      `yaml:"minio"`
	Harvest    HarvestConfig    `yaml:"harvest"`
	Search     SearchConfig     `yaml:"search"`
	Export     ExportConfig     `yaml:"export"`
	Retention  RetentionConfig  `yaml:"retention"`

	// Exclusions maps a deployment site to the collections that are never pushed
	// to the search engine for that site.
	Exclusions map[string][]string `yaml:"exclusions"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

type ServerConfig struct {
	HTTPPort string `yaml:"http_port" env:"HTTP_PORT" env-default:"4021"`
	GRPCPort string `yaml:"grpc_port" env:"GRPC_PORT" env-default:"4020"`
}

// DatabaseConfig selects the gorm dialector. Type is one of postgres, mysql or sqlite.
type DatabaseConfig struct {
	Type     string `yaml:"type" env:"DB_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DB_USER" env-default:"catalog"`
	Password string `yaml:"-" env:"DB_PASSWORD"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"catalog"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`
	// Path is only used by the sqlite dialector.
	Path         string `yaml:"path" env:"DB_PATH" env-default:".tmp/catalog.db"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ReportTTL time.Duration `yaml:"report_ttl" env:"REDIS_REPORT_TTL" env-default:"168h"`
}

type KafkaConfig struct {
	Enabled          bool   `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	BootstrapServers string `yaml:"bootstrap_servers" env:"KAFKA_BOOTSTRAP_SERVERS" env-default:"localhost:9092"`
	Topic            string `yaml:"topic" env:"KAFKA_TOPIC" env-default:"catalog.events"`
}

type OpenSearchConfig struct {
	Addresses string `yaml:"addresses" env:"OPENSEARCH_ADDRESSES" env-default:"http://localhost:9200"`
	Username  string `yaml:"username" env:"OPENSEARCH_USERNAME"`
	Password  string `yaml:"-" env:"OPENSEARCH_PASSWORD"`
}

// AddressList splits the comma separated address setting.
func (c OpenSearchConfig) AddressList() []string {
	var out []string
	for _, addr := range strings.Split(c.Addresses, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type MinioConfig struct {
	Endpoint        string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKeyID     string `yaml:"-" env:"MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"MINIO_SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
	Region          string `yaml:"region" env:"MINIO_REGION"`
}

type HarvestConfig struct {
	BatchSize int `yaml:"batch_size" env:"HARVEST_BATCH_SIZE" env-default:"32"`
	// CorruptionThreshold is the fraction of the previous document count below
	// which a collection in a new version is considered corrupted.
	CorruptionThreshold float64 `yaml:"corruption_threshold" env:"HARVEST_CORRUPTION_THRESHOLD" env-default:"0.05"`
	Schedule            string  `yaml:"schedule" env:"HARVEST_SCHEDULE" env-default:"@every 10m"`
	Datasets            string  `yaml:"datasets" env:"HARVEST_DATASETS"`
	// PreviewProperty must be set on every active document before a harvest enters the preview stage.
	PreviewProperty string `yaml:"preview_property" env:"HARVEST_PREVIEW_PROPERTY"`
	// SourceTimeout bounds one fetch from a remote seed source.
	SourceTimeout time.Duration `yaml:"source_timeout" env:"HARVEST_SOURCE_TIMEOUT" env-default:"5m"`
}

// DatasetList returns the datasets the scheduled harvest runs for. Empty means all active datasets.
func (c HarvestConfig) DatasetList() []string {
	var out []string
	for _, name := range strings.Split(c.Datasets, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

type SearchConfig struct {
	Engine         string        `yaml:"engine" env:"SEARCH_ENGINE" env-default:"opensearch"`
	Site           string        `yaml:"site" env:"SEARCH_SITE" env-default:"catalog"`
	Languages      []string      `yaml:"languages" env:"SEARCH_LANGUAGES" env-default:"nl,en,unk"`
	BatchSize      int           `yaml:"batch_size" env:"SEARCH_BATCH_SIZE" env-default:"100"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SEARCH_REQUEST_TIMEOUT" env-default:"5m"`
	AliasPrefix    string        `yaml:"alias_prefix" env:"SEARCH_ALIAS_PREFIX"`
	DeltaSchedule  string        `yaml:"delta_schedule" env:"SEARCH_DELTA_SCHEDULE" env-default:"@every 1m"`
	MaxErrors      int           `yaml:"max_errors" env:"SEARCH_MAX_RETAINED_ERRORS" env-default:"100"`
}

type ExportConfig struct {
	Codec     string `yaml:"codec" env:"EXPORT_CODEC" env-default:"gzip"`
	Backend   string `yaml:"backend" env:"EXPORT_BACKEND" env-default:"file"`
	Directory string `yaml:"directory" env:"EXPORT_DIRECTORY" env-default:".tmp/exports"`
	Bucket    string `yaml:"bucket" env:"EXPORT_BUCKET" env-default:"catalog-exports"`
}

type RetentionConfig struct {
	Keep              int    `yaml:"keep" env:"RETENTION_KEEP" env-default:"3"`
	ExportBeforePurge bool   `yaml:"export_before_purge" env:"RETENTION_EXPORT_BEFORE_PURGE" env-default:"true"`
	Schedule          string `yaml:"schedule" env:"RETENTION_SCHEDULE" env-default:"@daily"`
}

// Load reads the configuration file at path with environment overrides.
// A missing file is not an error: the environment and defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfig loads the configuration from the default location and exits on failure.
func LoadConfig() *Config {
	path := os.Getenv(configPathEnv)
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := Load(path)
	if err != nil {
		logrus.Fatalf("error loading config: %v", err)
	}

	SetupLogging(cfg.Log)

	return cfg
}

func (c *Config) validate() error {
	if c.Harvest.BatchSize <= 0 {
		return errors.New("harvest.batch_size must be positive")
	}
	if c.Harvest.CorruptionThreshold < 0 || c.Harvest.CorruptionThreshold > 1 {
		return errors.New("harvest.corruption_threshold must be between 0 and 1")
	}
	if c.Search.BatchSize <= 0 {
		return errors.New("search.batch_size must be positive")
	}
	if len(c.Search.Languages) == 0 {
		return errors.New("search.languages must not be empty")
	}
	return nil
}

// ExcludedCollections returns the collections never pushed for the configured site.
func (c *Config) ExcludedCollections() []string {
	return c.Exclusions[c.Search.Site]
}

// SetupLogging configures the standard logrus logger.
func SetupLogging(cfg LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("unknown log level %q, falling back to info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
