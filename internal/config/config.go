package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	App     AppConfig
	Server  ServerConfig
	Data    DataConfig
	Sync    SyncConfig
	Cache   CacheConfig
	Workers WorkersConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"shopsync"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Enabled         bool          `envconfig:"SERVER_ENABLED" default:"true"`
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	AdminKey        string        `envconfig:"ADMIN_KEY" default:""` // X-Admin-Key for /admin routes
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
}

// DataConfig holds the backing store and persistence settings.
type DataConfig struct {
	SaveInterval       time.Duration `envconfig:"SAVE_INTERVAL" default:"5s"`
	ShopUpdateInterval time.Duration `envconfig:"SHOP_UPDATE_INTERVAL" default:"60s"`
	CatalogPath        string        `envconfig:"CATALOG_PATH" default:"./data/catalog.json"`

	StoreType string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mysql or mongodb
	Path      string `envconfig:"STORE_PATH" default:"./data/shopsync.db"`

	PriceTable    string `envconfig:"PRICE_TABLE" default:"price_data"`
	StockTable    string `envconfig:"STOCK_TABLE" default:"stocks"`
	RotationTable string `envconfig:"ROTATION_TABLE" default:"rotations"`

	// PostgreSQL and MySQL settings
	Host     string `envconfig:"STORE_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PORT" default:"0"`
	Name     string `envconfig:"STORE_NAME" default:"shopsync"`
	User     string `envconfig:"STORE_USER" default:"shopsync"`
	Password string `envconfig:"STORE_PASS" default:""`
	SSLMode  string `envconfig:"STORE_SSLMODE" default:"disable"`

	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"shopsync"`
}

// SyncConfig holds the multi-node replication settings.
type SyncConfig struct {
	Enabled          bool          `envconfig:"SYNC_ENABLED" default:"false"`
	Broker           string        `envconfig:"SYNC_BROKER" default:"redis"` // redis or nats
	Channel          string        `envconfig:"SYNC_CHANNEL" default:"excellentshop:sync"`
	NodeID           string        `envconfig:"SYNC_NODE_ID" default:""`
	PresenceInterval time.Duration `envconfig:"SYNC_PRESENCE_INTERVAL" default:"30s"`
	SharedCache      bool          `envconfig:"SYNC_SHARED_CACHE" default:"false"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisTLS      bool   `envconfig:"REDIS_TLS" default:"false"`

	NATSURL string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
}

// CacheConfig holds the pull-through cache settings.
type CacheConfig struct {
	TTL        time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	MaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"1000"`
	KeyPrefix  string        `envconfig:"CACHE_KEY_PREFIX" default:"shopsync:cache"`
}

// WorkersConfig sizes the background worker pool and the state executor queue.
type WorkersConfig struct {
	PoolSize      int `envconfig:"WORKER_POOL_SIZE" default:"8"`
	PoolQueue     int `envconfig:"WORKER_POOL_QUEUE" default:"1024"`
	ExecutorQueue int `envconfig:"EXECUTOR_QUEUE" default:"4096"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (s *SyncConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}

// UsesRedis reports whether a Redis connection is needed.
func (s *SyncConfig) UsesRedis() bool {
	return s.Enabled && (strings.EqualFold(s.Broker, "redis") || s.SharedCache)
}

// PostgresDSN returns the PostgreSQL connection string.
func (d *DataConfig) PostgresDSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, port, d.Name, d.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (d *DataConfig) MySQLDSN() string {
	port := d.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Data.StoreType) {
	case "sqlite", "postgres", "mysql", "mongodb":
	default:
		return fmt.Errorf("unsupported STORE_TYPE %q", c.Data.StoreType)
	}
	if c.Sync.Enabled {
		switch strings.ToLower(c.Sync.Broker) {
		case "redis", "nats":
		default:
			return fmt.Errorf("unsupported SYNC_BROKER %q", c.Sync.Broker)
		}
	}
	if c.Data.SaveInterval <= 0 {
		return fmt.Errorf("SAVE_INTERVAL must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
