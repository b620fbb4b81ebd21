package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Anchoring mode values for KeeperConfig.AnchoringMode
const (
	AnchoringModeSingle = "single"
	AnchoringModeBatch  = "batch"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Anchor   AnchorConfig   `yaml:"anchor"`
	Keeper   KeeperConfig   `yaml:"keeper"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// AnchorConfig holds anchor provider configuration
type AnchorConfig struct {
	UseStub        bool          `yaml:"use_stub"`
	Endpoint       string        `yaml:"endpoint"`
	Cluster        string        `yaml:"cluster"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// KeeperConfig holds keeper service configuration
type KeeperConfig struct {
	AnchoringMode       string        `yaml:"anchoring_mode"`
	JobPollInterval     time.Duration `yaml:"job_poll_interval"`
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`
	BatchPollInterval   time.Duration `yaml:"batch_poll_interval"`
	MaxBatchSize        int           `yaml:"max_batch_size"`
	MaxBatchAge         time.Duration `yaml:"max_batch_age"`
	MinBatchSize        int           `yaml:"min_batch_size"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the configuration consumed by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateKeeperConfig checks the configuration consumed by the keeper
// service. RabbitMQ settings are only required in batch mode, where the
// dispatcher consumes submission messages.
func (c *Config) ValidateKeeperConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	switch c.Keeper.AnchoringMode {
	case AnchoringModeSingle:
	case AnchoringModeBatch:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid anchoring mode: %q (must be %q or %q)", c.Keeper.AnchoringMode, AnchoringModeSingle, AnchoringModeBatch)
	}

	if !c.Anchor.UseStub && c.Anchor.Endpoint == "" {
		return fmt.Errorf("anchor endpoint is required when use_stub is false")
	}

	if c.Keeper.JobPollInterval <= 0 {
		return fmt.Errorf("keeper job_poll_interval must be greater than 0")
	}

	if c.Keeper.ConfirmPollInterval <= 0 {
		return fmt.Errorf("keeper confirm_poll_interval must be greater than 0")
	}

	if c.Keeper.BatchPollInterval <= 0 {
		return fmt.Errorf("keeper batch_poll_interval must be greater than 0")
	}

	if c.Keeper.MaxBatchSize <= 0 {
		return fmt.Errorf("keeper max_batch_size must be greater than 0")
	}

	if c.Keeper.MinBatchSize <= 0 {
		return fmt.Errorf("keeper min_batch_size must be greater than 0")
	}

	if c.Keeper.MinBatchSize > c.Keeper.MaxBatchSize {
		return fmt.Errorf("keeper min_batch_size must not exceed max_batch_size")
	}

	if c.Keeper.MaxBatchAge < 0 {
		return fmt.Errorf("keeper max_batch_age must not be negative")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
