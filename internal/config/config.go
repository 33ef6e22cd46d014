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

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	AutoContent AutoContentConfig `yaml:"autocontent"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Cloudinary  CloudinaryConfig  `yaml:"cloudinary"`
	Podbean     PodbeanConfig     `yaml:"podbean"`
	Publisher   PublisherConfig   `yaml:"publisher"`
	Retention   RetentionConfig   `yaml:"retention"`
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
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// TrackerConfig holds reconciliation engine settings. Zero values fall
// back to the engine defaults (15s poll interval, 600s wall clock).
type TrackerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxWallClock     time.Duration `yaml:"max_wall_clock"`
	MaxObservations  int           `yaml:"max_observations"`
	RetentionWindow  time.Duration `yaml:"retention_window"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	WebhookQueueSize int           `yaml:"webhook_queue_size"`
	WebhookBufferTTL time.Duration `yaml:"webhook_buffer_ttl"`
}

// AutoContentConfig holds the audio-generation API settings
type AutoContentConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OpenAIConfig holds the content-generation LLM settings
type OpenAIConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// CloudinaryConfig holds cloud storage credentials
type CloudinaryConfig struct {
	CloudName string        `yaml:"cloud_name"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Folder    string        `yaml:"folder"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PodbeanConfig holds podcast hosting credentials
type PodbeanConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PublisherConfig holds publisher worker settings
type PublisherConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RetentionConfig controls TTL deletion of old episode rows so that the
// database does not grow without bound over time
type RetentionConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	EpisodeDays     int           `yaml:"episode_days"`
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

// validateShared checks the sections both services depend on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

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

// ValidateTrackerConfig checks the configuration for the tracker service
func (c *Config) ValidateTrackerConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.AutoContent.BaseURL == "" {
		return fmt.Errorf("autocontent base_url is required")
	}

	if c.AutoContent.APIKey == "" {
		return fmt.Errorf("autocontent api_key is required")
	}

	if c.Tracker.PollInterval < 0 {
		return fmt.Errorf("tracker poll_interval must not be negative")
	}

	if c.Tracker.MaxWallClock < 0 {
		return fmt.Errorf("tracker max_wall_clock must not be negative")
	}

	return nil
}

// ValidatePublisherConfig checks the configuration for the publisher service
func (c *Config) ValidatePublisherConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Publisher.Concurrency <= 0 {
		return fmt.Errorf("publisher concurrency must be greater than 0")
	}

	if c.Publisher.JobTimeout <= 0 {
		return fmt.Errorf("publisher job_timeout must be greater than 0")
	}

	if c.Podbean.ClientID == "" || c.Podbean.ClientSecret == "" {
		return fmt.Errorf("podbean credentials are required")
	}

	if c.Cloudinary.CloudName == "" {
		return fmt.Errorf("cloudinary cloud_name is required")
	}

	return nil
}
