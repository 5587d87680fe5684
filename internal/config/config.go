package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	IMAP        IMAPConfig        `mapstructure:"imap"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Assigner    AssignerConfig    `mapstructure:"assigner"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection and pool configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// IMAPConfig holds the inbound mailbox connection and polling configuration
type IMAPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	TLS          bool          `mapstructure:"tls"`
	StartTLS     bool          `mapstructure:"starttls"`
	Mailbox      string        `mapstructure:"mailbox"`
	DoneFolder   string        `mapstructure:"done_folder"`
	FailedFolder string        `mapstructure:"failed_folder"`
	BusyDelay    time.Duration `mapstructure:"busy_delay"`
	IdleDelay    time.Duration `mapstructure:"idle_delay"`
	ErrorDelay   time.Duration `mapstructure:"error_delay"`
	MoveTimeout  time.Duration `mapstructure:"move_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// AttachmentsConfig holds attachment storage configuration
type AttachmentsConfig struct {
	Dir       string `mapstructure:"dir"`
	URLPrefix string `mapstructure:"url_prefix"`
}

// AssignerConfig holds assignment worker configuration
type AssignerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig holds the optional pub/sub relay configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from environment variables and an optional config file.
// An empty path searches for config.yaml in the working directory and ./config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.slow_threshold", "1s")

	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.done_folder", "DONE")
	v.SetDefault("imap.failed_folder", "FAILED")
	v.SetDefault("imap.busy_delay", "1s")
	v.SetDefault("imap.idle_delay", "30s")
	v.SetDefault("imap.error_delay", "60s")
	v.SetDefault("imap.move_timeout", "2s")
	v.SetDefault("imap.dial_timeout", "10s")

	v.SetDefault("attachments.dir", "./content/attachments")
	v.SetDefault("attachments.url_prefix", "/attachments")

	v.SetDefault("assigner.interval", "30s")
	v.SetDefault("assigner.cache_ttl", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "calentian:message-status")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	v.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	v.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")

	// IMAP
	v.BindEnv("imap.host", "IMAP_HOST")
	v.BindEnv("imap.port", "IMAP_PORT")
	v.BindEnv("imap.user", "IMAP_USER")
	v.BindEnv("imap.password", "IMAP_PASSWORD")
	v.BindEnv("imap.tls", "IMAP_TLS")
	v.BindEnv("imap.starttls", "IMAP_STARTTLS")
	v.BindEnv("imap.mailbox", "IMAP_MAILBOX")
	v.BindEnv("imap.done_folder", "IMAP_DONE_FOLDER")
	v.BindEnv("imap.failed_folder", "IMAP_FAILED_FOLDER")

	// Attachments
	v.BindEnv("attachments.dir", "ATTACHMENTS_DIR")
	v.BindEnv("attachments.url_prefix", "ATTACHMENTS_URL_PREFIX")

	// Assigner
	v.BindEnv("assigner.interval", "ASSIGNER_INTERVAL")
	v.BindEnv("assigner.cache_ttl", "ASSIGNER_CACHE_TTL")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.channel", "REDIS_CHANNEL")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Addr returns the host:port of the IMAP server
func (c *IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the configuration for a process that polls the mailbox
func (c *Config) Validate() error {
	if err := c.ValidateWithoutMailbox(); err != nil {
		return err
	}
	return c.IMAP.Validate()
}

// Validate validates the mailbox connection and pacing settings
func (c *IMAPConfig) Validate() error {
	if c.Host == "" || c.User == "" || c.Password == "" {
		return fmt.Errorf("IMAP host and credentials are required")
	}

	if c.DoneFolder == "" || c.FailedFolder == "" {
		return fmt.Errorf("IMAP done and failed folders are required")
	}

	if c.BusyDelay <= 0 || c.IdleDelay <= 0 || c.ErrorDelay <= 0 {
		return fmt.Errorf("poller delays must be greater than 0")
	}

	if c.MoveTimeout <= 0 {
		return fmt.Errorf("move timeout must be greater than 0")
	}

	return nil
}

// ValidateWithoutMailbox validates everything except the IMAP section
func (c *Config) ValidateWithoutMailbox() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns && c.Database.MaxOpenConns > 0 {
		return fmt.Errorf("database max_idle_conns cannot exceed max_open_conns")
	}

	if c.Attachments.Dir == "" {
		return fmt.Errorf("attachments directory is required")
	}

	if c.Assigner.Interval <= 0 {
		return fmt.Errorf("assigner interval must be greater than 0")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	return nil
}
