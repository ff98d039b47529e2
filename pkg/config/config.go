package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	ML      MLConfig
	Dataset DatasetConfig
	Session SessionConfig
	Report  ReportConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type MLConfig struct {
	BaseURL    string
	TimeoutSec int
}

type DatasetConfig struct {
	Path string
}

type SessionConfig struct {
	IdleTTLSec int
	MaxImages  int
	MaxImageKB int
}

type ReportConfig struct {
	ProductName string
	Title       string
	Filename    string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/skinocare")

	viper.SetEnvPrefix("SKINOCARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 4000)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.rateLimitPerMinute", 120)

	viper.SetDefault("sqlite.path", "./data/skinocare.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("ml.baseURL", "http://localhost:5001")
	viper.SetDefault("ml.timeoutSec", 60)

	viper.SetDefault("dataset.path", "./data/cancers.json")

	viper.SetDefault("session.idleTTLSec", 1800)
	viper.SetDefault("session.maxImages", 20)
	viper.SetDefault("session.maxImageKB", 8192)

	viper.SetDefault("report.productName", "SkinOCare AI")
	viper.SetDefault("report.title", "Skin Cancer Analysis Report")
	viper.SetDefault("report.filename", "SkinOCare_Analysis_Report.pdf")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
