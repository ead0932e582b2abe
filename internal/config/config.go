package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Session  SessionConfig  `mapstructure:"session"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig NodeID 是雪花算法节点号，多实例部署时每个实例必须不同
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	NodeID       int64  `mapstructure:"node_id"`
	Mode         string `mapstructure:"mode"`
	CookieName   string `mapstructure:"cookie_name"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
}

// DatabaseConfig driver 取值 mysql / postgres
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig Host 为空时不启用缓存和咨询锁
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderEvents string `mapstructure:"order_events"`
}

type SessionConfig struct {
	Secret   string `mapstructure:"secret"`
	TTLHours int    `mapstructure:"ttl_hours"`
	Issuer   string `mapstructure:"issuer"`
}

type BusinessConfig struct {
	StoreTimeoutSeconds int `mapstructure:"store_timeout_seconds"`
	PurchaseExpireHours int `mapstructure:"purchase_expire_hours"`
	MaxRetryCount       int `mapstructure:"max_retry_count"`
	CASRetryCount       int `mapstructure:"cas_retry_count"`
	BalanceCacheSeconds int `mapstructure:"balance_cache_seconds"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

var GlobalConfig *Config

// StoreTimeout 单次存储操作的超时时间
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Business.StoreTimeoutSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

func (c *Config) BalanceCacheTTL() time.Duration {
	return time.Duration(c.Business.BalanceCacheSeconds) * time.Second
}

// Validate 检查启动所必需的配置项
func (c *Config) Validate() error {
	if c.Session.Secret == "" && c.Log.Env != "development" {
		return errors.New("session.secret 不能为空")
	}
	if c.Server.NodeID < 0 || c.Server.NodeID > 1023 {
		return errors.New("server.node_id 取值范围 0-1023")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return errors.New("database.driver 只支持 mysql / postgres")
	}
	if c.Business.StoreTimeoutSeconds <= 0 {
		return errors.New("business.store_timeout_seconds 必须大于0")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.node_id", 1)
	v.SetDefault("server.cookie_name", "agency_session")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "agency")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.order_events", "order_events")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl_hours", 72)
	v.SetDefault("session.issuer", "topreach")
	v.SetDefault("business.store_timeout_seconds", 5)
	v.SetDefault("business.purchase_expire_hours", 72)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.cas_retry_count", 3)
	v.SetDefault("business.balance_cache_seconds", 30)
	v.SetDefault("log.env", "production")
	v.SetDefault("log.level", "info")
}

// Load 读取配置文件，环境变量（AGENCY_ 前缀）优先
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AGENCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 只允许配置文件缺失，内容错误直接返回
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	GlobalConfig = cfg
	return cfg
}
