package config

import (
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"

	pkgconfig "github.com/weiawesome/wes-io-chat/pkg/config"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Bus      BusConfig
	Database database.Config
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type BusConfig struct {
	Enabled bool
	Driver  string
	Kafka   pubsub.KafkaConfig
	NATS    pubsub.NATSConfig
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads the history API configuration. path may be empty.
func Load(path string) (*Config, error) {
	v, err := pkgconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8091)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("bus.enabled", true)
	v.SetDefault("bus.driver", pubsub.DriverRedis)
	v.SetDefault("bus.kafka.brokers", "localhost:9092")
	v.SetDefault("bus.kafka.group_id", "chat-history")
	v.SetDefault("bus.kafka.partitions", 4)
	v.SetDefault("bus.nats.url", "nats://localhost:4222")
	v.SetDefault("bus.nats.name", "chat-history")
	v.SetDefault("bus.nats.reconnect_wait", "2s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Env overrides (for Docker)
	v.BindEnv("server.port", "PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("bus.driver", "BUS_DRIVER")
	v.BindEnv("bus.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("bus.nats.url", "NATS_URL")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 30*time.Second)
	cfg.Bus.NATS.ReconnectWait = pkgconfig.Duration(v, "bus.nats.reconnect_wait", 2*time.Second)

	return &cfg, nil
}

// PubSub assembles the bus driver configuration. The history API only
// publishes, so the kafka group id is never used to consume.
func (c *Config) PubSub() pubsub.Config {
	return pubsub.Config{
		Driver: c.Bus.Driver,
		Redis: pubsub.RedisConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			PoolSize: 10,
		},
		Kafka: c.Bus.Kafka,
		NATS:  c.Bus.NATS,
	}
}
