package config

import (
	"runtime"
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"

	pkgconfig "github.com/weiawesome/wes-io-chat/pkg/config"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	WebSocket WebSocketConfig
	Poll      PollConfig
	Redis     RedisConfig
	Bus       BusConfig
	Database  database.Config
	Log       LogConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	ReusePort bool `mapstructure:"reuse_port"`
}

type WorkerConfig struct {
	ID           string
	Count        int
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type PollConfig struct {
	Wait        time.Duration
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type RedisConfig struct {
	Address           string
	Password          string
	DB                int
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type BusConfig struct {
	Driver         string
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	Kafka          pubsub.KafkaConfig
	NATS           pubsub.NATSConfig
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads the gateway configuration. path may be empty.
func Load(path string) (*Config, error) {
	v, err := pkgconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.reuse_port", false)
	v.SetDefault("worker.id", "")
	v.SetDefault("worker.count", runtime.NumCPU())
	v.SetDefault("worker.restart_delay", "1s")
	v.SetDefault("websocket.ping_interval", "25s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("poll.wait", "25s")
	v.SetDefault("poll.idle_timeout", "60s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_ttl", "90s")
	v.SetDefault("redis.heartbeat_interval", "30s")
	v.SetDefault("bus.driver", pubsub.DriverRedis)
	v.SetDefault("bus.backoff_base", "100ms")
	v.SetDefault("bus.backoff_max", "10s")
	v.SetDefault("bus.publish_timeout", "3s")
	v.SetDefault("bus.kafka.brokers", "localhost:9092")
	v.SetDefault("bus.kafka.group_id", "chat-gateway")
	v.SetDefault("bus.kafka.partitions", 4)
	v.SetDefault("bus.nats.url", "nats://localhost:4222")
	v.SetDefault("bus.nats.reconnect_wait", "2s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("worker.id", "WORKER_ID")
	v.BindEnv("worker.count", "WORKERS")
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

	cfg.Worker.RestartDelay = pkgconfig.Duration(v, "worker.restart_delay", time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 25*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Poll.Wait = pkgconfig.Duration(v, "poll.wait", 25*time.Second)
	cfg.Poll.IdleTimeout = pkgconfig.Duration(v, "poll.idle_timeout", 60*time.Second)
	cfg.Redis.KeyTTL = pkgconfig.Duration(v, "redis.key_ttl", 90*time.Second)
	cfg.Redis.HeartbeatInterval = pkgconfig.Duration(v, "redis.heartbeat_interval", 30*time.Second)
	cfg.Bus.BackoffBase = pkgconfig.Duration(v, "bus.backoff_base", 100*time.Millisecond)
	cfg.Bus.BackoffMax = pkgconfig.Duration(v, "bus.backoff_max", 10*time.Second)
	cfg.Bus.PublishTimeout = pkgconfig.Duration(v, "bus.publish_timeout", 3*time.Second)
	cfg.Bus.NATS.ReconnectWait = pkgconfig.Duration(v, "bus.nats.reconnect_wait", 2*time.Second)

	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = runtime.NumCPU()
	}

	return &cfg, nil
}

// PubSub assembles the bus driver configuration. The kafka consumer group is
// suffixed with the worker id so every worker receives every event.
func (c *Config) PubSub() pubsub.Config {
	kafka := c.Bus.Kafka
	if c.Worker.ID != "" {
		kafka.GroupID = kafka.GroupID + "-" + c.Worker.ID
	}
	nats := c.Bus.NATS
	if nats.Name == "" {
		nats.Name = "chat-gateway-" + c.Worker.ID
	}
	return pubsub.Config{
		Driver: c.Bus.Driver,
		Redis: pubsub.RedisConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			PoolSize: 10,
		},
		Kafka: kafka,
		NATS:  nats,
	}
}
