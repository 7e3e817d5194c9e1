package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-io-chat/pkg/config"
)

type Config struct {
	Server    ServerConfig
	History   HistoryConfig
	User      UserConfig
	Peer      UserConfig
	Reconnect ReconnectConfig
	Ack       AckConfig
	KeepAlive KeepAliveConfig `mapstructure:"keepalive"`
	// Transports are tried in order on every connection attempt.
	Transports []string
	Log        LogConfig
}

type ServerConfig struct {
	URL            string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type HistoryConfig struct {
	URL     string
	Timeout time.Duration
}

type UserConfig struct {
	ID string
}

type ReconnectConfig struct {
	Attempts      int
	Delay         time.Duration
	DelayMax      time.Duration `mapstructure:"delay_max"`
	Randomization float64
}

type AckConfig struct {
	Timeout time.Duration
}

type KeepAliveConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads the client configuration. path may be empty.
func Load(path string) (*Config, error) {
	v, err := pkgconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.url", "http://localhost:8088")
	v.SetDefault("server.connect_timeout", "10s")
	v.SetDefault("history.url", "http://localhost:8091")
	v.SetDefault("history.timeout", "10s")
	v.SetDefault("user.id", "")
	v.SetDefault("peer.id", "")
	v.SetDefault("reconnect.attempts", 10)
	v.SetDefault("reconnect.delay", "1s")
	v.SetDefault("reconnect.delay_max", "5s")
	v.SetDefault("reconnect.randomization", 0.5)
	v.SetDefault("ack.timeout", "5s")
	v.SetDefault("keepalive.interval", "30s")
	v.SetDefault("transports", []string{"websocket", "polling"})
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.pretty", true)

	v.BindEnv("server.url", "CHAT_SERVER_URL")
	v.BindEnv("history.url", "CHAT_HISTORY_URL")
	v.BindEnv("user.id", "CHAT_USER")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ConnectTimeout = pkgconfig.Duration(v, "server.connect_timeout", 10*time.Second)
	cfg.History.Timeout = pkgconfig.Duration(v, "history.timeout", 10*time.Second)
	cfg.Reconnect.Delay = pkgconfig.Duration(v, "reconnect.delay", time.Second)
	cfg.Reconnect.DelayMax = pkgconfig.Duration(v, "reconnect.delay_max", 5*time.Second)
	cfg.Ack.Timeout = pkgconfig.Duration(v, "ack.timeout", 5*time.Second)
	cfg.KeepAlive.Interval = pkgconfig.Duration(v, "keepalive.interval", 30*time.Second)

	if cfg.Reconnect.Attempts <= 0 {
		cfg.Reconnect.Attempts = 10
	}
	if len(cfg.Transports) == 0 {
		cfg.Transports = []string{"websocket", "polling"}
	}

	return &cfg, nil
}
