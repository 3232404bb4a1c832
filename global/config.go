package global

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// AllConfig 进程级配置，全部来自环境变量。
// 阈值类条目（队列TTL/回退窗口/房间超时）是配置而非契约。
type AllConfig struct {
	Server ServerConfig
	Redis  RedisConfig
	Nats   NatsConfig
	Kafka  KafkaConfig
	Match  MatchConfig
	Room   RoomConfig
	Conn   ConnConfig
}

type ServerConfig struct {
	Addr           string   `env:"APCHAT_ADDR" envDefault:":8080"`
	NodeID         int64    `env:"APCHAT_NODE_ID" envDefault:"1"`
	GatewayID      string   `env:"APCHAT_GATEWAY_ID" envDefault:"gw-1"`
	AllowedOrigins []string `env:"APCHAT_ALLOWED_ORIGINS" envSeparator:","`
	JwtSecret      string   `env:"APCHAT_JWT_SECRET"`
}

type RedisConfig struct {
	Addr     string `env:"APCHAT_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"APCHAT_REDIS_PASSWORD"`
	DB       int    `env:"APCHAT_REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"APCHAT_REDIS_POOL" envDefault:"16"`
}

type NatsConfig struct {
	Servers []string `env:"APCHAT_NATS_SERVERS" envSeparator:"," envDefault:"nats://127.0.0.1:4222"`
	Name    string   `env:"APCHAT_NATS_NAME" envDefault:"apchat-signaling"`
	Enabled bool     `env:"APCHAT_NATS_ENABLED" envDefault:"false"`
}

type KafkaConfig struct {
	Brokers []string `env:"APCHAT_KAFKA_BROKERS" envSeparator:"," envDefault:"127.0.0.1:9092"`
	Topic   string   `env:"APCHAT_KAFKA_EVENTS_TOPIC" envDefault:"room-events"`
	Enabled bool     `env:"APCHAT_KAFKA_ENABLED" envDefault:"false"`
}

type MatchConfig struct {
	// 队列条目TTL：超过视为 stale，由 sweeper 清掉
	QueueTTL time.Duration `env:"APCHAT_QUEUE_TTL" envDefault:"2m"`
	// 带标签的条目等待超过该窗口后按"任意话题"回退匹配
	FallbackWindow time.Duration `env:"APCHAT_FALLBACK_WINDOW" envDefault:"15s"`
	SweepEvery     time.Duration `env:"APCHAT_QUEUE_SWEEP_EVERY" envDefault:"5s"`
	// 单次 claim 扫描的候选上限
	ScanLimit int `env:"APCHAT_CLAIM_SCAN_LIMIT" envDefault:"64"`
}

type RoomConfig struct {
	// WAITING 状态无任何信令（含 READY）超过该时长 -> ENDED(TIMEOUT)
	WaitingTimeout time.Duration `env:"APCHAT_ROOM_WAITING_TIMEOUT" envDefault:"30s"`
	// ACTIVE 状态无流量超过该时长 -> ENDED(TIMEOUT)
	ActiveTimeout time.Duration `env:"APCHAT_ROOM_ACTIVE_TIMEOUT" envDefault:"10m"`
	SweepEvery    time.Duration `env:"APCHAT_ROOM_SWEEP_EVERY" envDefault:"5s"`
}

type ConnConfig struct {
	SendBuffer int           `env:"APCHAT_CONN_SEND_BUFFER" envDefault:"64"`
	IdleTTL    time.Duration `env:"APCHAT_CONN_IDLE_TTL" envDefault:"10m"`
	SweepEvery time.Duration `env:"APCHAT_CONN_SWEEP_EVERY" envDefault:"10s"`
}

// Load 解析环境变量；失败直接返回错误由 main 决定退出
func Load() (*AllConfig, error) {
	cfg := &AllConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	conf = cfg
	return cfg, nil
}

var conf *AllConfig

// GetConfig 返回进程级配置；未 Load 时退化为零值（单测场景）
func GetConfig() *AllConfig {
	if conf == nil {
		conf = &AllConfig{}
	}
	return conf
}

func (c *AllConfig) GetJwtSecret() []byte {
	if c.Server.JwtSecret == "" {
		return nil
	}
	return []byte(c.Server.JwtSecret)
}
