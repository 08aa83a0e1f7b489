package realtime

import (
	"time"

	"github.com/cydxin/clinic-realtime/service"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	defaultPresenceGrace = 3 * time.Second
	defaultSendBuffer    = 256
)

type ServiceConfig struct {
	// Debug 打开后 GORM 输出每条 SQL
	Debug bool
}

type Config struct {
	DB          *gorm.DB
	RDB         *redis.Client
	TablePrefix string
	Service     ServiceConfig

	// JWTSecret 握手凭证签名密钥，为空时所有握手都会被拒绝
	JWTSecret string
	TokenTTL  time.Duration

	// PresenceGrace 最后一个连接断开后延迟多久发 offline；0 表示立即发
	PresenceGrace time.Duration
	// SendBuffer 每个连接的发送缓冲（帧数），满了视为慢消费者并断开
	SendBuffer int

	// MetricsRegisterer 为空时使用 engine 私有的 registry
	MetricsRegisterer prometheus.Registerer

	// MessageStore / Users 为空时使用 DB 上的默认实现
	MessageStore service.MessageStore
	Users        service.UserDirectory
}

type Option func(*Config)

func WithDB(db *gorm.DB) Option {
	return func(c *Config) {
		c.DB = db
	}
}

func WithTablePrefix(prefix string) Option {
	return func(c *Config) {
		c.TablePrefix = prefix
	}
}

func WithRDB(RDB *redis.Client) Option {
	return func(c *Config) {
		c.RDB = RDB
	}
}

func WithServiceDebug(debug bool) Option {
	return func(c *Config) {
		c.Service.Debug = debug
	}
}

func WithJWTSecret(secret string) Option {
	return func(c *Config) {
		c.JWTSecret = secret
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TokenTTL = ttl
	}
}

// WithPresenceGrace 设置下线宽限期，宽限期内重连不会产生 offline/online 抖动
func WithPresenceGrace(d time.Duration) Option {
	return func(c *Config) {
		c.PresenceGrace = d
	}
}

func WithSendBuffer(n int) Option {
	return func(c *Config) {
		c.SendBuffer = n
	}
}

func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.MetricsRegisterer = reg
	}
}

// WithMessageStore 替换消息存储（例如接入业务侧已有的消息表）
func WithMessageStore(store service.MessageStore) Option {
	return func(c *Config) {
		c.MessageStore = store
	}
}

// WithUserDirectory 替换用户查询
func WithUserDirectory(users service.UserDirectory) Option {
	return func(c *Config) {
		c.Users = users
	}
}
