package service

import (
	"errors"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Service 基础服务，包含数据库、Redis 和推送回调
type Service struct {
	DB          *gorm.DB
	RDB         *redis.Client
	TablePrefix string

	// WsPublisher 向频道推送一帧（由 engine 注入 hub.Router.Publish），返回投递到的连接数。
	// 通过函数注入避免 service 依赖 ws 层。
	WsPublisher func(channel string, payload []byte) int
}

// publish 推送为尽力而为：没有订阅者或未注入时直接丢弃
func (s *Service) publish(channel string, payload []byte) int {
	if s == nil || s.WsPublisher == nil {
		return 0
	}
	return s.WsPublisher(channel, payload)
}

// 错误分类（调用方用 errors.Is 判断）
var (
	// ErrUnauthenticated 凭证缺失/格式错误/过期/已注销，或账号不存在/已停用
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden 鉴权通过但无权操作（例如患者给患者发消息）
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidMessage 参数校验失败，未落库
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNotFound 目标不存在
	ErrNotFound = errors.New("not found")
	// ErrPersistence 消息存储不可用/写入失败，可重试
	ErrPersistence = errors.New("send failed")
)
