package realtime

import (
	"log"
	"net/http"

	"github.com/cydxin/clinic-realtime/hub"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/cydxin/clinic-realtime/metrics"
	"github.com/cydxin/clinic-realtime/middleware"
	"github.com/cydxin/clinic-realtime/models"
	"github.com/cydxin/clinic-realtime/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine 实时子系统：握手鉴权、频道路由、在线状态、消息分发与通知推送。
// 一个进程持有一个 Engine（路由表和在线表都在进程内）。
type Engine struct {
	config *Config

	AuthService         *service.AuthService // 身份校验
	TokenService        *service.TokenService
	MsgStore            service.MessageStore
	DispatchService     *service.DispatchService
	NotificationService *service.NotificationService
	Metrics             *metrics.Metrics
	WsServer            *WsServer
}

// NewEngine 创建实例
// 使用选项模式传入配置，Option回调
func NewEngine(opts ...Option) *Engine {
	c := &Config{
		TablePrefix:   "im_", // Default
		PresenceGrace: defaultPresenceGrace,
		SendBuffer:    defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	models.SetTablePrefix(c.TablePrefix)
	if c.DB != nil && c.Service.Debug {
		c.DB = c.DB.Debug()
	}

	e := &Engine{config: c}

	reg := c.MetricsRegisterer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	e.Metrics = metrics.New(reg)

	users := c.Users
	if users == nil && c.DB != nil {
		users = models.NewUserDAO(c.DB)
	}
	e.TokenService = service.NewTokenService(c.JWTSecret, c.TokenTTL, c.RDB)

	// 基础 Service 先建，WsPublisher 在 WsServer 创建后注入
	baseService := &service.Service{
		DB:          c.DB,
		RDB:         c.RDB,
		TablePrefix: c.TablePrefix,
	}
	e.AuthService = service.NewAuthService(baseService, e.TokenService, users)

	e.WsServer = NewWsServer(e.AuthService, e.Metrics, c.PresenceGrace, c.SendBuffer)
	baseService.WsPublisher = e.WsServer.Publish // 注入 WebSocket 推送函数

	e.MsgStore = c.MessageStore
	if e.MsgStore == nil {
		e.MsgStore = service.NewMessageService(baseService)
	}
	e.NotificationService = service.NewNotificationService(baseService)
	e.DispatchService = service.NewDispatchService(baseService, e.MsgStore, users, e.NotificationService)
	e.WsServer.dispatch = e.DispatchService

	if c.DB != nil {
		if err := e.AutoMigrate(); err != nil {
			log.Printf("AutoMigrate failed: %v", err)
		}
	}
	if c.MessageStore == nil && c.DB == nil {
		log.Printf("[engine] no database or message store configured, every sendMessage will fail")
	}
	if c.JWTSecret == "" {
		log.Printf("[engine] JWT secret not configured, every websocket handshake will be rejected")
	}
	return e
}

// ServeWS 处理 WebSocket 请求，凭证从 Authorization: Bearer 或 ?token= 读取
func (e *Engine) ServeWS(w http.ResponseWriter, r *http.Request) {
	e.WsServer.ServeWS(w, r)
}

// HandleWS 返回 WebSocket 的Handler
func (e *Engine) HandleWS() http.HandlerFunc {
	return e.WsServer.ServeWS
}

// GinAuthMiddleware 返回配置好的 Gin 鉴权中间件
//
//	r.Use(engine.GinAuthMiddleware(nil))
func (e *Engine) GinAuthMiddleware(opt *middleware.AuthOptions) gin.HandlerFunc {
	return middleware.GinAuthMiddleware(e.AuthService, opt)
}

// PublishNotification 预约/账单等业务模块触达在线用户的入口
func (e *Engine) PublishNotification(targetUserID uint64, kind, title, body string) (*message.Notification, int, error) {
	return e.NotificationService.PublishNotification(targetUserID, kind, title, body)
}

func (e *Engine) PublishAppointmentUpdate(targetUserID uint64, upd message.AppointmentUpdate, title, body string) (int, error) {
	return e.NotificationService.PublishAppointmentUpdate(targetUserID, upd, title, body)
}

func (e *Engine) PublishBillingUpdate(targetUserID uint64, upd message.BillingUpdate, title, body string) (int, error) {
	return e.NotificationService.PublishBillingUpdate(targetUserID, upd, title, body)
}

// OnlineUsers 在线用户快照
func (e *Engine) OnlineUsers() []hub.Entry {
	return e.WsServer.Presence().Snapshot()
}

// Shutdown 关闭所有连接
func (e *Engine) Shutdown() {
	e.WsServer.Shutdown()
}
