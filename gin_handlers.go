package realtime

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部路由：
//
//	GET  /ws                          WebSocket（?token= 或 Authorization: Bearer）
//	GET  /metrics                     Prometheus
//	POST /api/v1/auth/login
//	POST /api/v1/auth/logout
//	GET  /api/v1/messages?peer_id=
//	POST /api/v1/messages/:id/read
//	GET  /api/v1/presence
//	POST /api/v1/notifications
//
// 也可以只挂需要的 handler，自行组织路由。
func (e *Engine) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", gin.WrapF(e.ServeWS))
	r.GET("/metrics", gin.WrapH(e.Metrics.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/login", e.GinHandleLogin)

	authed := api.Group("", e.GinAuthMiddleware(nil))
	{
		authed.POST("/auth/logout", e.GinHandleLogout)
		authed.GET("/messages", e.GinHandleGetMessages)
		authed.POST("/messages/:id/read", e.GinHandleMarkMessageRead)
		authed.GET("/presence", e.GinHandlePresence)
		authed.POST("/notifications", e.GinHandlePublishNotification)
	}
}
