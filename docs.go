// Package realtime 诊所应用的实时在线状态与消息子系统
// @title Clinic Realtime API
// @version 1.0
// @description 实时子系统的 HTTP 接口：登录签发握手凭证、会话历史轮询、标记已读、在线用户、通知推送。
// @description 实时事件走 WebSocket：GET /ws?token=<token>，帧格式 {"type": "...", "data": {...}}。
// @description
// @description ## 业务状态码说明
// @description | Code | 说明 |
// @description |------|------|
// @description | 0 | 成功 |
// @description | 10001 | 参数错误 |
// @description | 10003 | 用户名或密码错误 |
// @description | 10004 | Token 无效/过期/已注销 |
// @description | 10005 | 权限不足 |
// @description | 10006 | 消息存储不可用，可重试 |
// @description | 10007 | 资源不存在 |
// @description | 99999 | 内部错误 |
// @description
// @description ## HTTP 状态码说明
// @description - **200**: 业务请求成功（根据 response.code 判断业务状态）
// @description - **401**: 认证失败（握手和 HTTP 接口一致）
// @description - **403**: 权限不足
// @description - **500**: 服务器内部错误
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:6789
// @BasePath /api/v1
// @schemes http https
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 格式：Bearer <token>
//
// @securityDefinitions.apikey QueryToken
// @in query
// @name token
// @description 用于 WebSocket 等无法传 header 的场景
package realtime
