package response

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/cydxin/clinic-realtime/service"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code" example:"0"`                    // 业务状态码
	Msg  string      `json:"msg" example:"success"`               // 提示消息
	Data interface{} `json:"data,omitempty" swaggertype:"object"` // 响应数据
}

// 业务状态码定义
// 使用说明：
// - 中间件层：使用 HTTP 状态码（401/403/500）
// - 业务层：HTTP 200 + 业务状态码
const (
	CodeSuccess        = 0     // 成功
	CodeParamError     = 10001 // 参数错误
	CodePasswordError  = 10003 // 密码错误（登录失败）
	CodeTokenInvalid   = 10004 // Token 无效/过期
	CodePermissionDeny = 10005 // 权限不足
	CodeSendFailed     = 10006 // 消息存储不可用，可重试
	CodeNotFound       = 10007 // 资源不存在
	CodeInternalError  = 99999 // 内部错误
)

// Success 成功响应
func Success(data interface{}, args ...string) *Response {
	msg := "success"
	for _, arg := range args {
		msg = arg
	}
	return &Response{
		Code: CodeSuccess,
		Msg:  msg,
		Data: data,
	}
}

// Error 错误响应
func Error(code int, msg string) *Response {
	return &Response{
		Code: code,
		Msg:  msg,
	}
}

// WriteJSONWithStatus 写入 JSON 响应（指定 HTTP 状态码）
// 用于中间件层面的鉴权失败等场景（如 401）
func (r *Response) WriteJSONWithStatus(w http.ResponseWriter, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(r); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FromServiceError 把 service 层的错误分类映射成 HTTP 状态码 + 业务码。
// 鉴权失败用 401，其余业务错误保持 HTTP 200 + 业务码，基础设施错误用 500。
func FromServiceError(err error) (int, *Response) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, Error(CodeTokenInvalid, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return http.StatusOK, Error(CodePermissionDeny, err.Error())
	case errors.Is(err, service.ErrInvalidMessage):
		return http.StatusOK, Error(CodeParamError, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return http.StatusOK, Error(CodeNotFound, err.Error())
	case errors.Is(err, service.ErrPersistence):
		return http.StatusOK, Error(CodeSendFailed, err.Error())
	}
	return http.StatusInternalServerError, Error(CodeInternalError, err.Error())
}
