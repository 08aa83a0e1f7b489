package realtime

import (
	"net/http"
	"strconv"

	"github.com/cydxin/clinic-realtime/middleware"
	"github.com/cydxin/clinic-realtime/response"
	"github.com/gin-gonic/gin"
)

// -------------------- 消息（Message）相关接口 --------------------

// GinHandleGetMessages 拉取会话历史
// @Summary 拉取会话历史
// @Description 当前用户与 peer_id 之间的全部消息，按 (timestamp, id) 升序。客户端定时轮询和断线重连后都会调用。
// @Tags 消息
// @Accept json
// @Produce json
// @Param peer_id query uint64 true "对方用户ID"
// @Success 200 {object} response.Response{data=[]message.NewMessage} "消息列表"
// @Failure 400 {object} response.Response "参数错误"
// @Failure 500 {object} response.Response "服务器错误"
// @Security BearerAuth
// @Router /messages [get]
func (e *Engine) GinHandleGetMessages(ctx *gin.Context) {
	ident, ok := middleware.IdentityFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, response.Error(response.CodeTokenInvalid, "identity not found"))
		return
	}
	peerID, err := strconv.ParseUint(ctx.Query("peer_id"), 10, 64)
	if err != nil || peerID == 0 {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "invalid peer_id"))
		return
	}

	list, err := e.DispatchService.History(ctx.Request.Context(), ident, peerID)
	if err != nil {
		ctx.JSON(response.FromServiceError(err))
		return
	}
	ctx.JSON(http.StatusOK, response.Success(list))
}

// GinHandleMarkMessageRead 标记消息已读
// @Summary 标记已读
// @Description 只有接收方可以标记；发送方会收到 messageRead 事件
// @Tags 消息
// @Produce json
// @Param id path uint64 true "消息ID"
// @Success 200 {object} response.Response "成功响应"
// @Failure 400 {object} response.Response "参数错误"
// @Security BearerAuth
// @Router /messages/{id}/read [post]
func (e *Engine) GinHandleMarkMessageRead(ctx *gin.Context) {
	ident, ok := middleware.IdentityFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, response.Error(response.CodeTokenInvalid, "identity not found"))
		return
	}
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, "invalid message id"))
		return
	}

	if _, err := e.DispatchService.MarkRead(ctx.Request.Context(), ident, id); err != nil {
		ctx.JSON(response.FromServiceError(err))
		return
	}
	ctx.JSON(http.StatusOK, response.Success(map[string]any{"id": id, "isRead": true}))
}
