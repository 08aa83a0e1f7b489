package realtime

import (
	"net/http"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/middleware"
	"github.com/cydxin/clinic-realtime/response"
	"github.com/gin-gonic/gin"
)

// -------------------- 在线状态 / 通知 相关接口 --------------------

// GinHandlePresence 在线用户快照
// @Summary 在线用户
// @Tags 在线状态
// @Produce json
// @Success 200 {object} response.Response{data=[]hub.Entry} "在线用户（userId/displayName/connectionCount）"
// @Security BearerAuth
// @Router /presence [get]
func (e *Engine) GinHandlePresence(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, response.Success(e.OnlineUsers()))
}

type PublishNotificationReq struct {
	TargetUserID uint64 `json:"targetUserId" binding:"required" example:"1"`
	Kind         string `json:"kind" binding:"required" example:"appointment"`
	Title        string `json:"title" binding:"required" example:"Appointment reminder"`
	Message      string `json:"message" example:"Tomorrow 9:00 with Dr. Bob"`
}

// GinHandlePublishNotification 推送通知（仅 admin / receptionist）
// @Summary 推送通知
// @Description 给目标用户的个人频道推一条通知；用户不在线时直接丢弃，不落库
// @Tags 通知
// @Accept json
// @Produce json
// @Param req body PublishNotificationReq true "通知"
// @Success 200 {object} response.Response{data=map[string]interface{}} "data.notification + data.delivered"
// @Security BearerAuth
// @Router /notifications [post]
func (e *Engine) GinHandlePublishNotification(ctx *gin.Context) {
	ident, ok := middleware.IdentityFrom(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, response.Error(response.CodeTokenInvalid, "identity not found"))
		return
	}
	if ident.Role != cons.RoleAdmin && ident.Role != cons.RoleReception {
		ctx.JSON(http.StatusForbidden, response.Error(response.CodePermissionDeny, "only admin or receptionist can publish notifications"))
		return
	}

	var req PublishNotificationReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}
	n, delivered, err := e.PublishNotification(req.TargetUserID, req.Kind, req.Title, req.Message)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, response.Success(map[string]any{
		"notification": n,
		"delivered":    delivered,
	}))
}
