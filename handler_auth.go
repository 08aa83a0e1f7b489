package realtime

import (
	"net/http"

	"github.com/cydxin/clinic-realtime/middleware"
	"github.com/cydxin/clinic-realtime/response"
	"github.com/gin-gonic/gin"
)

// -------------------- 登录（Auth）相关接口 --------------------

type LoginReq struct {
	Username string `json:"username" binding:"required" example:"drbob"`
	Password string `json:"password" binding:"required" example:"secret"`
}

type LoginUser struct {
	ID          uint64 `json:"id" example:"2"`
	Role        string `json:"role" example:"doctor"`
	DisplayName string `json:"displayName" example:"Dr. Bob"`
}

type LoginResp struct {
	Token string    `json:"token"`
	User  LoginUser `json:"user"`
}

// GinHandleLogin 用户登录
// @Summary 用户登录
// @Description 用户名密码登录，返回建立 WebSocket 连接用的 token
// @Tags 鉴权
// @Accept json
// @Produce json
// @Param req body LoginReq true "登录信息"
// @Success 200 {object} response.Response{data=LoginResp} "登录响应（token + 用户信息）"
// @Failure 401 {object} response.Response "认证失败"
// @Router /auth/login [post]
func (e *Engine) GinHandleLogin(ctx *gin.Context) {
	var req LoginReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.Error(response.CodeParamError, err.Error()))
		return
	}

	token, ident, err := e.AuthService.Login(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		status, resp := response.FromServiceError(err)
		if status == http.StatusUnauthorized {
			resp.Code = response.CodePasswordError
		}
		ctx.JSON(status, resp)
		return
	}

	ctx.JSON(http.StatusOK, response.Success(LoginResp{
		Token: token,
		User:  LoginUser{ID: ident.UserID, Role: ident.Role, DisplayName: ident.DisplayName},
	}))
}

// GinHandleLogout 注销当前 token
// @Summary 注销
// @Description 注销当前 token，之后使用该 token 的握手会被拒绝（已建立的连接不受影响）
// @Tags 鉴权
// @Produce json
// @Success 200 {object} response.Response "成功响应"
// @Security BearerAuth
// @Router /auth/logout [post]
func (e *Engine) GinHandleLogout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	if err := e.AuthService.Logout(ctx.Request.Context(), token); err != nil {
		ctx.JSON(http.StatusInternalServerError, response.Error(response.CodeInternalError, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, response.Success(nil))
}
