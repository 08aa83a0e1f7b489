package realtime

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/hub"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/cydxin/clinic-realtime/service"
)

// handleMessage 上行事件分发。每种事件一个分支，新增事件类型时编译器会提示 message 包里的类型。
func (h *WsServer) handleMessage(c *Client, raw []byte) {
	in, err := message.DecodeInbound(raw)
	if err != nil {
		c.reply(message.Error{Message: err.Error(), Code: message.ErrCodeBadRequest})
		return
	}

	switch req := in.(type) {
	case *message.JoinReq:
		h.onJoin(c, req)
	case *message.LeaveReq:
		h.onLeave(c, req)
	case *message.SendMessageReq:
		h.onSendMessage(c, req)
	case *message.MarkReadReq:
		h.onMarkRead(c, req)
	case *message.TypingReq:
		h.onTyping(c, req)
	default:
		c.reply(message.Error{Message: "unsupported event", Code: message.ErrCodeBadRequest})
	}
}

func (h *WsServer) onJoin(c *Client, req *message.JoinReq) {
	ch := strings.TrimSpace(req.Channel)
	if ch == "" {
		c.reply(message.Error{Message: "channel is required", Code: message.ErrCodeBadRequest})
		return
	}
	if cons.IsReservedChannel(ch) {
		c.reply(message.Error{Message: hub.ErrReservedChannel.Error(), Code: message.ErrCodeForbidden})
		return
	}
	// 重复 join 是 no-op
	h.router.Subscribe(c, ch)
}

func (h *WsServer) onLeave(c *Client, req *message.LeaveReq) {
	ch := strings.TrimSpace(req.Channel)
	if cons.IsReservedChannel(ch) {
		c.reply(message.Error{Message: hub.ErrReservedChannel.Error(), Code: message.ErrCodeForbidden})
		return
	}
	// 不在频道内 leave 是 no-op
	h.router.Unsubscribe(c, ch)
}

// onSendMessage 落库前的错误只回给当前连接；落库失败回 sendFailed(retryable)，不做任何推送
func (h *WsServer) onSendMessage(c *Client, req *message.SendMessageReq) {
	ctx, cancel := context.WithTimeout(c.ctx, handleTimeout)
	defer cancel()

	_, err := h.dispatch.Dispatch(ctx, c.Identity, req.ReceiverID, req.Content)
	if err == nil {
		h.metrics.DispatchedInc("ok")
		return
	}

	failed := message.SendFailed{ReceiverID: req.ReceiverID, Content: req.Content, Reason: err.Error()}
	switch {
	case errors.Is(err, service.ErrPersistence):
		h.metrics.DispatchedInc("persistence")
		failed.Retryable = true
		c.reply(failed)
	case errors.Is(err, service.ErrForbidden):
		h.metrics.DispatchedInc("forbidden")
		c.reply(message.Error{Message: err.Error(), Code: message.ErrCodeForbidden})
		c.reply(failed)
	case errors.Is(err, service.ErrInvalidMessage):
		h.metrics.DispatchedInc("invalid")
		c.reply(message.Error{Message: err.Error(), Code: message.ErrCodeBadRequest})
		c.reply(failed)
	default:
		h.metrics.DispatchedInc("persistence")
		log.Printf("[ws] dispatch conn=%s unexpected error: %v", c.id, err)
		failed.Retryable = true
		c.reply(failed)
	}
}

func (h *WsServer) onMarkRead(c *Client, req *message.MarkReadReq) {
	ctx, cancel := context.WithTimeout(c.ctx, handleTimeout)
	defer cancel()

	if _, err := h.dispatch.MarkRead(ctx, c.Identity, req.MessageID); err != nil {
		c.reply(message.Error{Message: err.Error(), Code: errorCode(err)})
	}
}

func (h *WsServer) onTyping(c *Client, req *message.TypingReq) {
	h.dispatch.RelayTyping(c.Identity, req.ReceiverID, req.IsTyping)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return message.ErrCodeForbidden
	case errors.Is(err, service.ErrNotFound):
		return message.ErrCodeNotFound
	case errors.Is(err, service.ErrInvalidMessage):
		return message.ErrCodeBadRequest
	}
	return message.ErrCodeInternal
}
