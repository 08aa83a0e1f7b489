package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope WS 帧统一格式：{"type": "...", "data": {...}}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	ErrUnknownType = errors.New("message: unknown event type")
	ErrMalformed   = errors.New("message: malformed frame")
)

// DecodeInbound 解析客户端上行帧
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var in Inbound
	switch env.Type {
	case TypeJoin:
		in = &JoinReq{}
	case TypeLeave:
		in = &LeaveReq{}
	case TypeSendMessage:
		in = &SendMessageReq{}
	case TypeMarkRead:
		in = &MarkReadReq{}
	case TypeTyping:
		in = &TypingReq{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return in, nil
}

// EncodeInbound 客户端侧编码上行事件
func EncodeInbound(in Inbound) ([]byte, error) {
	return encode(in.inboundType(), in)
}

// EncodeOutbound 服务端编码下行事件
func EncodeOutbound(out Outbound) ([]byte, error) {
	return encode(out.outboundType(), out)
}

// MustEncodeOutbound 下行事件都是本包内的结构体，序列化失败只可能是程序错误
func MustEncodeOutbound(out Outbound) []byte {
	b, err := EncodeOutbound(out)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeOutbound 客户端侧解析下行帧
func DecodeOutbound(raw []byte) (Outbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var out Outbound
	switch env.Type {
	case TypeNewMessage:
		out = &NewMessage{}
	case TypeNotification:
		out = &Notification{}
	case TypeAppointmentUpdate:
		out = &AppointmentUpdate{}
	case TypeBillingUpdate:
		out = &BillingUpdate{}
	case TypeUserOnline:
		out = &UserOnline{}
	case TypeUserOffline:
		out = &UserOffline{}
	case TypeError:
		out = &Error{}
	case TypeSendFailed:
		out = &SendFailed{}
	case TypeMessageRead:
		out = &MessageRead{}
	case TypeTyping:
		out = &Typing{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return out, nil
}

// TypeOf 下行事件的 type 字段
func TypeOf(out Outbound) string {
	return out.outboundType()
}

func encode(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}
