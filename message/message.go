package message

import (
	"time"

	"gorm.io/datatypes"
)

// WS 上行事件类型（client -> server）
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSendMessage = "sendMessage"
	TypeMarkRead    = "markRead"
	TypeTyping      = "typing"
)

// WS 下行事件类型（server -> client）
const (
	TypeNewMessage        = "newMessage"
	TypeNotification      = "notification"
	TypeAppointmentUpdate = "appointmentUpdate"
	TypeBillingUpdate     = "billingUpdate"
	TypeUserOnline        = "userOnline"
	TypeUserOffline       = "userOffline"
	TypeError             = "error"
	TypeSendFailed        = "sendFailed"
	TypeMessageRead       = "messageRead"
	// TypeTyping 下行复用同名事件
)

// Inbound 客户端上行事件。每种事件一个具体类型，handler 用 type switch 穷举处理。
type Inbound interface {
	inboundType() string
}

// JoinReq 加入自定义频道（个人/角色频道由服务端推导，不允许手动加入）
type JoinReq struct {
	Channel string `json:"channel"`
}

// LeaveReq 离开自定义频道
type LeaveReq struct {
	Channel string `json:"channel"`
}

// SendMessageReq 发送消息
type SendMessageReq struct {
	ReceiverID uint64 `json:"receiverId"`
	Content    string `json:"content"`
}

// MarkReadReq 标记已读
type MarkReadReq struct {
	MessageID uint64 `json:"messageId"`
}

// TypingReq 正在输入
type TypingReq struct {
	ReceiverID uint64 `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

func (JoinReq) inboundType() string        { return TypeJoin }
func (LeaveReq) inboundType() string       { return TypeLeave }
func (SendMessageReq) inboundType() string { return TypeSendMessage }
func (MarkReadReq) inboundType() string    { return TypeMarkRead }
func (TypingReq) inboundType() string      { return TypeTyping }

// Outbound 服务端下行事件
type Outbound interface {
	outboundType() string
}

// NewMessage 已落库的权威消息（id 由存储分配）
type NewMessage struct {
	ID               uint64    `json:"id"`
	SenderID         uint64    `json:"senderId"`
	SenderName       string    `json:"senderName"`
	ReceiverID       uint64    `json:"receiverId"`
	SubjectPatientID *uint64   `json:"subjectPatientId,omitempty"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	IsRead           bool      `json:"isRead"`
}

// Notification 通知事件（不落库）
type Notification struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Kind         string         `json:"kind"`
	TargetUserID uint64         `json:"targetUserId"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         datatypes.JSON `json:"data,omitempty"`
}

// AppointmentUpdate 预约变更，由预约模块经 NotificationService 推送
type AppointmentUpdate struct {
	AppointmentID uint64         `json:"appointmentId"`
	PatientID     uint64         `json:"patientId"`
	ProviderID    uint64         `json:"providerId"`
	Action        string         `json:"action"` // created/rescheduled/cancelled/...
	Status        string         `json:"status"`
	ScheduledAt   *time.Time     `json:"scheduledAt,omitempty"`
	Detail        datatypes.JSON `json:"detail,omitempty"`
}

// BillingUpdate 账单变更
type BillingUpdate struct {
	InvoiceID   uint64         `json:"invoiceId"`
	PatientID   uint64         `json:"patientId"`
	Action      string         `json:"action"`
	Status      string         `json:"status"`
	AmountCents int64          `json:"amountCents"`
	Currency    string         `json:"currency"`
	Detail      datatypes.JSON `json:"detail,omitempty"`
}

// UserOnline 用户上线（广播给所有连接）
type UserOnline struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// UserOffline 用户下线
type UserOffline struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Error 同步返回给发起连接的错误
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SendFailed 落库失败，客户端据此把乐观消息标记为失败
type SendFailed struct {
	ReceiverID uint64 `json:"receiverId"`
	Content    string `json:"content"`
	Reason     string `json:"reason"`
	Retryable  bool   `json:"retryable"`
}

// MessageRead 消息被接收方读取（推给发送方）
type MessageRead struct {
	ID       uint64 `json:"id"`
	ReaderID uint64 `json:"readerId"`
}

// Typing 下行的正在输入提示
type Typing struct {
	SenderID   uint64 `json:"senderId"`
	SenderName string `json:"senderName"`
	IsTyping   bool   `json:"isTyping"`
}

func (NewMessage) outboundType() string        { return TypeNewMessage }
func (Notification) outboundType() string      { return TypeNotification }
func (AppointmentUpdate) outboundType() string { return TypeAppointmentUpdate }
func (BillingUpdate) outboundType() string     { return TypeBillingUpdate }
func (UserOnline) outboundType() string        { return TypeUserOnline }
func (UserOffline) outboundType() string       { return TypeUserOffline }
func (Error) outboundType() string             { return TypeError }
func (SendFailed) outboundType() string        { return TypeSendFailed }
func (MessageRead) outboundType() string       { return TypeMessageRead }
func (Typing) outboundType() string            { return TypeTyping }

// 错误码（Error.Code）
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeForbidden  = "forbidden"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal"
)
