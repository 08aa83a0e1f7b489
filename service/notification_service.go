package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// previewLength 新消息通知正文截断长度
const previewLength = 80

// NotificationService 通知推送：预约/账单等业务模块触达在线用户的唯一入口。
// 通知不落库；用户不在线时直接丢弃（业务数据本身已在各自表里）。
type NotificationService struct {
	*Service
	now func() time.Time
}

func NewNotificationService(s *Service) *NotificationService {
	return &NotificationService{Service: s, now: time.Now}
}

func (s *NotificationService) build(targetUserID uint64, kind, title, body string, data any) (*message.Notification, error) {
	if targetUserID == 0 {
		return nil, errors.New("target_user_id is required")
	}
	if !cons.ValidKind(kind) {
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}
	n := &message.Notification{
		ID:           uuid.NewString(),
		Title:        title,
		Message:      body,
		Kind:         kind,
		TargetUserID: targetUserID,
		Timestamp:    s.now(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		n.Data = datatypes.JSON(b)
	}
	return n, nil
}

// PublishNotification 推送一条通知到目标用户的个人频道，返回通知和投递到的连接数
func (s *NotificationService) PublishNotification(targetUserID uint64, kind, title, body string) (*message.Notification, int, error) {
	return s.PublishNotificationWithData(targetUserID, kind, title, body, nil)
}

// PublishNotificationWithData 同 PublishNotification，附带结构化数据
func (s *NotificationService) PublishNotificationWithData(targetUserID uint64, kind, title, body string, data any) (*message.Notification, int, error) {
	n, err := s.build(targetUserID, kind, title, body, data)
	if err != nil {
		return nil, 0, err
	}
	delivered := s.publish(cons.PersonalChannel(targetUserID), message.MustEncodeOutbound(n))
	return n, delivered, nil
}

// PublishAppointmentUpdate 预约变更：推 appointmentUpdate + 一条 appointment 通知
func (s *NotificationService) PublishAppointmentUpdate(targetUserID uint64, upd message.AppointmentUpdate, title, body string) (int, error) {
	if targetUserID == 0 {
		return 0, errors.New("target_user_id is required")
	}
	delivered := s.publish(cons.PersonalChannel(targetUserID), message.MustEncodeOutbound(upd))
	if _, _, err := s.PublishNotificationWithData(targetUserID, cons.KindAppointment, title, body, upd); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// PublishBillingUpdate 账单变更：推 billingUpdate + 一条 billing 通知
func (s *NotificationService) PublishBillingUpdate(targetUserID uint64, upd message.BillingUpdate, title, body string) (int, error) {
	if targetUserID == 0 {
		return 0, errors.New("target_user_id is required")
	}
	delivered := s.publish(cons.PersonalChannel(targetUserID), message.MustEncodeOutbound(upd))
	if _, _, err := s.PublishNotificationWithData(targetUserID, cons.KindBilling, title, body, upd); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// publishMessageNotification 新消息到达时给接收方的提醒
func (s *NotificationService) publishMessageNotification(m *message.NewMessage) {
	title := "New message"
	if m.SenderName != "" {
		title = "New message from " + m.SenderName
	}
	_, _, _ = s.PublishNotificationWithData(m.ReceiverID, cons.KindMessage, title, preview(m.Content), map[string]any{
		"messageId": m.ID,
		"senderId":  m.SenderID,
	})
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	r := []rune(content)
	return string(r[:previewLength]) + "…"
}
