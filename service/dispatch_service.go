package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/cydxin/clinic-realtime/models"
	"gorm.io/gorm"
)

// MaxContentLength 单条消息最大字符数
const MaxContentLength = 4000

const pairLockStripes = 64

// DispatchService 处理发消息：校验 -> 落库 -> 推给接收方个人频道 -> 推回发送方个人频道。
//
// 同一会话（无序用户对）的 "落库+推送" 在同一把条带锁内完成，
// 保证订阅者收到的顺序与落库顺序一致；不同会话之间不保证顺序。
type DispatchService struct {
	*Service
	store  MessageStore
	users  UserDirectory
	notify *NotificationService

	pairLocks [pairLockStripes]sync.Mutex
}

func NewDispatchService(s *Service, store MessageStore, users UserDirectory, notify *NotificationService) *DispatchService {
	if users == nil && s != nil && s.DB != nil {
		users = models.NewUserDAO(s.DB)
	}
	return &DispatchService{Service: s, store: store, users: users, notify: notify}
}

func (d *DispatchService) pairLock(a, b uint64) *sync.Mutex {
	if a > b {
		a, b = b, a
	}
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d:%d", a, b)
	return &d.pairLocks[h.Sum32()%pairLockStripes]
}

// resolveSubject 决定关联患者：任意一方为患者则关联该患者；双方都是患者直接拒绝
func resolveSubject(sender *Identity, receiver *models.User) (*uint64, error) {
	senderPatient := cons.IsPatient(sender.Role)
	receiverPatient := cons.IsPatient(receiver.Role)
	switch {
	case senderPatient && receiverPatient:
		return nil, fmt.Errorf("%w: patients cannot message other patients", ErrForbidden)
	case senderPatient:
		id := sender.UserID
		return &id, nil
	case receiverPatient:
		id := receiver.ID
		return &id, nil
	}
	return nil, nil
}

func (d *DispatchService) validate(sender *Identity, receiverID uint64, content string) error {
	if sender == nil || sender.UserID == 0 {
		return fmt.Errorf("%w: sender required", ErrInvalidMessage)
	}
	if receiverID == 0 {
		return fmt.Errorf("%w: receiverId required", ErrInvalidMessage)
	}
	if receiverID == sender.UserID {
		return fmt.Errorf("%w: cannot message yourself", ErrInvalidMessage)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, MaxContentLength)
	}
	return nil
}

func (d *DispatchService) loadUser(id uint64) (*models.User, error) {
	if d.users == nil {
		return nil, errors.New("user directory is not configured")
	}
	u, err := d.users.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
		}
		return nil, err
	}
	return u, nil
}

// Dispatch 发送消息。
// 落库之前的任何错误都只返回给调用方，不推送任何内容；落库失败返回 ErrPersistence。
// 落库成功后的推送为尽力而为，不再向发送方报错（离线补偿交给轮询）。
func (d *DispatchService) Dispatch(ctx context.Context, sender *Identity, receiverID uint64, content string) (*message.NewMessage, error) {
	if err := d.validate(sender, receiverID, content); err != nil {
		return nil, err
	}
	receiver, err := d.loadUser(receiverID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: receiver not found", ErrInvalidMessage)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !receiver.IsActive {
		return nil, fmt.Errorf("%w: receiver is inactive", ErrForbidden)
	}
	subject, err := resolveSubject(sender, receiver)
	if err != nil {
		return nil, err
	}

	mu := d.pairLock(sender.UserID, receiverID)
	mu.Lock()
	defer mu.Unlock()

	saved, err := d.store.Create(ctx, sender.UserID, receiverID, subject, content)
	if err != nil {
		log.Printf("[dispatch] persist %d->%d failed: %v", sender.UserID, receiverID, err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	evt := toNewMessage(saved, sender.DisplayName)
	payload := message.MustEncodeOutbound(evt)
	// 同一份权威消息：先推接收方，再推发送方（发送方其他设备 + 本连接的乐观消息对账）
	d.publish(cons.PersonalChannel(receiverID), payload)
	d.publish(cons.PersonalChannel(sender.UserID), payload)

	if d.notify != nil {
		d.notify.publishMessageNotification(evt)
	}
	return evt, nil
}

// MarkRead 只有接收方可以标记已读；成功后通知发送方
func (d *DispatchService) MarkRead(ctx context.Context, reader *Identity, messageID uint64) (*models.Message, error) {
	if reader == nil || messageID == 0 {
		return nil, fmt.Errorf("%w: messageId required", ErrInvalidMessage)
	}
	msg, err := d.store.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != reader.UserID {
		return nil, fmt.Errorf("%w: only the receiver can mark a message read", ErrForbidden)
	}
	changed, err := d.store.MarkRead(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	msg.IsRead = true
	if changed {
		d.publish(cons.PersonalChannel(msg.SenderID), message.MustEncodeOutbound(message.MessageRead{ID: msg.ID, ReaderID: reader.UserID}))
	}
	return msg, nil
}

// History 会话全量历史（轮询补偿路径）
func (d *DispatchService) History(ctx context.Context, me *Identity, peerID uint64) ([]message.NewMessage, error) {
	if me == nil || peerID == 0 {
		return nil, fmt.Errorf("%w: peer_id required", ErrInvalidMessage)
	}
	msgs, err := d.store.ListByPair(ctx, me.UserID, peerID)
	if err != nil {
		return nil, err
	}
	names := map[uint64]string{me.UserID: me.DisplayName}
	out := make([]message.NewMessage, 0, len(msgs))
	for i := range msgs {
		sid := msgs[i].SenderID
		name, ok := names[sid]
		if !ok {
			if u, err := d.loadUser(sid); err == nil {
				name = u.DisplayName()
			}
			names[sid] = name
		}
		out = append(out, *toNewMessage(&msgs[i], name))
	}
	return out, nil
}

// RelayTyping 正在输入只转发给接收方，不落库
func (d *DispatchService) RelayTyping(sender *Identity, receiverID uint64, isTyping bool) int {
	if sender == nil || receiverID == 0 || receiverID == sender.UserID {
		return 0
	}
	return d.publish(cons.PersonalChannel(receiverID), message.MustEncodeOutbound(message.Typing{
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		IsTyping:   isTyping,
	}))
}

func toNewMessage(m *models.Message, senderName string) *message.NewMessage {
	return &message.NewMessage{
		ID:               m.ID,
		SenderID:         m.SenderID,
		SenderName:       senderName,
		ReceiverID:       m.ReceiverID,
		SubjectPatientID: m.SubjectPatientID,
		Content:          m.Content,
		Timestamp:        m.CreatedAt,
		IsRead:           m.IsRead,
	}
}
