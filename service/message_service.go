package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cydxin/clinic-realtime/models"
	"gorm.io/gorm"
)

// MessageStore 消息存储（外部协作者），核心逻辑只调用，不自己实现存储。
// ID 只能由存储分配。
type MessageStore interface {
	Create(ctx context.Context, senderID, receiverID uint64, subjectPatientID *uint64, content string) (*models.Message, error)
	FindByID(ctx context.Context, id uint64) (*models.Message, error)
	// MarkRead 返回是否发生了状态变化
	MarkRead(ctx context.Context, id uint64) (bool, error)
	// ListByPair 按 (created_at, id) 升序，可重复调用
	ListByPair(ctx context.Context, userA, userB uint64) ([]models.Message, error)
}

// MessageService 基于 GORM 的 MessageStore 实现
type MessageService struct {
	*Service
}

func NewMessageService(s *Service) *MessageService {
	return &MessageService{Service: s}
}

// errNoDB 未配置数据库时所有存储操作都按持久化失败处理
var errNoDB = fmt.Errorf("%w: message store has no database", ErrPersistence)

func (s *MessageService) dao(ctx context.Context) (*models.MessageDAO, error) {
	if s.Service == nil || s.DB == nil {
		return nil, errNoDB
	}
	return models.NewMessageDAO(s.DB.WithContext(ctx)), nil
}

// Create 保存消息到数据库
func (s *MessageService) Create(ctx context.Context, senderID, receiverID uint64, subjectPatientID *uint64, content string) (*models.Message, error) {
	dao, err := s.dao(ctx)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		SenderID:         senderID,
		ReceiverID:       receiverID,
		SubjectPatientID: subjectPatientID,
		Content:          content,
	}
	if err := dao.Create(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// FindByID 根据ID获取消息，不存在时返回 ErrNotFound
func (s *MessageService) FindByID(ctx context.Context, id uint64) (*models.Message, error) {
	dao, err := s.dao(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := dao.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *MessageService) MarkRead(ctx context.Context, id uint64) (bool, error) {
	dao, err := s.dao(ctx)
	if err != nil {
		return false, err
	}
	n, err := dao.MarkRead(id)
	return n > 0, err
}

func (s *MessageService) ListByPair(ctx context.Context, userA, userB uint64) ([]models.Message, error) {
	dao, err := s.dao(ctx)
	if err != nil {
		return nil, err
	}
	return dao.ListByPair(userA, userB)
}
