package models

import (
	"gorm.io/gorm"
)

// MessageDAO 封装 Message 相关的数据库操作（即消息存储本身）
//
// 约定：
// - ID 只由数据库自增分配，调用方不得预设 ID。
// - 只追加：除 is_read 外不修改，不删除。
type MessageDAO struct {
	db *gorm.DB
}

// NewMessageDAO 创建 MessageDAO 实例
func NewMessageDAO(db *gorm.DB) *MessageDAO {
	return &MessageDAO{db: db}
}

// Create 创建消息，成功后 msg.ID/msg.CreatedAt 为权威值
func (dao *MessageDAO) Create(msg *Message) error {
	msg.ID = 0
	return dao.db.Create(msg).Error
}

// FindByID 根据ID查找消息
func (dao *MessageDAO) FindByID(id uint64) (*Message, error) {
	var msg Message
	err := dao.db.Where("id = ?", id).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead 标记已读，返回受影响行数（已读过的消息再次标记返回 0）
func (dao *MessageDAO) MarkRead(id uint64) (int64, error) {
	res := dao.db.Model(&Message{}).
		Where("id = ? AND is_read = ?", id, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// ListByPair 两个用户之间的全部消息，按 (created_at, id) 升序。
// 可重复调用（轮询补偿用）。
func (dao *MessageDAO) ListByPair(userA, userB uint64) ([]Message, error) {
	var messages []Message
	err := dao.db.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}
