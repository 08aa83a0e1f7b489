package models

import (
	"time"

	"gorm.io/gorm"
)

var prefix = "im_"

// SetTablePrefix 修改表前缀，需在 AutoMigrate 和任何查询之前调用
func SetTablePrefix(p string) {
	if p != "" {
		prefix = p
	}
}

// User 用户表（只读：由诊所业务侧维护，这里只用于身份解析和角色判断）
type User struct {
	ID          uint64     `gorm:"primarykey"`
	Username    string     `gorm:"size:50;uniqueIndex;not null"` // 登录名
	Nickname    string     `gorm:"size:100;not null"`            // 显示名
	Password    string     `gorm:"size:255;not null"`            // bcrypt 哈希
	Role        string     `gorm:"size:20;index;not null"`       // patient/doctor/nurse/admin/receptionist
	IsActive    bool       `gorm:"default:true"`                 // 停用账号不允许建连
	LastLoginAt *time.Time // 最后登录时间
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (User) TableName() string {
	return prefix + "user"
}

// DisplayName 优先昵称
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// Message 消息表（只追加；本子系统只会翻转 is_read，从不删除）
type Message struct {
	ID               uint64    `gorm:"primarykey"`                            // 存储分配的权威 ID
	SenderID         uint64    `gorm:"index:idx_pair,priority:1;not null"`    // 发送者
	ReceiverID       uint64    `gorm:"index:idx_pair,priority:2;not null"`    // 接收者
	SubjectPatientID *uint64   `gorm:"index"`                                 // 关联患者（任意一方为患者时）
	Content          string    `gorm:"type:text;not null"`                    // 内容
	IsRead           bool      `gorm:"default:false"`                         // 已读
	CreatedAt        time.Time `gorm:"index:idx_pair,priority:3;precision:6"` // 服务端时间戳
}

func (Message) TableName() string {
	return prefix + "message"
}
