package realtime

import (
	"errors"
	"log"

	"github.com/cydxin/clinic-realtime/models"
)

// AutoMigrate 建表/补字段。用户表通常由诊所业务侧维护，这里只保证本子系统需要的列存在。
func (e *Engine) AutoMigrate() error {
	db := e.config.DB
	if db == nil {
		return errors.New("db is nil")
	}
	log.Println("AutoMigrate...")
	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		return err
	}

	// 历史库里可能缺少会话索引（按用户对拉历史依赖它）
	m := db.Migrator()
	if !m.HasIndex(&models.Message{}, "idx_pair") {
		log.Printf("创建索引 idx_pair on %s", models.Message{}.TableName())
		if err := m.CreateIndex(&models.Message{}, "idx_pair"); err != nil {
			return err
		}
	}
	return nil
}
