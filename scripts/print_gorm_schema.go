package main

import (
	"fmt"
	"log"
	"os"

	"github.com/cydxin/clinic-realtime/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// 打印消息表/用户表的 GORM 解析结果和数据库里的实际结构，
// 用来确认 created_at 的精度和 idx_pair 索引是否与模型一致。
//
// Usage:
//
//	export CLINIC_RT_DSN=user:pass@tcp(127.0.0.1:3306)/clinic?charset=utf8mb4&parseTime=true&loc=Local
//	export CLINIC_RT_TABLE_PREFIX=clinic_
//	go run ./scripts/print_gorm_schema.go
func main() {
	dsn := os.Getenv("CLINIC_RT_DSN")
	if dsn == "" {
		log.Fatal("CLINIC_RT_DSN is empty")
	}
	models.SetTablePrefix(os.Getenv("CLINIC_RT_TABLE_PREFIX"))

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	for _, model := range []any{&models.Message{}, &models.User{}} {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			log.Fatalf("parse %T: %v", model, err)
		}
		printModel(db, stmt.Schema)
	}
}

func printModel(db *gorm.DB, s *schema.Schema) {
	fmt.Printf("=== %s (%s) ===\n", s.Name, s.Table)
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		fmt.Printf("%-20s %-12s %s\n", f.DBName, f.DataType, db.Dialector.DataTypeOf(f))
	}

	type col struct {
		Field string
		Type  string
		Null  string
		Key   string
	}
	var cols []col
	if err := db.Raw("SHOW COLUMNS FROM " + s.Table).Scan(&cols).Error; err != nil {
		fmt.Printf("SHOW COLUMNS FROM %s failed: %v\n", s.Table, err)
		return
	}
	fmt.Println("--- database ---")
	for _, c := range cols {
		fmt.Printf("%s\t%s\t%s\t%s\n", c.Field, c.Type, c.Null, c.Key)
	}

	type idx struct {
		KeyName    string `gorm:"column:Key_name"`
		SeqInIndex int    `gorm:"column:Seq_in_index"`
		ColumnName string `gorm:"column:Column_name"`
	}
	var idxs []idx
	if err := db.Raw("SHOW INDEX FROM " + s.Table).Scan(&idxs).Error; err != nil {
		fmt.Printf("SHOW INDEX FROM %s failed: %v\n", s.Table, err)
		return
	}
	for _, i := range idxs {
		fmt.Printf("index %s #%d %s\n", i.KeyName, i.SeqInIndex, i.ColumnName)
	}
}
