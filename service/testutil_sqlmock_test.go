package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cydxin/clinic-realtime/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// newMockDB 用 go-sqlmock 创建一个可被 GORM 使用的 *gorm.DB。
// 用 mysql dialector 只是为了让 GORM 生成的 SQL/占位符风格稳定（? 占位符），不会连接真实 MySQL。
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}

	// SkipDefaultTransaction: 避免 GORM 默认在每次写操作开启事务，简化 sqlmock 断言
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqldb, SkipInitializeWithVersion: true}), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		_ = sqldb.Close()
		t.Fatalf("gorm.Open: %v", err)
	}

	return db, mock, sqldb
}

// memStore 内存版 MessageStore，用于不关心 SQL 的测试
type memStore struct {
	mu      sync.Mutex
	nextID  uint64
	rows    []models.Message
	failErr error
	clock   func() time.Time
}

func newMemStore() *memStore {
	return &memStore{nextID: 1000, clock: time.Now}
}

func (s *memStore) Create(_ context.Context, senderID, receiverID uint64, subject *uint64, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.nextID++
	m := models.Message{ID: s.nextID, SenderID: senderID, ReceiverID: receiverID, SubjectPatientID: subject, Content: content, CreatedAt: s.clock()}
	s.rows = append(s.rows, m)
	return &m, nil
}

func (s *memStore) FindByID(_ context.Context, id uint64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			m := s.rows[i]
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) MarkRead(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			if s.rows[i].IsRead {
				return false, nil
			}
			s.rows[i].IsRead = true
			return true, nil
		}
	}
	return false, ErrNotFound
}

func (s *memStore) ListByPair(_ context.Context, a, b uint64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.rows {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// memUsers 内存版用户目录
type memUsers map[uint64]*models.User

func (m memUsers) FindByID(id uint64) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func testUsers() memUsers {
	return memUsers{
		1: {ID: 1, Username: "alice", Nickname: "Alice", Role: "patient", IsActive: true},
		2: {ID: 2, Username: "drbob", Nickname: "Dr. Bob", Role: "doctor", IsActive: true},
		3: {ID: 3, Username: "carol", Nickname: "Carol", Role: "patient", IsActive: true},
		4: {ID: 4, Username: "nina", Nickname: "Nurse Nina", Role: "nurse", IsActive: true},
		5: {ID: 5, Username: "gone", Nickname: "Gone", Role: "doctor", IsActive: false},
	}
}

// publishRecorder 记录 WsPublisher 调用
type publishRecorder struct {
	mu     sync.Mutex
	frames []published
}

type published struct {
	channel string
	payload []byte
}

func (p *publishRecorder) publish(channel string, payload []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, published{channel: channel, payload: payload})
	return 1
}

func (p *publishRecorder) on(channel string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, f := range p.frames {
		if f.channel == channel {
			out = append(out, f.payload)
		}
	}
	return out
}

func (p *publishRecorder) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

var errStoreDown = errors.New("store is down")
