package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/cydxin/clinic-realtime/models"
	"github.com/cydxin/clinic-realtime/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// memStore 内存消息存储，测试里替代 MySQL
type memStore struct {
	mu      sync.Mutex
	nextID  uint64
	rows    []models.Message
	failErr error
}

func (s *memStore) Create(_ context.Context, senderID, receiverID uint64, subject *uint64, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.nextID++
	m := models.Message{ID: 100 + s.nextID, SenderID: senderID, ReceiverID: receiverID, SubjectPatientID: subject, Content: content, CreatedAt: time.Now()}
	s.rows = append(s.rows, m)
	return &m, nil
}

func (s *memStore) FindByID(_ context.Context, id uint64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, service.ErrNotFound
}

func (s *memStore) MarkRead(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			changed := !s.rows[i].IsRead
			s.rows[i].IsRead = true
			return changed, nil
		}
	}
	return false, service.ErrNotFound
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

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memUsers map[uint64]*models.User

func (m memUsers) FindByID(id uint64) (*models.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// 1 Alice(患者) 2 Dr. Bob(医生) 3 Carol(患者) 4 Rita(前台)
func clinicUsers() memUsers {
	return memUsers{
		1: {ID: 1, Username: "alice", Nickname: "Alice", Role: cons.RolePatient, IsActive: true},
		2: {ID: 2, Username: "drbob", Nickname: "Dr. Bob", Role: cons.RoleDoctor, IsActive: true},
		3: {ID: 3, Username: "carol", Nickname: "Carol", Role: cons.RolePatient, IsActive: true},
		4: {ID: 4, Username: "rita", Nickname: "Rita", Role: cons.RoleReception, IsActive: true},
	}
}

type testEnv struct {
	engine *Engine
	store  *memStore
	srv    *httptest.Server
	closed chan *Client
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &memStore{}
	base := []Option{
		WithJWTSecret("test-secret"),
		WithMessageStore(store),
		WithUserDirectory(clinicUsers()),
		WithPresenceGrace(0),
	}
	e := NewEngine(append(base, opts...)...)

	env := &testEnv{engine: e, store: store, closed: make(chan *Client, 64)}
	e.WsServer.onClosed = func(c *Client) { env.closed <- c }

	r := gin.New()
	e.RegisterRoutes(r)
	env.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		e.Shutdown()
		env.srv.Close()
	})
	return env
}

func (env *testEnv) token(t *testing.T, userID uint64) string {
	t.Helper()
	tok, _, err := env.engine.TokenService.Issue(userID, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (env *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
}

// connect 建立连接并等到服务端完成自动订阅（Presence 计数是订阅流程的最后一步）
func (env *testEnv) connect(t *testing.T, userID uint64) *wsConn {
	t.Helper()
	presence := env.engine.WsServer.Presence()
	before := presence.Count(userID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.token(t, userID))
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	if err != nil {
		t.Fatalf("dial user %d: %v", userID, err)
	}
	c := newWSConn(t, conn)
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, "subscription of user "+strconv.FormatUint(userID, 10), func() bool {
		return presence.Count(userID) == before+1
	})
	return c
}

// nextClosed 等待下一条连接完成收尾
func (env *testEnv) nextClosed(t *testing.T) *Client {
	t.Helper()
	select {
	case c := <-env.closed:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("finalizer did not run")
	}
	return nil
}

func (env *testEnv) get(t *testing.T, path string, userID uint64) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+path, nil)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+env.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

// wsConn 测试用连接。读取放在独立 goroutine 里，
// gorilla 的连接在读超时之后就不能再读了。
type wsConn struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan message.Outbound
	closed chan struct{}
	// err 读循环结束的原因，closed 关闭后才可读
	err error
}

func newWSConn(t *testing.T, conn *websocket.Conn) *wsConn {
	c := &wsConn{t: t, conn: conn, frames: make(chan message.Outbound, 256), closed: make(chan struct{})}
	go func() {
		defer close(c.closed)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				c.err = err
				return
			}
			out, err := message.DecodeOutbound(raw)
			if err != nil {
				continue
			}
			c.frames <- out
		}
	}()
	return c
}

func (c *wsConn) send(in message.Inbound) {
	c.t.Helper()
	raw, err := message.EncodeInbound(in)
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// read 下一帧，超时或连接关闭返回 nil
func (c *wsConn) read(timeout time.Duration) message.Outbound {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-c.frames:
		return out
	case <-timer.C:
		return nil
	case <-c.closed:
		select {
		case out := <-c.frames:
			return out
		default:
			return nil
		}
	}
}

// waitClosed 服务端关闭连接
func (c *wsConn) waitClosed() bool {
	select {
	case <-c.closed:
		return true
	case <-time.After(3 * time.Second):
		return false
	}
}

// expect 跳过其它事件，直到读到 typ 类型的事件
func expect(t *testing.T, c *wsConn, typ string) message.Outbound {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		out := c.read(time.Until(deadline))
		if out == nil {
			break
		}
		if message.TypeOf(out) == typ {
			return out
		}
	}
	t.Fatalf("no %s event received", typ)
	return nil
}

// expectNone window 内不应收到 typ 类型的事件
func expectNone(t *testing.T, c *wsConn, typ string, window time.Duration) {
	t.Helper()
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		out := c.read(time.Until(deadline))
		if out == nil {
			return
		}
		if message.TypeOf(out) == typ {
			t.Fatalf("unexpected %s event: %#v", typ, out)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
