package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/hub"
	"github.com/cydxin/clinic-realtime/message"
	"github.com/cydxin/clinic-realtime/metrics"
	"github.com/cydxin/clinic-realtime/response"
	"github.com/cydxin/clinic-realtime/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time 写入超时时间
	writeWait = 10 * time.Second

	// Time pong超时时间
	pongWait = 60 * time.Second

	// Send 对应的ping 必须小于pong
	pingPeriod = (pongWait * 9) / 10

	// Maximum 对等端允许消息大小（内容上限 4000 字符，UTF-8 最多 4 字节，再留出信封）
	maxMessageSize = 4*service.MaxContentLength + 1024

	// 关闭帧的写入期限
	closeGracePeriod = time.Second

	// 单条上行事件的处理超时（落库等）
	handleTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConnState 连接状态：Connecting -> Authenticated -> Subscribed -> Closed
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Verifier 握手时的身份校验
type Verifier interface {
	ExtractToken(r *http.Request) string
	Verify(ctx context.Context, token string) (*service.Identity, error)
}

// Client 代表“某个具体 websocket 连接”，同一用户可以有多个 Client。
// Client 实现 hub.Subscriber，由 Router 引用但不归 Router 所有。
type Client struct {
	id  string
	hub *WsServer

	conn *websocket.Conn

	// 发送缓冲区。从不关闭：关闭信号走 done，避免向已关闭 channel 发送
	send chan []byte
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	regMu     sync.Mutex
	closeOnce sync.Once
	reason    string

	Identity *service.Identity

	// UserID / Name 与身份一致，便于日志
	UserID uint64
	Name   string
}

func (c *Client) ID() string { return c.id }

// Deliver 非阻塞投递，缓冲区满或连接已关闭时返回 false
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// Done 连接关闭后关闭
func (c *Client) Done() <-chan struct{} { return c.done }

// CloseReason 关闭原因，未关闭时为空
func (c *Client) CloseReason() string {
	if c.State() != StateClosed {
		return ""
	}
	return c.reason
}

// Close 唯一的收尾路径：无论正常关闭/网络错误/慢消费者/服务端关闭，都只执行一次。
// - 从所有频道移除
// - Presence 计数减一（减到 0 时由 Presence 发 offline 广播）
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.regMu.Lock()
		c.reason = reason
		prev := ConnState(c.state.Swap(int32(StateClosed)))
		c.regMu.Unlock()
		close(c.done)
		c.cancel()

		h := c.hub
		h.router.UnsubscribeAll(c)
		if prev == StateSubscribed {
			h.presence.Closed(c.UserID)
		}

		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()

		// WriteControl 可以和 writePump 的写并发调用；先发关闭帧再关 socket
		code := websocket.CloseNormalClosure
		if reason == cons.CloseReasonShutdown {
			code = websocket.CloseGoingAway
		}
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGracePeriod))
		_ = c.conn.Close()
		h.metrics.ConnectionClosed()
		log.Printf("[ws] close conn=%s user=%d reason=%s", c.id, c.UserID, reason)

		if h.onClosed != nil {
			h.onClosed(c)
		}
	})
}

// readPump 将消息从client (websocket 连接) 到hub管理。
func (c *Client) readPump() {
	reason := cons.CloseReasonClient
	defer func() { c.Close(reason) }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] readPump conn=%s error: %v", c.id, err)
				reason = cons.CloseReasonReadError
			}
			return
		}
		c.hub.handleMessage(c, raw)
	}
}

// writePump 将消息从hub管理写到具体的client (websocket 连接)。
// 每个事件单独一帧，客户端按帧解析信封。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close(cons.CloseReasonWriteError)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[ws] writePump conn=%s 写入ping失败", c.id)
				c.Close(cons.CloseReasonWriteError)
				return
			}
		case <-c.done:
			return
		}
	}
}

// reply 只发给当前连接（error / sendFailed）
func (c *Client) reply(out message.Outbound) {
	if !c.Deliver(message.MustEncodeOutbound(out)) {
		log.Printf("[ws] reply to conn=%s dropped", c.id)
	}
}

// WsServer 连接网关：握手鉴权、自动订阅、在线状态、上行事件分发
type WsServer struct {
	auth     Verifier
	router   *hub.Router
	presence *hub.Presence
	metrics  *metrics.Metrics

	dispatch *service.DispatchService

	sendBuffer int
	online     atomic.Int64

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool

	// onClosed 连接收尾完成后回调（测试观察用）
	onClosed func(c *Client)
}

func NewWsServer(auth Verifier, m *metrics.Metrics, presenceGrace time.Duration, sendBuffer int) *WsServer {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	h := &WsServer{
		auth:       auth,
		metrics:    m,
		sendBuffer: sendBuffer,
		clients:    make(map[*Client]struct{}),
	}
	h.router = hub.NewRouter(h.dropSlowConsumer)
	h.router.SetPublishHook(func(channel string, delivered, dropped int) {
		m.Delivered(channelKind(channel), delivered, dropped)
	})
	h.presence = hub.NewPresence(presenceGrace, h.broadcastPresence)
	return h
}

func channelKind(channel string) string {
	switch {
	case channel == "*":
		return "broadcast"
	case strings.HasPrefix(channel, cons.PersonalChannelPrefix):
		return "personal"
	case channel == cons.ChannelStaff || channel == cons.ChannelPatients:
		return "role"
	}
	return "custom"
}

// dropSlowConsumer 在 Router 锁外被调用；收尾放到独立 goroutine，
// 因为 Publish 可能发生在 Presence 的回调里（Presence 锁未释放）。
func (h *WsServer) dropSlowConsumer(sub hub.Subscriber) {
	c, ok := sub.(*Client)
	if !ok {
		return
	}
	log.Printf("[ws] slow consumer conn=%s user=%d, closing", c.id, c.UserID)
	go c.Close(cons.CloseReasonSlowConsumer)
}

// broadcastPresence Presence 跃迁回调（持有 Presence 锁），上线/下线广播给所有连接
func (h *WsServer) broadcastPresence(evt hub.PresenceEvent) {
	var payload []byte
	if evt.Online {
		h.metrics.SetOnlineUsers(int(h.online.Add(1)))
		payload = message.MustEncodeOutbound(message.UserOnline{ID: evt.UserID, Name: evt.DisplayName})
	} else {
		h.metrics.SetOnlineUsers(int(h.online.Add(-1)))
		payload = message.MustEncodeOutbound(message.UserOffline{ID: evt.UserID, Name: evt.DisplayName})
	}
	h.router.Broadcast(payload)
}

// Publish 推送到频道（注入给 service 层）
func (h *WsServer) Publish(channel string, payload []byte) int {
	return h.router.Publish(channel, payload)
}

// Router / Presence 只暴露方法，不暴露内部 map
func (h *WsServer) Router() *hub.Router     { return h.router }
func (h *WsServer) Presence() *hub.Presence { return h.presence }

// ServeWS 处理ws的请求。
// 凭证只在握手时校验一次；校验失败直接返回 HTTP 401，不升级连接、不修改任何注册表。
func (h *WsServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()
	if closing {
		response.Error(response.CodeInternalError, "server is shutting down").WriteJSONWithStatus(w, http.StatusServiceUnavailable)
		return
	}

	ident, err := h.auth.Verify(r.Context(), h.auth.ExtractToken(r))
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			h.metrics.HandshakeRejectedInc("unauthenticated")
			log.Printf("[ws] handshake rejected from %s: %v", r.RemoteAddr, err)
			response.Error(response.CodeTokenInvalid, err.Error()).WriteJSONWithStatus(w, http.StatusUnauthorized)
			return
		}
		h.metrics.HandshakeRejectedInc("error")
		log.Printf("[ws] handshake verify error: %v", err)
		response.Error(response.CodeInternalError, "identity verification unavailable").WriteJSONWithStatus(w, http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		Identity: ident,
		UserID:   ident.UserID,
		Name:     ident.DisplayName,
	}
	client.setState(StateAuthenticated)
	h.metrics.ConnectionOpened()

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		client.Close(cons.CloseReasonShutdown)
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.subscribeDerived(client)
	log.Printf("[ws] 注册进去 conn=%s user=%d role=%s", client.id, client.UserID, ident.Role)

	go client.writePump()
	go client.readPump()
}

// subscribeDerived 个人频道 + 角色频道，由身份推导，不接受客户端指定。
// regMu 保证 "订阅 + Presence 计数" 与 Close 的状态判断互斥，计数不会多也不会少。
func (h *WsServer) subscribeDerived(c *Client) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if c.State() != StateAuthenticated {
		return
	}
	h.router.Subscribe(c, cons.PersonalChannel(c.UserID))
	if ch := cons.RoleChannel(c.Identity.Role); ch != "" {
		h.router.Subscribe(c, ch)
	}
	c.setState(StateSubscribed)
	h.presence.Opened(c.UserID, c.Name)
}

// ConnectionCount 当前连接数
func (h *WsServer) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown 关闭所有连接（走同一个收尾路径），之后拒绝新的握手
func (h *WsServer) Shutdown() {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(cons.CloseReasonShutdown)
	}
	h.presence.Stop()
}
