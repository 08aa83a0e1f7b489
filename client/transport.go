package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cydxin/clinic-realtime/message"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	// ErrUnauthorized 握手被拒绝（401）。凭证问题不会自动重试，需要换新 token。
	ErrUnauthorized = errors.New("client: handshake rejected")
	ErrGaveUp       = errors.New("client: reconnect attempts exhausted")
)

const (
	DefaultMaxRetries = 5
	// DefaultStableAfter 连接保持这么久才算稳定，之后断开重新计算重试次数
	DefaultStableAfter = 10 * time.Second
	clientWriteWait    = 10 * time.Second
)

var errConnectionLost = errors.New("connection lost")

// State 传输层连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed 终态：凭证被拒或重连次数用完，界面应当显示“已断开”
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// URL ws:// 或 wss:// 网关地址，例如 ws://host/ws
	URL   string
	Token string
	// MaxRetries 连续重连的上限，超过后进入 StateFailed。
	// 拨号失败和握手成功后很快又断开都计入，连接稳定 StableAfter 之后清零。
	MaxRetries  int
	StableAfter time.Duration
	Backoff     BackoffPolicy
	Dialer      *websocket.Dialer

	OnEvent       func(message.Outbound)
	OnStateChange func(State)
	// OnConnected 每次握手成功后调用，reconnected=true 表示这是断线之后的重连
	OnConnected func(reconnected bool)
}

// Transport 带有限次重连的 WebSocket 客户端。断线期间的发送不会排队，直接返回 ErrNotConnected。
type Transport struct {
	cfg TransportConfig

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	err   error

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// sleep / now 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Transport{
		cfg:   cfg,
		state: StateDisconnected,
		done:  make(chan struct{}),
		sleep: sleepContext,
		now:   time.Now,
	}
}

// Start 启动连接循环，立即返回。只能调用一次。
func (t *Transport) Start(ctx context.Context) {
	t.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		go t.run(ctx)
	})
}

// Done 连接循环退出（Close 或进入 StateFailed）时关闭
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err StateFailed 的原因
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Send 发送一个上行事件
func (t *Transport) Send(in message.Inbound) error {
	raw, err := message.EncodeInbound(in)
	if err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close 停止重连并关闭当前连接，等待循环退出
func (t *Transport) Close() {
	t.mu.Lock()
	cancel := t.cancel
	conn := t.conn
	t.mu.Unlock()

	if cancel == nil {
		// 从未 Start
		t.once.Do(func() { close(t.done) })
		return
	}
	cancel()
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	<-t.done
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	failures := 0
	connectedBefore := false
	for {
		t.setState(StateConnecting, nil)
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.setState(StateDisconnected, nil)
				return
			}
			if errors.Is(err, ErrUnauthorized) {
				log.Printf("[client] handshake rejected: %v", err)
				t.setState(StateFailed, err)
				return
			}
			failures++
			if !t.backoff(ctx, failures, err) {
				return
			}
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(StateConnected, nil)
		if t.cfg.OnConnected != nil {
			t.cfg.OnConnected(connectedBefore)
		}
		connectedBefore = true
		since := t.now()

		err = t.readLoop(conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		_ = conn.Close()
		t.setState(StateDisconnected, nil)
		if ctx.Err() != nil {
			return
		}
		if t.now().Sub(since) >= t.cfg.StableAfter {
			failures = 0
		}
		failures++
		if !t.backoff(ctx, failures, fmt.Errorf("%w: %v", errConnectionLost, err)) {
			return
		}
	}
}

// backoff 第 attempt 次重连前等待；次数用完进入 StateFailed 并返回 false
func (t *Transport) backoff(ctx context.Context, attempt int, cause error) bool {
	if attempt > t.cfg.MaxRetries {
		log.Printf("[client] giving up after %d attempts: %v", attempt, cause)
		t.setState(StateFailed, fmt.Errorf("%w: %v", ErrGaveUp, cause))
		return false
	}
	t.setState(StateDisconnected, nil)
	delay := t.cfg.Backoff.Delay(attempt)
	log.Printf("[client] reconnect attempt %d/%d in %s: %v", attempt, t.cfg.MaxRetries, delay, cause)
	if t.sleep(ctx, delay) != nil {
		t.setState(StateDisconnected, nil)
		return false
	}
	return true
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	conn, resp, err := t.cfg.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		out, err := message.DecodeOutbound(raw)
		if err != nil {
			log.Printf("[client] skip frame: %v", err)
			continue
		}
		if t.cfg.OnEvent != nil {
			t.cfg.OnEvent(out)
		}
	}
}

func (t *Transport) setState(s State, err error) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	if err != nil {
		t.err = err
	}
	t.mu.Unlock()
	if changed && t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
