package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cydxin/clinic-realtime/message"
)

const DefaultPollInterval = 10 * time.Second

var ErrNoConversation = errors.New("client: no conversation open")

// SessionConfig 会话配置
type SessionConfig struct {
	SelfID            uint64
	Transport         TransportConfig
	History           HistoryFetcher
	PollInterval      time.Duration
	CorrelationWindow time.Duration

	// OnChange 当前会话的可见列表变化
	OnChange func(peerID uint64, visible []Entry)
	// OnEvent 不属于当前会话的下行事件（通知、在线状态、其它会话的新消息……）
	OnEvent func(message.Outbound)
	// OnStateChange 传输层状态变化，StateFailed 时界面应显示持久的“已断开”
	OnStateChange func(State)
}

// Session 一个登录用户的客户端：一条连接 + 当前打开的一个会话。
// 推送和轮询两条路径都汇入同一个 Reconciler。
type Session struct {
	cfg       SessionConfig
	transport *Transport
	// send 上行发送，测试中可替换
	send func(message.Inbound) error

	mu       sync.Mutex
	peer     uint64
	rec      *Reconciler
	stopPoll context.CancelFunc
	pollWG   sync.WaitGroup
	pollNow  chan struct{}
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	s := &Session{cfg: cfg}

	tc := cfg.Transport
	tc.OnEvent = s.handleEvent
	tc.OnConnected = s.onConnected
	tc.OnStateChange = cfg.OnStateChange
	s.transport = NewTransport(tc)
	s.send = s.transport.Send
	return s
}

// Start 建立连接
func (s *Session) Start(ctx context.Context) {
	s.transport.Start(ctx)
}

func (s *Session) Transport() *Transport {
	return s.transport
}

// Open 打开与 peer 的会话：新建对账状态，立即拉一次历史，之后按间隔轮询
func (s *Session) Open(ctx context.Context, peerID uint64) {
	s.CloseConversation()

	pctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.peer = peerID
	s.rec = NewReconciler(s.cfg.SelfID, s.cfg.CorrelationWindow)
	s.stopPoll = cancel
	s.pollNow = make(chan struct{}, 1)
	pollNow := s.pollNow
	rec := s.rec
	s.mu.Unlock()

	s.pollWG.Add(1)
	go s.pollLoop(pctx, peerID, rec, pollNow)
}

// CloseConversation 关闭当前会话并停止轮询
func (s *Session) CloseConversation() {
	s.mu.Lock()
	cancel := s.stopPoll
	s.stopPoll = nil
	s.peer = 0
	s.rec = nil
	s.pollNow = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.pollWG.Wait()
}

// Close 关闭会话和连接
func (s *Session) Close() {
	s.CloseConversation()
	s.transport.Close()
}

// Send 立即生成乐观消息，再尝试发送。未连接时消息直接标记为失败，可以稍后 Retry。
func (s *Session) Send(content string) (Entry, error) {
	peer, rec := s.current()
	if rec == nil {
		return Entry{}, ErrNoConversation
	}
	e := rec.Submit(peer, content)
	s.transmit(peer, rec, e)
	s.notify(peer, rec)
	return e, nil
}

// Retry 重发一条失败的消息
func (s *Session) Retry(tempID string) (Entry, error) {
	peer, rec := s.current()
	if rec == nil {
		return Entry{}, ErrNoConversation
	}
	e, err := rec.Retry(tempID)
	if err != nil {
		return Entry{}, err
	}
	if e.Status == StatusPending {
		s.transmit(peer, rec, e)
	}
	s.notify(peer, rec)
	return e, nil
}

// MarkRead 标记一条收到的消息为已读
func (s *Session) MarkRead(messageID uint64) error {
	return s.transport.Send(message.MarkReadReq{MessageID: messageID})
}

// Typing 正在输入提示
func (s *Session) Typing(isTyping bool) error {
	peer, _ := s.current()
	if peer == 0 {
		return ErrNoConversation
	}
	return s.transport.Send(message.TypingReq{ReceiverID: peer, IsTyping: isTyping})
}

// Visible 当前会话的可见消息
func (s *Session) Visible() []Entry {
	_, rec := s.current()
	if rec == nil {
		return nil
	}
	return rec.Visible()
}

// Poll 立即拉一次当前会话的历史
func (s *Session) Poll(ctx context.Context) error {
	peer, rec := s.current()
	if rec == nil {
		return ErrNoConversation
	}
	return s.poll(ctx, peer, rec)
}

func (s *Session) transmit(peer uint64, rec *Reconciler, e Entry) {
	err := s.send(message.SendMessageReq{ReceiverID: peer, Content: e.Content})
	if err != nil {
		rec.MarkFailedByTempID(e.TempID, err.Error())
	}
}

func (s *Session) current() (uint64, *Reconciler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.rec
}

func (s *Session) poll(ctx context.Context, peer uint64, rec *Reconciler) error {
	if s.cfg.History == nil {
		return nil
	}
	list, err := s.cfg.History.History(ctx, peer)
	if err != nil {
		return err
	}
	if rec.ApplyHistory(list) > 0 {
		s.notify(peer, rec)
	}
	return nil
}

func (s *Session) pollLoop(ctx context.Context, peer uint64, rec *Reconciler, now <-chan struct{}) {
	defer s.pollWG.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx, peer, rec); err != nil && ctx.Err() == nil {
			log.Printf("[client] poll peer=%d failed: %v", peer, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-now:
		}
	}
}

// onConnected 断线重连后立即补拉一次，弥补断线期间丢掉的推送
func (s *Session) onConnected(reconnected bool) {
	if !reconnected {
		return
	}
	s.mu.Lock()
	ch := s.pollNow
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Session) handleEvent(out message.Outbound) {
	peer, rec := s.current()

	switch ev := out.(type) {
	case *message.NewMessage:
		if rec != nil && s.inConversation(peer, ev) {
			if _, added := rec.ApplyPush(*ev); added {
				s.notify(peer, rec)
			}
			return
		}
	case *message.SendFailed:
		if rec != nil && ev.ReceiverID == peer {
			if _, ok := rec.MarkFailed(ev.ReceiverID, ev.Content, ev.Reason); ok {
				s.notify(peer, rec)
			}
			return
		}
	}
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(out)
	}
}

func (s *Session) inConversation(peer uint64, m *message.NewMessage) bool {
	self := s.cfg.SelfID
	return (m.SenderID == self && m.ReceiverID == peer) || (m.SenderID == peer && m.ReceiverID == self)
}

func (s *Session) notify(peer uint64, rec *Reconciler) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(peer, rec.Visible())
	}
}
