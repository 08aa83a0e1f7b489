package hub

import (
	"sort"
	"sync"
	"time"
)

// Entry 在线用户快照项
type Entry struct {
	UserID          uint64 `json:"userId"`
	DisplayName     string `json:"displayName"`
	ConnectionCount int    `json:"connectionCount"`
}

// PresenceEvent 上线/下线跃迁
type PresenceEvent struct {
	UserID      uint64
	DisplayName string
	Online      bool
}

type presenceEntry struct {
	Entry
	// offline 宽限期定时器；gen 用于让已过期的回调失效
	timer *time.Timer
	gen   uint64
}

// Presence 在线状态表：userID -> 连接数。
//
// 0->1 跃迁发出 online，1->0 跃迁发出 offline；grace > 0 时 offline 延迟 grace 发出，
// 期间重新连上则取消 offline，也不重复发 online。
// listener 在持有 Presence 锁时被调用，保证同一用户的事件顺序与跃迁顺序一致，
// 因此 listener 不能回调 Presence 的方法。
type Presence struct {
	mu       sync.Mutex
	entries  map[uint64]*presenceEntry
	grace    time.Duration
	listener func(PresenceEvent)
}

func NewPresence(grace time.Duration, listener func(PresenceEvent)) *Presence {
	if grace < 0 {
		grace = 0
	}
	return &Presence{
		entries:  make(map[uint64]*presenceEntry),
		grace:    grace,
		listener: listener,
	}
}

func (p *Presence) emit(e *presenceEntry, online bool) {
	if p.listener == nil {
		return
	}
	p.listener(PresenceEvent{UserID: e.UserID, DisplayName: e.DisplayName, Online: online})
}

// Opened 连接建立。返回是否触发了 online 事件。
func (p *Presence) Opened(userID uint64, displayName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entries[userID]
	if e == nil {
		e = &presenceEntry{Entry: Entry{UserID: userID}}
		p.entries[userID] = e
	}
	if displayName != "" {
		e.DisplayName = displayName
	}
	e.ConnectionCount++
	if e.ConnectionCount != 1 {
		return false
	}

	if e.timer != nil {
		// 宽限期内重连：对外一直在线
		e.timer.Stop()
		e.timer = nil
		e.gen++
		return false
	}
	p.emit(e, true)
	return true
}

// Closed 连接关闭。返回是否立即触发了 offline 事件（宽限期模式下总是 false）。
func (p *Presence) Closed(userID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entries[userID]
	if e == nil || e.ConnectionCount == 0 {
		return false
	}
	e.ConnectionCount--
	if e.ConnectionCount > 0 {
		return false
	}

	if p.grace == 0 {
		delete(p.entries, userID)
		p.emit(e, false)
		return true
	}

	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(p.grace, func() {
		p.expire(userID, gen)
	})
	return false
}

func (p *Presence) expire(userID uint64, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entries[userID]
	if e == nil || e.gen != gen || e.ConnectionCount > 0 {
		return
	}
	delete(p.entries, userID)
	p.emit(e, false)
}

// IsOnline 至少有一个连接
func (p *Presence) IsOnline(userID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[userID]
	return e != nil && e.ConnectionCount > 0
}

// Count 用户当前连接数
func (p *Presence) Count(userID uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.entries[userID]; e != nil {
		return e.ConnectionCount
	}
	return 0
}

// OnlineCount 在线用户数
func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.ConnectionCount > 0 {
			n++
		}
	}
	return n
}

// Snapshot 在线用户快照（值拷贝，按 userID 升序）
func (p *Presence) Snapshot() []Entry {
	p.mu.Lock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.ConnectionCount > 0 {
			out = append(out, e.Entry)
		}
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Stop 停掉所有宽限期定时器（进程退出时调用），不再发出 offline
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
			e.gen++
		}
	}
}
