package client

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cydxin/clinic-realtime/message"
	"github.com/google/uuid"
)

// DefaultCorrelationWindow 乐观消息可以和权威消息对账的时间窗口
const DefaultCorrelationWindow = 30 * time.Second

// TempIDPrefix 临时 ID 前缀。权威 ID 是数字，带前缀的临时 ID 永远不会和它冲突。
const TempIDPrefix = "tmp-"

var ErrUnknownEntry = errors.New("client: unknown optimistic entry")

// Status 消息在界面上的三种状态
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Entry 可见消息。已确认的消息 ID 非 0；乐观消息 ID 为 0，用 TempID 标识。
type Entry struct {
	ID         uint64
	TempID     string
	SenderID   uint64
	SenderName string
	ReceiverID uint64
	Content    string
	// Timestamp 已确认消息为服务端时间，乐观消息为本地提交时间
	Timestamp time.Time
	IsRead    bool
	Status    Status
	// FailReason 仅 StatusFailed
	FailReason string
}

// Key 界面列表的稳定 key
func (e Entry) Key() string {
	if e.ID != 0 {
		return uintKey(e.ID)
	}
	return e.TempID
}

type sortKey struct {
	ts time.Time
	id uint64
}

func (k sortKey) less(o sortKey) bool {
	if !k.ts.Equal(o.ts) {
		return k.ts.Before(o.ts)
	}
	return k.id < o.id
}

type optimistic struct {
	Entry
	seq uint64
	// anchor 提交时已知的最新权威消息；hasAnchor=false 表示当时列表为空
	anchor    sortKey
	hasAnchor bool
}

// Reconciler 单个会话的客户端对账：乐观消息 + 推送 + 轮询合并去重。
//
// 没有服务端回传的关联 ID，只能按 (发送者=自己, 接收者, 内容完全一致, 时间窗口内) 匹配，
// 多条待确认消息同时匹配时取最早提交的一条。窗口内两条完全相同的内容无法区分是哪一条被确认，
// 但数量一定对得上。
type Reconciler struct {
	mu     sync.Mutex
	self   uint64
	window time.Duration
	now    func() time.Time

	confirmed map[uint64]Entry
	latest    sortKey
	hasLatest bool

	pending []*optimistic // 按提交顺序
	// stale 超出窗口仍未确认的乐观消息，只用于显示，不再参与对账
	stale []*optimistic
	seq   uint64
}

func NewReconciler(selfID uint64, window time.Duration) *Reconciler {
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	return &Reconciler{
		self:      selfID,
		window:    window,
		now:       time.Now,
		confirmed: make(map[uint64]Entry),
	}
}

// Submit 用户点发送时立即生成乐观消息，不等待网络
func (r *Reconciler) Submit(receiverID uint64, content string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	o := &optimistic{
		Entry: Entry{
			TempID:     TempIDPrefix + uuid.NewString(),
			SenderID:   r.self,
			ReceiverID: receiverID,
			Content:    content,
			Timestamp:  r.now(),
			Status:     StatusPending,
		},
		seq:       r.seq,
		anchor:    r.latest,
		hasAnchor: r.hasLatest,
	}
	r.pending = append(r.pending, o)
	return o.Entry
}

// ApplyPush 推送到达的权威消息。返回被替换掉的乐观消息 TempID（没有则为空）和是否新增。
// 同一 ID 重复到达是 no-op。
func (r *Reconciler) ApplyPush(m message.NewMessage) (replaced string, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(m)
}

// ApplyHistory 轮询拿到的全量历史，返回新增条数
func (r *Reconciler) ApplyHistory(list []message.NewMessage) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range list {
		if _, added := r.applyLocked(m); added {
			n++
		}
	}
	return n
}

func (r *Reconciler) applyLocked(m message.NewMessage) (string, bool) {
	if m.ID == 0 {
		return "", false
	}
	if old, ok := r.confirmed[m.ID]; ok {
		// 已读状态只会从 false 变 true
		if m.IsRead && !old.IsRead {
			old.IsRead = true
			r.confirmed[m.ID] = old
		}
		return "", false
	}

	e := Entry{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		IsRead:     m.IsRead,
		Status:     StatusConfirmed,
	}
	r.confirmed[m.ID] = e
	k := sortKey{ts: m.Timestamp, id: m.ID}
	if !r.hasLatest || r.latest.less(k) {
		r.latest = k
		r.hasLatest = true
	}

	if m.SenderID != r.self {
		return "", true
	}
	idx := r.matchLocked(m)
	if idx < 0 {
		return "", true
	}
	tempID := r.pending[idx].TempID
	r.pending = append(r.pending[:idx], r.pending[idx+1:]...)
	return tempID, true
}

// matchLocked 最早提交的、仍在窗口内的、内容一致的待确认消息
func (r *Reconciler) matchLocked(m message.NewMessage) int {
	r.expireLocked(r.now())
	for i, o := range r.pending {
		if o.Status != StatusPending {
			continue
		}
		if o.ReceiverID != m.ReceiverID || o.Content != m.Content {
			continue
		}
		if absDuration(m.Timestamp.Sub(o.Timestamp)) > r.window {
			continue
		}
		return i
	}
	return -1
}

// expireLocked 把超出窗口的待确认消息移到 stale：界面上仍显示为 pending，但不再参与对账。
// 失败的消息留在 pending 里等 Retry / Discard。
func (r *Reconciler) expireLocked(now time.Time) {
	kept := r.pending[:0]
	for _, o := range r.pending {
		if o.Status == StatusPending && now.Sub(o.Timestamp) > r.window {
			r.stale = append(r.stale, o)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = kept
}

// allLocked pending + stale，按提交顺序
func (r *Reconciler) allLocked() []*optimistic {
	all := make([]*optimistic, 0, len(r.pending)+len(r.stale))
	all = append(all, r.stale...)
	all = append(all, r.pending...)
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

// MarkFailedByTempID 本地发送失败：只标记这一条
func (r *Reconciler) MarkFailedByTempID(tempID, reason string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.pending {
		if o.TempID == tempID && o.Status == StatusPending {
			o.Status = StatusFailed
			o.FailReason = reason
			return o.Entry, true
		}
	}
	return Entry{}, false
}

// MarkFailed 服务端回 sendFailed（帧里没有临时 ID）：把最早的、同接收者同内容的待确认消息标记为失败
func (r *Reconciler) MarkFailed(receiverID uint64, content, reason string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.pending {
		if o.Status == StatusPending && o.ReceiverID == receiverID && o.Content == content {
			o.Status = StatusFailed
			o.FailReason = reason
			return o.Entry, true
		}
	}
	return Entry{}, false
}

// Retry 失败的消息重新进入待确认状态（重新计时、重新锚定到当前最新消息）
func (r *Reconciler) Retry(tempID string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, o := range r.pending {
		if o.TempID != tempID {
			continue
		}
		if o.Status != StatusFailed {
			return o.Entry, nil
		}
		r.seq++
		o.Status = StatusPending
		o.FailReason = ""
		o.Timestamp = r.now()
		o.seq = r.seq
		o.anchor, o.hasAnchor = r.latest, r.hasLatest
		// 移到队尾，保持 pending 按提交顺序
		r.pending = append(append(r.pending[:i:i], r.pending[i+1:]...), o)
		return o.Entry, nil
	}
	return Entry{}, ErrUnknownEntry
}

// Discard 用户放弃一条失败/待确认的消息
func (r *Reconciler) Discard(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.pending {
		if o.TempID == tempID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	for i, o := range r.stale {
		if o.TempID == tempID {
			r.stale = append(r.stale[:i], r.stale[i+1:]...)
			return true
		}
	}
	return false
}

// Pending 尚未确认的乐观消息（含失败的），按提交顺序
func (r *Reconciler) Pending() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.allLocked()
	out := make([]Entry, 0, len(all))
	for _, o := range all {
		out = append(out, o.Entry)
	}
	return out
}

// Visible 界面上的消息列表。
// 已确认消息按 (timestamp, id) 排序；乐观消息排在提交时的最新权威消息之后，
// 并且排在所有时间戳不晚于它的权威消息之后。
func (r *Reconciler) Visible() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	confirmed := make([]Entry, 0, len(r.confirmed))
	for _, e := range r.confirmed {
		confirmed = append(confirmed, e)
	}
	sort.Slice(confirmed, func(i, j int) bool {
		return sortKey{confirmed[i].Timestamp, confirmed[i].ID}.less(sortKey{confirmed[j].Timestamp, confirmed[j].ID})
	})

	// 每条乐观消息插在 confirmed[:pos] 之后
	all := r.allLocked()
	after := make(map[int][]*optimistic)
	for _, o := range all {
		pos := 0
		if o.hasAnchor {
			pos = sort.Search(len(confirmed), func(i int) bool {
				return o.anchor.less(sortKey{confirmed[i].Timestamp, confirmed[i].ID})
			})
		}
		byTime := sort.Search(len(confirmed), func(i int) bool {
			return confirmed[i].Timestamp.After(o.Timestamp)
		})
		if byTime > pos {
			pos = byTime
		}
		after[pos] = append(after[pos], o)
	}

	out := make([]Entry, 0, len(confirmed)+len(all))
	for i := 0; i <= len(confirmed); i++ {
		group := after[i]
		sort.Slice(group, func(a, b int) bool { return group[a].seq < group[b].seq })
		for _, o := range group {
			out = append(out, o.Entry)
		}
		if i < len(confirmed) {
			out = append(out, confirmed[i])
		}
	}
	return out
}

// Len 可见条数
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed) + len(r.pending) + len(r.stale)
}

// IsTempID 是否临时 ID
func IsTempID(key string) bool {
	return strings.HasPrefix(key, TempIDPrefix)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func uintKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
