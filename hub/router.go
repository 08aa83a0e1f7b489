package hub

import (
	"errors"
	"sort"
	"sync"
)

// ErrReservedChannel 个人频道/角色频道由身份推导，不允许客户端手动加入或离开
var ErrReservedChannel = errors.New("hub: reserved channel")

// Subscriber 频道订阅者（一个 websocket 连接）。
// Deliver 必须非阻塞：缓冲区满时返回 false，由 Router 交给 onDrop 处理。
type Subscriber interface {
	ID() string
	Deliver(payload []byte) bool
}

// Router 频道路由表：channel -> 订阅者集合。
//
// 所有读写都经过同一把 RWMutex：Subscribe 返回后发出的 Publish 一定能看到该订阅者。
// Publish 在读锁下投递（Deliver 非阻塞），投递失败的订阅者在解锁后交给 onDrop。
type Router struct {
	mu       sync.RWMutex
	channels map[string]map[string]Subscriber
	// 反向索引：订阅者 -> 已加入的频道，用于断开时一次性清理
	memberOf map[string]map[string]struct{}
	subs     map[string]Subscriber

	onDrop    func(sub Subscriber)
	onPublish func(channel string, delivered, dropped int)
}

// NewRouter 创建路由表。onDrop 可为空。
func NewRouter(onDrop func(sub Subscriber)) *Router {
	return &Router{
		channels: make(map[string]map[string]Subscriber),
		memberOf: make(map[string]map[string]struct{}),
		subs:     make(map[string]Subscriber),
		onDrop:   onDrop,
	}
}

// SetPublishHook 设置投递统计回调（metrics 使用）
func (r *Router) SetPublishHook(fn func(channel string, delivered, dropped int)) {
	r.mu.Lock()
	r.onPublish = fn
	r.mu.Unlock()
}

// Subscribe 订阅频道，重复订阅是 no-op。返回是否新加入。
func (r *Router) Subscribe(sub Subscriber, channel string) bool {
	if sub == nil || channel == "" {
		return false
	}
	id := sub.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.channels[channel]
	if members == nil {
		members = make(map[string]Subscriber)
		r.channels[channel] = members
	}
	if _, ok := members[id]; ok {
		return false
	}
	members[id] = sub

	joined := r.memberOf[id]
	if joined == nil {
		joined = make(map[string]struct{})
		r.memberOf[id] = joined
	}
	joined[channel] = struct{}{}
	r.subs[id] = sub
	return true
}

// Unsubscribe 离开频道，不在频道内是 no-op。返回是否确实移除。
func (r *Router) Unsubscribe(sub Subscriber, channel string) bool {
	if sub == nil {
		return false
	}
	id := sub.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(id, channel)
}

func (r *Router) unsubscribeLocked(id, channel string) bool {
	members := r.channels[channel]
	if _, ok := members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
	if joined := r.memberOf[id]; joined != nil {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(r.memberOf, id)
			delete(r.subs, id)
		}
	}
	return true
}

// UnsubscribeAll 从所有频道移除，返回移除前所在的频道
func (r *Router) UnsubscribeAll(sub Subscriber) []string {
	if sub == nil {
		return nil
	}
	id := sub.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.memberOf[id]
	out := make([]string, 0, len(joined))
	for ch := range joined {
		out = append(out, ch)
	}
	for _, ch := range out {
		r.unsubscribeLocked(id, ch)
	}
	delete(r.memberOf, id)
	delete(r.subs, id)
	sort.Strings(out)
	return out
}

// Publish 推送到频道的所有订阅者，返回投递成功的连接数。
// 无订阅者时直接丢弃（离线补偿由消息存储 + 客户端轮询负责）。
func (r *Router) Publish(channel string, payload []byte) int {
	r.mu.RLock()
	members := r.channels[channel]
	delivered, dropped := r.deliverLocked(members, payload)
	hook := r.onPublish
	r.mu.RUnlock()

	r.finish(channel, delivered, dropped, hook)
	return delivered
}

// Broadcast 推送到所有连接（上线/下线事件）
func (r *Router) Broadcast(payload []byte) int {
	r.mu.RLock()
	delivered, dropped := r.deliverLocked(r.subs, payload)
	hook := r.onPublish
	r.mu.RUnlock()

	r.finish("*", delivered, dropped, hook)
	return delivered
}

func (r *Router) deliverLocked(members map[string]Subscriber, payload []byte) (int, []Subscriber) {
	delivered := 0
	var dropped []Subscriber
	for _, sub := range members {
		if sub.Deliver(payload) {
			delivered++
		} else {
			dropped = append(dropped, sub)
		}
	}
	return delivered, dropped
}

// finish 在锁外执行回调：onDrop 通常会关闭连接并回调 UnsubscribeAll
func (r *Router) finish(channel string, delivered int, dropped []Subscriber, hook func(string, int, int)) {
	if hook != nil {
		hook(channel, delivered, len(dropped))
	}
	if r.onDrop == nil {
		return
	}
	for _, sub := range dropped {
		r.onDrop(sub)
	}
}

// Channels 订阅者当前所在频道的快照
func (r *Router) Channels(sub Subscriber) []string {
	if sub == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	joined := r.memberOf[sub.ID()]
	out := make([]string, 0, len(joined))
	for ch := range joined {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// SubscriberCount 频道订阅者数量
func (r *Router) SubscriberCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// ConnectionCount 当前至少订阅了一个频道的连接数
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
