package hub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSub struct {
	id   string
	mu   sync.Mutex
	got  [][]byte
	full bool
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Deliver(p []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.got = append(f.got, p)
	return true
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestRouter_SubscribeIdempotent(t *testing.T) {
	r := NewRouter(nil)
	a := &fakeSub{id: "a"}

	if !r.Subscribe(a, "room") {
		t.Fatalf("first subscribe should join")
	}
	if r.Subscribe(a, "room") {
		t.Fatalf("second subscribe should be a no-op")
	}
	if n := r.Publish("room", []byte("x")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if a.count() != 1 {
		t.Fatalf("duplicate subscription delivered twice")
	}

	if !r.Unsubscribe(a, "room") || r.Unsubscribe(a, "room") {
		t.Fatalf("unsubscribe should remove once then be a no-op")
	}
	if n := r.Publish("room", []byte("x")); n != 0 {
		t.Fatalf("publish to empty channel should deliver 0, got %d", n)
	}
}

func TestRouter_MultipleChannelsAndCleanup(t *testing.T) {
	r := NewRouter(nil)
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	r.Subscribe(a, "user:1")
	r.Subscribe(a, "patients")
	r.Subscribe(b, "patients")

	if got := r.Channels(a); len(got) != 2 || got[0] != "patients" || got[1] != "user:1" {
		t.Fatalf("unexpected channels %v", got)
	}
	if n := r.Publish("patients", []byte("p")); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if n := r.Broadcast([]byte("all")); n != 2 {
		t.Fatalf("broadcast should reach each connection once, got %d", n)
	}

	left := r.UnsubscribeAll(a)
	if len(left) != 2 {
		t.Fatalf("expected to leave 2 channels, got %v", left)
	}
	if r.SubscriberCount("user:1") != 0 || r.SubscriberCount("patients") != 1 {
		t.Fatalf("cleanup incomplete")
	}
	if r.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection left, got %d", r.ConnectionCount())
	}
}

func TestRouter_SlowConsumerDropped(t *testing.T) {
	var dropped []string
	var r *Router
	r = NewRouter(func(s Subscriber) {
		dropped = append(dropped, s.ID())
		r.UnsubscribeAll(s)
	})
	var hookDropped int
	r.SetPublishHook(func(_ string, _, d int) { hookDropped += d })

	fast := &fakeSub{id: "fast"}
	slow := &fakeSub{id: "slow", full: true}
	r.Subscribe(fast, "staff")
	r.Subscribe(slow, "staff")

	if n := r.Publish("staff", []byte("x")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(dropped) != 1 || dropped[0] != "slow" || hookDropped != 1 {
		t.Fatalf("expected slow consumer dropped, got %v (%d)", dropped, hookDropped)
	}
	if r.SubscriberCount("staff") != 1 {
		t.Fatalf("onDrop should be able to unsubscribe without deadlock")
	}
}

// 并发订阅后立即发布：订阅返回后的发布必须被看到
func TestRouter_ConcurrentSubscribeThenPublish(t *testing.T) {
	r := NewRouter(nil)
	const n = 200

	var wg sync.WaitGroup
	var missed atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &fakeSub{id: fmt.Sprintf("c%d", i)}
			ch := fmt.Sprintf("user:%d", i%10)
			r.Subscribe(s, ch)
			r.Publish(ch, []byte("ping"))
			if s.count() == 0 {
				missed.Add(1)
			}
			// 并发干扰：其他频道的增删
			other := &fakeSub{id: fmt.Sprintf("o%d", i)}
			r.Subscribe(other, "staff")
			r.Unsubscribe(other, "staff")
		}(i)
	}
	wg.Wait()

	if missed.Load() != 0 {
		t.Fatalf("%d subscribers missed a publish issued after subscribe", missed.Load())
	}
	total := 0
	for i := 0; i < 10; i++ {
		total += r.SubscriberCount(fmt.Sprintf("user:%d", i))
	}
	if total != n {
		t.Fatalf("lost or duplicated subscriptions: %d != %d", total, n)
	}
	if r.SubscriberCount("staff") != 0 {
		t.Fatalf("staff should be empty")
	}
}

type eventLog struct {
	mu  sync.Mutex
	evs []PresenceEvent
}

func (l *eventLog) add(e PresenceEvent) {
	l.mu.Lock()
	l.evs = append(l.evs, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []PresenceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PresenceEvent(nil), l.evs...)
}

func TestPresence_Transitions(t *testing.T) {
	log := &eventLog{}
	p := NewPresence(0, log.add)

	if !p.Opened(1, "Alice") {
		t.Fatalf("0->1 should go online")
	}
	if p.Opened(1, "Alice") {
		t.Fatalf("1->2 should not emit")
	}
	if p.Count(1) != 2 || !p.IsOnline(1) {
		t.Fatalf("unexpected count %d", p.Count(1))
	}
	if p.Closed(1) {
		t.Fatalf("2->1 should not emit")
	}
	if !p.Closed(1) {
		t.Fatalf("1->0 should go offline")
	}
	if p.Closed(1) {
		t.Fatalf("closing an unknown user must not go negative or emit")
	}
	if p.Count(1) != 0 || p.IsOnline(1) {
		t.Fatalf("expected offline")
	}

	evs := log.snapshot()
	if len(evs) != 2 || !evs[0].Online || evs[1].Online || evs[1].DisplayName != "Alice" {
		t.Fatalf("unexpected events %#v", evs)
	}
}

func TestPresence_NOpenCloseReturnsToZero(t *testing.T) {
	log := &eventLog{}
	p := NewPresence(0, log.add)
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Opened(7, "Dr. Who")
			if c := p.Count(7); c < 0 {
				t.Errorf("negative count %d", c)
			}
			p.Closed(7)
		}()
	}
	wg.Wait()

	if p.Count(7) != 0 || p.OnlineCount() != 0 || len(p.Snapshot()) != 0 {
		t.Fatalf("expected empty registry, count=%d", p.Count(7))
	}
	var on, off int
	for _, e := range log.snapshot() {
		if e.Online {
			on++
		} else {
			off++
		}
	}
	if on == 0 || on != off {
		t.Fatalf("online/offline events must pair up: on=%d off=%d", on, off)
	}
}

func TestPresence_GraceCancelsFlap(t *testing.T) {
	log := &eventLog{}
	p := NewPresence(50*time.Millisecond, log.add)

	p.Opened(1, "Alice")
	p.Closed(1)
	p.Opened(1, "Alice") // 宽限期内重连
	time.Sleep(120 * time.Millisecond)

	evs := log.snapshot()
	if len(evs) != 1 || !evs[0].Online {
		t.Fatalf("reconnect within grace should not flap, got %#v", evs)
	}

	p.Closed(1)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(log.snapshot()) < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	evs = log.snapshot()
	if len(evs) != 2 || evs[1].Online {
		t.Fatalf("expected delayed offline, got %#v", evs)
	}
	if p.IsOnline(1) {
		t.Fatalf("expected offline after grace")
	}
}

func TestPresence_SnapshotIsCopy(t *testing.T) {
	p := NewPresence(0, nil)
	p.Opened(2, "Bob")
	p.Opened(1, "Alice")

	snap := p.Snapshot()
	if len(snap) != 2 || snap[0].UserID != 1 || snap[1].UserID != 2 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
	snap[0].ConnectionCount = 99
	if p.Count(1) != 1 {
		t.Fatalf("snapshot must not alias registry state")
	}
}
