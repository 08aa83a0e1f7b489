package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cydxin/clinic-realtime/cons"
	"github.com/cydxin/clinic-realtime/message"
)

func newTestDispatcher(t *testing.T) (*DispatchService, *memStore, *publishRecorder) {
	t.Helper()
	rec := &publishRecorder{}
	base := &Service{WsPublisher: rec.publish}
	store := newMemStore()
	d := NewDispatchService(base, store, testUsers(), NewNotificationService(base))
	return d, store, rec
}

func alice() *Identity { return &Identity{UserID: 1, Role: cons.RolePatient, DisplayName: "Alice"} }
func bob() *Identity   { return &Identity{UserID: 2, Role: cons.RoleDoctor, DisplayName: "Dr. Bob"} }
func carol() *Identity { return &Identity{UserID: 3, Role: cons.RolePatient, DisplayName: "Carol"} }
func nina() *Identity  { return &Identity{UserID: 4, Role: cons.RoleNurse, DisplayName: "Nurse Nina"} }

func TestDispatch_PersistThenListByPair(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()

	got, err := d.Dispatch(ctx, alice(), 2, "Hello")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.ID == 0 {
		t.Fatalf("expected store-assigned id")
	}

	list, err := store.ListByPair(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListByPair: %v", err)
	}
	if len(list) != 1 || list[0].ID != got.ID || list[0].Content != "Hello" {
		t.Fatalf("unexpected list %#v", list)
	}
	if list[0].SubjectPatientID == nil || *list[0].SubjectPatientID != 1 {
		t.Fatalf("expected subject patient 1, got %v", list[0].SubjectPatientID)
	}
}

func TestDispatch_FanOutSamePayloadToBothPersonalChannels(t *testing.T) {
	d, _, rec := newTestDispatcher(t)

	got, err := d.Dispatch(context.Background(), bob(), 1, "See you at 3pm")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var receiverMsgs, senderMsgs []*message.NewMessage
	for _, raw := range rec.on(cons.PersonalChannel(1)) {
		out, err := message.DecodeOutbound(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if nm, ok := out.(*message.NewMessage); ok {
			receiverMsgs = append(receiverMsgs, nm)
		}
	}
	for _, raw := range rec.on(cons.PersonalChannel(2)) {
		out, _ := message.DecodeOutbound(raw)
		if nm, ok := out.(*message.NewMessage); ok {
			senderMsgs = append(senderMsgs, nm)
		}
	}
	if len(receiverMsgs) != 1 || len(senderMsgs) != 1 {
		t.Fatalf("expected one newMessage per side, got receiver=%d sender=%d", len(receiverMsgs), len(senderMsgs))
	}
	if receiverMsgs[0].ID != got.ID || senderMsgs[0].ID != got.ID {
		t.Fatalf("both sides must see the authoritative id %d", got.ID)
	}
	if receiverMsgs[0].SenderName != "Dr. Bob" {
		t.Fatalf("unexpected sender name %q", receiverMsgs[0].SenderName)
	}
	if receiverMsgs[0].SubjectPatientID == nil || *receiverMsgs[0].SubjectPatientID != 1 {
		t.Fatalf("receiver is the patient, subject should be 1")
	}
}

func TestDispatch_PatientToPatientRejected(t *testing.T) {
	d, store, rec := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), alice(), 3, "hi neighbour")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("expected zero rows, got %d", store.count())
	}
	if rec.total() != 0 {
		t.Fatalf("expected no fan-out, got %d frames", rec.total())
	}
}

func TestDispatch_StaffToStaffHasNoSubject(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	if _, err := d.Dispatch(context.Background(), nina(), 2, "chart updated"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	list, _ := store.ListByPair(context.Background(), 2, 4)
	if len(list) != 1 || list[0].SubjectPatientID != nil {
		t.Fatalf("staff-to-staff message must not carry a subject patient: %#v", list)
	}
}

func TestDispatch_PersistenceFailurePublishesNothing(t *testing.T) {
	d, store, rec := newTestDispatcher(t)
	store.failErr = errStoreDown

	_, err := d.Dispatch(context.Background(), alice(), 2, "Hello")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if rec.total() != 0 {
		t.Fatalf("expected no fan-out for unpersisted message, got %d frames", rec.total())
	}
}

func TestDispatch_Validation(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		sender   *Identity
		receiver uint64
		content  string
		want     error
	}{
		{"empty content", alice(), 2, "   ", ErrInvalidMessage},
		{"no receiver", alice(), 0, "x", ErrInvalidMessage},
		{"self", alice(), 1, "x", ErrInvalidMessage},
		{"unknown receiver", alice(), 99, "x", ErrInvalidMessage},
		{"inactive receiver", alice(), 5, "x", ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := d.Dispatch(ctx, tc.sender, tc.receiver, tc.content); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if store.count() != 0 {
		t.Fatalf("rejected sends must not persist")
	}
}

func TestDispatch_ReceiverNotificationPublished(t *testing.T) {
	d, _, rec := newTestDispatcher(t)
	if _, err := d.Dispatch(context.Background(), alice(), 2, "Hello"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	var notes int
	for _, raw := range rec.on(cons.PersonalChannel(2)) {
		out, _ := message.DecodeOutbound(raw)
		if n, ok := out.(*message.Notification); ok {
			notes++
			if n.Kind != cons.KindMessage || n.TargetUserID != 2 {
				t.Fatalf("unexpected notification %#v", n)
			}
		}
	}
	if notes != 1 {
		t.Fatalf("expected 1 notification for receiver, got %d", notes)
	}
}

func TestDispatch_ConcurrentSendsKeepPersistenceOrder(t *testing.T) {
	d, store, rec := newTestDispatcher(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.Dispatch(ctx, alice(), 2, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("Dispatch: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rows, _ := store.ListByPair(ctx, 1, 2)
	var delivered []uint64
	for _, raw := range rec.on(cons.PersonalChannel(2)) {
		out, _ := message.DecodeOutbound(raw)
		if nm, ok := out.(*message.NewMessage); ok {
			delivered = append(delivered, nm.ID)
		}
	}
	if len(delivered) != len(rows) {
		t.Fatalf("delivered %d, persisted %d", len(delivered), len(rows))
	}
	for i := range rows {
		if rows[i].ID != delivered[i] {
			t.Fatalf("delivery order differs from persistence order at %d: %d vs %d", i, delivered[i], rows[i].ID)
		}
	}
}

func TestMarkRead_OnlyReceiver(t *testing.T) {
	d, _, rec := newTestDispatcher(t)
	ctx := context.Background()
	m, err := d.Dispatch(ctx, alice(), 2, "Hello")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, err := d.MarkRead(ctx, alice(), m.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("sender must not mark read, got %v", err)
	}
	if _, err := d.MarkRead(ctx, bob(), 424242); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	before := len(rec.on(cons.PersonalChannel(1)))
	got, err := d.MarkRead(ctx, bob(), m.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !got.IsRead {
		t.Fatalf("expected IsRead")
	}
	if len(rec.on(cons.PersonalChannel(1))) != before+1 {
		t.Fatalf("sender should get one messageRead event")
	}

	// 重复标记不再推送
	if _, err := d.MarkRead(ctx, bob(), m.ID); err != nil {
		t.Fatalf("MarkRead again: %v", err)
	}
	if len(rec.on(cons.PersonalChannel(1))) != before+1 {
		t.Fatalf("second markRead must not publish")
	}
}

func TestHistory_ResolvesNames(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()
	_, _ = d.Dispatch(ctx, alice(), 2, "one")
	_, _ = d.Dispatch(ctx, bob(), 1, "two")

	hist, err := d.History(ctx, alice(), 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2, got %d", len(hist))
	}
	if hist[0].SenderName != "Alice" || hist[1].SenderName != "Dr. Bob" {
		t.Fatalf("unexpected names %q %q", hist[0].SenderName, hist[1].SenderName)
	}
}

func TestRelayTyping(t *testing.T) {
	d, _, rec := newTestDispatcher(t)
	if n := d.RelayTyping(alice(), 2, true); n != 1 {
		t.Fatalf("expected 1 publish, got %d", n)
	}
	if n := d.RelayTyping(alice(), 1, true); n != 0 {
		t.Fatalf("typing to self must be ignored")
	}
	frames := rec.on(cons.PersonalChannel(2))
	out, _ := message.DecodeOutbound(frames[0])
	if ty, ok := out.(*message.Typing); !ok || ty.SenderID != 1 || !ty.IsTyping {
		t.Fatalf("unexpected typing frame %#v", out)
	}
}
