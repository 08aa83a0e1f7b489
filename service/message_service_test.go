package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMessageService_CreateAssignsID(t *testing.T) {
	db, mock, _ := newMockDB(t)
	s := NewMessageService(&Service{DB: db})

	mock.ExpectExec("INSERT INTO `im_message`").
		WillReturnResult(sqlmock.NewResult(501, 1))

	subject := uint64(1)
	msg, err := s.Create(context.Background(), 1, 2, &subject, "Hello")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if msg.ID != 501 || msg.Content != "Hello" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestMessageService_FindByIDNotFound(t *testing.T) {
	db, mock, _ := newMockDB(t)
	s := NewMessageService(&Service{DB: db})

	mock.ExpectQuery("SELECT \\* FROM `im_message` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.FindByID(context.Background(), 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageService_ListByPairIsRepeatable(t *testing.T) {
	db, mock, _ := newMockDB(t)
	s := NewMessageService(&Service{DB: db})
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "sender_id", "receiver_id", "content", "is_read", "created_at"}

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT \\* FROM `im_message`").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(1, 1, 2, "a", false, t0).
				AddRow(2, 2, 1, "b", false, t0))
	}

	first, err := s.ListByPair(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("ListByPair: %v", err)
	}
	second, err := s.ListByPair(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("ListByPair: %v", err)
	}
	if len(first) != 2 || len(second) != 2 || first[1].ID != second[1].ID {
		t.Fatalf("expected identical results, got %v / %v", first, second)
	}
}

func TestDispatch_WithSQLStoreDown(t *testing.T) {
	db, mock, _ := newMockDB(t)
	rec := &publishRecorder{}
	base := &Service{DB: db, WsPublisher: rec.publish}
	d := NewDispatchService(base, NewMessageService(base), testUsers(), NewNotificationService(base))

	mock.ExpectExec("INSERT INTO `im_message`").WillReturnError(errors.New("db gone"))

	_, err := d.Dispatch(context.Background(), alice(), 2, "Hello")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if rec.total() != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestMessageService_NoDatabase(t *testing.T) {
	s := NewMessageService(&Service{})
	ctx := context.Background()

	if _, err := s.Create(ctx, 1, 2, nil, "Hello"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("Create: expected ErrPersistence, got %v", err)
	}
	if _, err := s.FindByID(ctx, 1); !errors.Is(err, ErrPersistence) {
		t.Fatalf("FindByID: expected ErrPersistence, got %v", err)
	}
	if _, err := s.MarkRead(ctx, 1); !errors.Is(err, ErrPersistence) {
		t.Fatalf("MarkRead: expected ErrPersistence, got %v", err)
	}
	if _, err := s.ListByPair(ctx, 1, 2); !errors.Is(err, ErrPersistence) {
		t.Fatalf("ListByPair: expected ErrPersistence, got %v", err)
	}

	rec := &publishRecorder{}
	base := &Service{WsPublisher: rec.publish}
	d := NewDispatchService(base, NewMessageService(base), testUsers(), nil)
	if _, err := d.Dispatch(ctx, alice(), 2, "Hello"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("Dispatch: expected ErrPersistence, got %v", err)
	}
	if rec.total() != 0 {
		t.Fatalf("nothing should be published")
	}
}
