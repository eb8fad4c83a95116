package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/mock"
)

func TestSaveAnswerIsIdempotent(t *testing.T) {
	t.Parallel()

	s := mock.New()
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "test_clinic")
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := s.SaveAnswer(ctx, id, "full_name", "Ali Khan"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveAnswer(ctx, id, "has_medical_history", false); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCollectedData(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["full_name"] != "Ali Khan" || got["has_medical_history"] != false {
		t.Errorf("collected = %v", got)
	}
	if n := s.CallCount("SaveAnswer"); n != 3 {
		t.Errorf("SaveAnswer calls = %d, want 3", n)
	}
}

func TestGetCollectedData_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := mock.New()
	ctx := context.Background()
	id, _ := s.CreateSession(ctx, "test_clinic")
	_ = s.SaveAnswer(ctx, id, "phone", "03001234567")

	got, _ := s.GetCollectedData(ctx, id)
	got["phone"] = "mutated"
	again, _ := s.GetCollectedData(ctx, id)
	if again["phone"] != "03001234567" {
		t.Errorf("phone = %v, stored data was mutated through the read", again["phone"])
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()

	s := mock.New()
	ctx := context.Background()
	if _, err := s.GetCollectedData(ctx, "nope"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("GetCollectedData err = %v, want ErrNotFound", err)
	}
	if err := s.FinalizeSession(ctx, "nope"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("FinalizeSession err = %v, want ErrNotFound", err)
	}
	// Saves to a locally generated session ID create it.
	if err := s.SaveAnswer(ctx, "local-1", "full_name", "Sara"); err != nil {
		t.Fatal(err)
	}
	if sess, ok := s.Session("local-1"); !ok || sess.Collected["full_name"] != "Sara" {
		t.Errorf("session = %+v, ok = %v", sess, ok)
	}
}
