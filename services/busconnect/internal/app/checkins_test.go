package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"busconnect/pkg/domain"
)

func TestCreateCheckinReplacesPrevious(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a, _ := newTestApp(t, Config{Now: func() time.Time { return clock }})
	ctx := context.Background()
	alice, _ := signUp(t, a, "alice", domain.RolePassenger)

	if _, err := a.CreateCheckin(ctx, CheckinInput{PassengerID: alice.ID, PassengerName: "alice", Location: "Cape Town Station"}); err != nil {
		t.Fatalf("first checkin: %v", err)
	}
	clock = clock.Add(time.Minute)
	second, err := a.CreateCheckin(ctx, CheckinInput{PassengerID: alice.ID, PassengerName: "alice", Location: "Durban Beach"})
	if err != nil {
		t.Fatalf("second checkin: %v", err)
	}
	all, err := a.ListCheckins(ctx)
	if err != nil {
		t.Fatalf("list checkins: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one checkin, got %d", len(all))
	}
	if all[0].Location != "Durban Beach" || !all[0].Timestamp.Equal(clock) {
		t.Fatalf("expected second checkin to win, got %+v", all[0])
	}
	got, err := a.GetCheckin(ctx, second.ID)
	if err != nil {
		t.Fatalf("get checkin: %v", err)
	}
	if got.PassengerID != alice.ID {
		t.Fatalf("unexpected checkin: %+v", got)
	}
}

func TestCreateCheckinErrors(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ctx := context.Background()
	driver, _ := signUp(t, a, "dan", domain.RoleDriver)

	var ve *ValidationError
	if _, err := a.CreateCheckin(ctx, CheckinInput{}); !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
	var nf *NotFoundError
	if _, err := a.CreateCheckin(ctx, CheckinInput{PassengerID: 777, Location: "x"}); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := a.CreateCheckin(ctx, CheckinInput{PassengerID: driver.ID, Location: "x"}); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for driver checkin, got %v", err)
	}
	if _, err := a.GetCheckin(ctx, 12345); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for missing checkin, got %v", err)
	}
}
