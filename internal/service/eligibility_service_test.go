package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/edupulse/proctor-backend/internal/proctor"
	"github.com/google/uuid"
)

type fakeAttempts struct {
	count int
	err   error
	calls int
}

func (f *fakeAttempts) CountAttempts(ctx context.Context, assessmentID uuid.UUID, subjectID int) (int, error) {
	f.calls++
	return f.count, f.err
}

func timePtr(t time.Time) *time.Time { return &t }

func deniedReason(t *testing.T, err error) string {
	t.Helper()
	var denied *proctor.EligibilityDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want *EligibilityDeniedError", err)
	}
	return denied.Reason
}

func TestCanStartInsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewEligibilityService(&fakeAttempts{})
	svc.now = func() time.Time { return now }

	assessment := &model.Assessment{
		ID:             uuid.New(),
		AvailableFrom:  timePtr(now.Add(-time.Hour)),
		AvailableUntil: timePtr(now.Add(time.Hour)),
	}
	if err := svc.CanStart(context.Background(), assessment, 7); err != nil {
		t.Fatalf("CanStart: %v", err)
	}
}

func TestCanStartBeforeWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewEligibilityService(&fakeAttempts{})
	svc.now = func() time.Time { return now }

	assessment := &model.Assessment{
		ID:            uuid.New(),
		AvailableFrom: timePtr(now.Add(time.Minute)),
	}
	err := svc.CanStart(context.Background(), assessment, 7)
	if got := deniedReason(t, err); got != "assessment is not open yet" {
		t.Errorf("reason = %q", got)
	}
}

func TestCanStartAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewEligibilityService(&fakeAttempts{})
	svc.now = func() time.Time { return now }

	assessment := &model.Assessment{
		ID:             uuid.New(),
		AvailableUntil: timePtr(now.Add(-time.Minute)),
	}
	err := svc.CanStart(context.Background(), assessment, 7)
	if got := deniedReason(t, err); got != "assessment window has closed" {
		t.Errorf("reason = %q", got)
	}
}

func TestCanStartAttemptLimitReached(t *testing.T) {
	attempts := &fakeAttempts{count: 2}
	svc := NewEligibilityService(attempts)

	assessment := &model.Assessment{ID: uuid.New(), MaxAttempts: 2}
	err := svc.CanStart(context.Background(), assessment, 7)
	if got := deniedReason(t, err); got != "attempt limit reached" {
		t.Errorf("reason = %q", got)
	}
}

func TestCanStartUnderAttemptLimit(t *testing.T) {
	attempts := &fakeAttempts{count: 1}
	svc := NewEligibilityService(attempts)

	assessment := &model.Assessment{ID: uuid.New(), MaxAttempts: 2}
	if err := svc.CanStart(context.Background(), assessment, 7); err != nil {
		t.Fatalf("CanStart: %v", err)
	}
}

func TestCanStartZeroMaxAttemptsIsUnlimited(t *testing.T) {
	attempts := &fakeAttempts{count: 99}
	svc := NewEligibilityService(attempts)

	assessment := &model.Assessment{ID: uuid.New()}
	if err := svc.CanStart(context.Background(), assessment, 7); err != nil {
		t.Fatalf("CanStart: %v", err)
	}
	if attempts.calls != 0 {
		t.Errorf("CountAttempts called %d times, want 0 when unlimited", attempts.calls)
	}
}

func TestCanStartCountFailureWrapped(t *testing.T) {
	attempts := &fakeAttempts{err: errors.New("db down")}
	svc := NewEligibilityService(attempts)

	assessment := &model.Assessment{ID: uuid.New(), MaxAttempts: 1}
	err := svc.CanStart(context.Background(), assessment, 7)
	if err == nil {
		t.Fatal("expected error")
	}
	var denied *proctor.EligibilityDeniedError
	if errors.As(err, &denied) {
		t.Fatal("infrastructure failure must not read as a denial")
	}
}
