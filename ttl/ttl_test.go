package ttl

import (
	"testing"
	"time"
)

func TestJob_Reschedule_Disabled(t *testing.T) {
	j := NewJob(func() {})
	expireAt := j.Reschedule(Settings{Value: 0}, time.Now(), time.Time{})
	if !expireAt.IsZero() {
		t.Fatalf("zero Value must disable expiration, got %v", expireAt)
	}
	if !j.ExpireAt().IsZero() {
		t.Fatalf("ExpireAt() should be zero once disabled")
	}
}

func TestJob_Reschedule_AbsoluteBase(t *testing.T) {
	j := NewJob(func() {})
	created := time.Now()
	expireAt := j.Reschedule(Settings{Value: time.Hour, Sliding: false}, created, created.Add(30*time.Minute))
	want := created.Add(time.Hour)
	if !expireAt.Equal(want) {
		t.Fatalf("non-sliding TTL must base off createdAt, got %v want %v", expireAt, want)
	}
}

func TestJob_Reschedule_SlidingBase(t *testing.T) {
	j := NewJob(func() {})
	created := time.Now()
	lastAccess := created.Add(30 * time.Minute)
	expireAt := j.Reschedule(Settings{Value: time.Hour, Sliding: true}, created, lastAccess)
	want := lastAccess.Add(time.Hour)
	if !expireAt.Equal(want) {
		t.Fatalf("sliding TTL must base off lastAccess, got %v want %v", expireAt, want)
	}
}

func TestJob_FiresOnce(t *testing.T) {
	fired := make(chan struct{}, 1)
	j := NewJob(func() { fired <- struct{}{} })
	j.Reschedule(Settings{Value: 10 * time.Millisecond}, time.Now(), time.Time{})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestJob_CancelIsIdempotent(t *testing.T) {
	j := NewJob(func() {})
	j.Reschedule(Settings{Value: time.Hour}, time.Now(), time.Time{})
	j.Cancel()
	j.Cancel() // must not panic
}

func TestJob_RescheduleToSameInstantDoesNotResetTimer(t *testing.T) {
	j := NewJob(func() {})
	created := time.Now()
	first := j.Reschedule(Settings{Value: time.Hour}, created, time.Time{})
	second := j.Reschedule(Settings{Value: time.Hour}, created, time.Time{})
	if !first.Equal(second) {
		t.Fatalf("rescheduling with identical inputs should yield the same expireAt: %v vs %v", first, second)
	}
}
