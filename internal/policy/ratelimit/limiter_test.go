package ratelimit

import "testing"

func TestLimiterAllowWithinBurst(t *testing.T) {
	t.Parallel()

	// 60 jobs/minute with burst 3: the first three submissions pass, the
	// fourth needs a refill that has not happened yet.
	l := New(Config{JobsPerMinute: 60, Burst: 3})
	for i := 0; i < 3; i++ {
		if !l.Allow("sess-a") {
			t.Fatalf("submission %d unexpectedly limited", i+1)
		}
	}
	if l.Allow("sess-a") {
		t.Fatal("expected submission past the burst to be limited")
	}
}

func TestLimiterIsolatesSessions(t *testing.T) {
	t.Parallel()

	l := New(Config{JobsPerMinute: 60, Burst: 1})
	if !l.Allow("sess-a") {
		t.Fatal("first submission for sess-a limited")
	}
	if !l.Allow("sess-b") {
		t.Fatal("sess-b throttled by sess-a's bucket")
	}
}

func TestLimiterForgetResetsBucket(t *testing.T) {
	t.Parallel()

	l := New(Config{JobsPerMinute: 60, Burst: 1})
	if !l.Allow("sess-a") {
		t.Fatal("first submission limited")
	}
	if l.Allow("sess-a") {
		t.Fatal("expected second submission to be limited")
	}

	l.Forget("sess-a")
	if !l.Allow("sess-a") {
		t.Fatal("expected a fresh bucket after Forget")
	}
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{JobsPerMinute: 0})
	for i := 0; i < 100; i++ {
		if !l.Allow("sess-a") {
			t.Fatal("disabled limiter rejected a submission")
		}
	}
}
