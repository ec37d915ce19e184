package sched

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestAfterFiresOnceInOrder(t *testing.T) {
	s := New(nil)
	var got []string
	s.After(2, "b", func() { got = append(got, "b") })
	s.After(1, "a", func() { got = append(got, "a") })
	s.After(2, "c", func() { got = append(got, "c") })

	for i := 0; i < 5; i++ {
		s.Advance()
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("order=%v want a,b,c", got)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending=%d want 0", s.Pending())
	}
}

func TestEveryRepeatsUntilStopped(t *testing.T) {
	s := New(nil)
	n := 0
	s.Every(2, "poll", func(tm *Timer) {
		n++
		if n == 3 {
			tm.Stop()
		}
	})
	for i := 0; i < 20; i++ {
		s.Advance()
	}
	if n != 3 {
		t.Fatalf("runs=%d want 3", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(nil)
	fired := false
	tm := s.After(1, "x", func() { fired = true })
	tm.Stop()
	tm.Stop()
	s.Advance()
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if tm.Running() {
		t.Fatalf("expected timer to report stopped")
	}
	var nilTimer *Timer
	nilTimer.Stop()
}

func TestPanicIsContained(t *testing.T) {
	var buf bytes.Buffer
	s := New(log.New(&buf, "", 0))
	ran := false
	s.After(1, "boom", func() { panic("broken callback") })
	s.After(1, "after", func() { ran = true })
	s.Advance()
	if !ran {
		t.Fatalf("timer after a panicking one did not run")
	}
	if !strings.Contains(buf.String(), `timer "boom" panicked`) {
		t.Fatalf("expected panic to be logged, got %q", buf.String())
	}
}
