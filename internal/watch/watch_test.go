package watch

import (
	"context"
	"testing"
	"time"
)

func TestIgnoreSetExpiresAfterTTL(t *testing.T) {
	s := NewIgnoreSet(20 * time.Millisecond)
	s.Add("/etc/a.conf")
	if !s.Contains("/etc/a.conf") {
		t.Fatal("expected path to be ignored immediately after Add")
	}
	time.Sleep(60 * time.Millisecond)
	if s.Contains("/etc/a.conf") {
		t.Error("expected path to no longer be ignored after TTL elapses")
	}
}

func TestIgnoreSetUnrelatedPathNotIgnored(t *testing.T) {
	s := NewIgnoreSet(time.Minute)
	s.Add("/etc/a.conf")
	if s.Contains("/etc/b.conf") {
		t.Error("unrelated path reported as ignored")
	}
}

func TestQueueCoalescesByPath(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Path: "/etc/a.conf", Source: "local"})
	q.Push(Event{Path: "/etc/a.conf", Source: "remote"})
	q.Push(Event{Path: "/etc/b.conf", Source: "local"})

	if got := q.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 (second push for /etc/a.conf should coalesce)", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, ok := q.Next(ctx)
	if !ok || first.Path != "/etc/a.conf" || first.Source != "local" {
		t.Errorf("first event = %+v, want the first push for /etc/a.conf to win", first)
	}

	second, ok := q.Next(ctx)
	if !ok || second.Path != "/etc/b.conf" {
		t.Errorf("second event = %+v, want /etc/b.conf", second)
	}
}

func TestQueuePushAfterDrainIsAccepted(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Path: "/etc/a.conf"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := q.Next(ctx); !ok {
		t.Fatal("expected an event")
	}

	q.Push(Event{Path: "/etc/a.conf"})
	if got := q.Len(); got != 1 {
		t.Errorf("Len() after redrain push = %d, want 1", got)
	}
}

func TestQueueNextBlocksUntilCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Next(ctx)
	if ok {
		t.Error("expected Next to return false once ctx is done with no events queued")
	}
}
