package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAudioQueueBackpressure(t *testing.T) {
	q := NewAudioQueue(200)
	dropped := 0
	for i := 0; i < 250; i++ {
		frame := []byte{byte(i)}
		if q.Enqueue(frame) {
			dropped++
		}
	}

	if got := q.Len(); got != 200 {
		t.Fatalf("queue length = %d, want 200", got)
	}
	if dropped != 50 {
		t.Fatalf("dropped = %d, want 50", dropped)
	}

	ctx := context.Background()
	for i := 50; i < 250; i++ {
		frame, ok := q.Dequeue(ctx, 10*time.Millisecond)
		if !ok {
			t.Fatalf("expected frame at i=%d, got none", i)
		}
		if frame[0] != byte(i) {
			t.Fatalf("FIFO order violated: got %d, want %d", frame[0], i)
		}
	}
}

func TestAudioQueueDequeueTimeout(t *testing.T) {
	q := NewAudioQueue(10)
	ctx := context.Background()
	start := time.Now()
	_, ok := q.Dequeue(ctx, 20*time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty queue")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("dequeue returned before the timeout elapsed")
	}
}

func TestAudioQueueDequeueCancellation(t *testing.T) {
	q := NewAudioQueue(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Dequeue(ctx, time.Second)
	if ok {
		t.Fatal("expected cancellation to short-circuit dequeue")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := New(InterviewAssistant, 200)
	if s.State() != StateCreated {
		t.Fatalf("new session state = %v, want Created", s.State())
	}
	if !s.Start() {
		t.Fatal("Start from Created should succeed")
	}
	if s.State() != StateActive {
		t.Fatalf("state after Start = %v, want Active", s.State())
	}
	if s.Start() {
		t.Fatal("Start from Active should be a no-op returning false")
	}

	observedCancel := make(chan struct{})
	s.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(observedCancel)
		return nil
	})

	s.Stop()
	select {
	case <-observedCancel:
	default:
		t.Fatal("Stop should cancel every registered task's context")
	}
	if s.State() != StateStopped {
		t.Fatalf("state after Stop = %v, want Stopped", s.State())
	}

	// Idempotent.
	s.Stop()
}

func TestSessionSettersDoNotTouchState(t *testing.T) {
	s := New(MeetingAssistant, 200)
	s.Start()

	s.SetMode(InterviewAssistant)
	s.SetHintsEnabled(false)
	s.SetCustomPrompt("be terse")
	s.SetWorkspace("ws1")

	if s.Mode() != InterviewAssistant {
		t.Fatal("SetMode did not take effect")
	}
	if s.HintsEnabled() {
		t.Fatal("SetHintsEnabled(false) did not take effect")
	}
	if s.CustomPrompt() != "be terse" {
		t.Fatal("SetCustomPrompt did not take effect")
	}
	if s.Workspace() != "ws1" {
		t.Fatal("SetWorkspace did not take effect")
	}
	if s.State() != StateActive {
		t.Fatal("setters must not restart or alter the pipeline state")
	}
}

func TestStatsSnapshotDroppedFramesCount(t *testing.T) {
	s := New(InterviewAssistant, 200)
	s.IncDropped(ChannelMic)
	s.IncDropped(ChannelMic)
	s.IncDropped(ChannelSystem)
	snap := s.Stats.Snapshot()
	if snap.DroppedFramesCount != 3 {
		t.Fatalf("DroppedFramesCount = %d, want 3", snap.DroppedFramesCount)
	}
}

func TestSupervisorSingleActiveSession(t *testing.T) {
	sup := NewSupervisor(nil, 200)
	s1 := sup.CreateSession(InterviewAssistant)
	sup.StartSession(s1)

	s2 := sup.CreateSession(MeetingAssistant)
	if s1.State() != StateStopped {
		t.Fatal("creating a new session should stop the previous Active one")
	}
	if sup.Current() != s2 {
		t.Fatal("Current should reflect the newly created session")
	}

	sup.DestroySession(s2.ID)
	if sup.Current() != nil {
		t.Fatal("DestroySession should clear the current slot")
	}
}

func TestDestroySessionDoesNotStopASupersedingSession(t *testing.T) {
	sup := NewSupervisor(nil, 200)

	a := sup.CreateSession(InterviewAssistant)
	sup.StartSession(a)

	// Before A's connection teardown runs, a second client connects and
	// supersedes it: CreateSession stops A and installs B as current.
	b := sup.CreateSession(MeetingAssistant)
	sup.StartSession(b)
	if sup.Current() != b {
		t.Fatal("Current should be B after it supersedes A")
	}

	// A's (now-stale) teardown calls DestroySession with A's id. This must
	// not touch B, which is unrelated and still active.
	sup.DestroySession(a.ID)

	if b.State() != StateActive {
		t.Fatalf("DestroySession(A) must not stop B; B state = %v", b.State())
	}
	if sup.Current() != b {
		t.Fatal("DestroySession(A) must not clear B from the current slot")
	}
}

func TestSessionTaskFailureDoesNotCancelSiblings(t *testing.T) {
	s := New(InterviewAssistant, 200)
	s.Start()

	siblingCancelled := make(chan struct{})
	s.Go(func(ctx context.Context) error {
		return errors.New("simulated STT dial failure")
	})
	s.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(siblingCancelled)
		return nil
	})

	select {
	case <-siblingCancelled:
		t.Fatal("a sibling task's failure must not cancel other registered tasks")
	case <-time.After(50 * time.Millisecond):
	}

	s.Stop()
	select {
	case <-siblingCancelled:
	default:
		t.Fatal("Stop should still cancel the remaining task's context")
	}
}
