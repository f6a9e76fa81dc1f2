// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package watch

import (
	"testing"
	"time"
)

func TestBorrowReturnsLatestAfterSend(t *testing.T) {
	sender, receiver := NewChannel(1)

	if got := receiver.Borrow(); got != 1 {
		t.Fatalf("initial borrow: got %d, want 1", got)
	}

	sender.Send(2)

	newReceiver := sender.Receiver()
	if got := newReceiver.Borrow(); got != 2 {
		t.Fatalf("new receiver borrow: got %d, want 2", got)
	}
	if got := receiver.Borrow(); got != 2 {
		t.Fatalf("existing receiver borrow: got %d, want 2", got)
	}
}

func TestCloneObservesSameSender(t *testing.T) {
	sender, receiver := NewChannel("a")
	clone := receiver.Clone()

	sender.Send("b")

	if got := clone.Borrow(); got != "b" {
		t.Fatalf("clone borrow: got %q, want %q", got, "b")
	}
}

func TestWaitWakesOnSend(t *testing.T) {
	sender, receiver := NewChannel(0)
	done := make(chan struct{})
	defer close(done)

	resultCh := make(chan int, 1)
	go func() {
		v, ok := receiver.Wait(done)
		if !ok {
			return
		}
		resultCh <- v
	}()

	time.Sleep(10 * time.Millisecond)
	sender.Send(42)

	select {
	case v := <-resultCh:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Wait to wake")
	}
}

func TestWaitUnblocksOnDone(t *testing.T) {
	_, receiver := NewChannel(0)
	done := make(chan struct{})
	close(done)

	_, ok := receiver.Wait(done)
	if ok {
		t.Fatal("expected Wait to report false after done closed")
	}
}
