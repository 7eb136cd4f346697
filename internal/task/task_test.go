package task

import (
	"context"
	"testing"
	"time"

	"go.akshayshah.org/attest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHandleAwaitWake(t *testing.T) {
	t.Parallel()

	rt := New(2)
	got := make(chan Signal, 1)

	h := rt.Spawn(func(_ context.Context, h *Handle) {
		s := h.Await()
		got <- s
	})
	h.Wake(SignalInit)

	select {
	case s := <-got:
		attest.Equal(t, s, SignalInit)
	case <-time.After(2 * time.Second):
		t.Fatal("task never woke up")
	}

	rt.Wait()
}

func TestHandleWakeBeforeAwaitIsBuffered(t *testing.T) {
	t.Parallel()

	h := newHandle()
	// Wake before anyone is parked in Await.
	h.Wake(SignalIOComplete)

	got := h.Await()
	attest.Equal(t, got, SignalIOComplete)
}

func TestHandleWakeCoalesces(t *testing.T) {
	t.Parallel()

	h := newHandle()
	h.Wake(SignalInit)
	h.Wake(SignalAdvance)
	h.Wake(SignalIOComplete)

	// Only the most recent signal should survive.
	got := h.Await()
	attest.Equal(t, got, SignalIOComplete)
}

func TestRuntimeWaitPropagatesPanic(t *testing.T) {
	t.Parallel()

	rt := New(1)
	h := rt.Spawn(func(_ context.Context, h *Handle) {
		h.Await()
		panic("boom")
	})
	h.Wake(SignalInit)

	defer func() {
		r := recover()
		attest.NotZero(t, r)
	}()
	rt.Wait()
}

func TestRuntimeLimitsConcurrency(t *testing.T) {
	t.Parallel()

	rt := New(1)
	running := make(chan struct{})
	release := make(chan struct{})

	h1 := rt.Spawn(func(_ context.Context, h *Handle) {
		running <- struct{}{}
		<-release
	})
	h1.Wake(SignalInit)

	<-running

	started := make(chan struct{})
	h2 := rt.Spawn(func(_ context.Context, h *Handle) {
		close(started)
	})
	h2.Wake(SignalInit)

	select {
	case <-started:
		t.Fatal("second task started before the first released its slot")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-started
	rt.Wait()
}
