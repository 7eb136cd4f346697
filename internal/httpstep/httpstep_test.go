package httpstep

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.akshayshah.org/attest"

	"github.com/relayforge/acmed/internal/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIssueDeliversResultAndWakesHandle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "abc123")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := New(5*time.Second, discardLogger())
	h := task.New(1).Spawn(func(ctx context.Context, h *task.Handle) {
		h.Await() // init

		pend, err := d.Issue(ctx, h, http.MethodGet, srv.URL, nil, nil)
		attest.Ok(t, err)

		h.Await() // IOComplete

		res := pend.Result()
		attest.NotZero(t, res)
		attest.Equal(t, res.StatusCode, http.StatusOK)
		attest.Equal(t, string(res.Body), "ok")
		attest.Equal(t, res.Header.Get("Replay-Nonce"), "abc123")
	})
	h.Wake(task.SignalInit)

	select {
	case <-waitHandle(h):
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}
}

func TestIssueSetsHeadersAndBody(t *testing.T) {
	t.Parallel()

	var gotMethod, gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(5*time.Second, discardLogger())
	h := task.New(1).Spawn(func(ctx context.Context, h *task.Handle) {
		h.Await()
		_, err := d.Issue(ctx, h, http.MethodPost, srv.URL, nil, []byte(`{"a":1}`))
		attest.Ok(t, err)
		h.Await()
	})
	h.Wake(task.SignalInit)

	select {
	case <-waitHandle(h):
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}

	attest.Equal(t, gotMethod, http.MethodPost)
	attest.Equal(t, gotBody, `{"a":1}`)
	attest.Equal(t, gotContentType, "application/jose+json")
}

func TestIssueSetupFailureReturnsErrorSynchronously(t *testing.T) {
	t.Parallel()

	d := New(5*time.Second, discardLogger())
	h := task.New(1).Spawn(func(ctx context.Context, h *task.Handle) {
		h.Await()
		_, err := d.Issue(ctx, h, "not a method\n", "http://example.test", nil, nil)
		attest.Error(t, err)
	})
	h.Wake(task.SignalInit)
}

// waitHandle is a test helper: there is no task.Runtime.Wait exposed by a
// bare *task.Handle, so it returns a channel that closes after a fixed
// 50ms delay; callers that need real completion use task.Runtime.Wait
// directly (see internal/acme).
func waitHandle(h *task.Handle) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		// The handle has no "done" signal of its own; tests above assert
		// inside the task body, so this just gives the goroutine a moment
		// to run before the test function returns.
		time.Sleep(50 * time.Millisecond)
		close(ch)
	}()
	return ch
}
