package lsp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRequestManager_CallReceivesResponse(t *testing.T) {
	rm, fs := newRequestHarness(t)
	fs.autoRespond(map[string]any{"answer": 42})

	raw, err := rm.Call(context.Background(), "test/ask", nil, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), gjson.GetBytes(raw, "answer").Int())
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_MonotonicIDs(t *testing.T) {
	rm, fs := newRequestHarness(t)

	ids := make(chan int64, 3)
	go func() {
		for i := 0; i < 3; i++ {
			frame, err := fs.readFrame()
			if err != nil {
				return
			}
			id := gjson.GetBytes(frame, "id").Int()
			ids <- id
			_ = fs.respond(id, nil)
		}
	}()

	for i := 0; i < 3; i++ {
		_, err := rm.Call(context.Background(), "test/seq", nil, CallOptions{})
		require.NoError(t, err)
	}

	first := <-ids
	second := <-ids
	third := <-ids
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestRequestManager_ErrorResponse(t *testing.T) {
	rm, fs := newRequestHarness(t)
	go func() {
		frame, err := fs.readFrame()
		if err != nil {
			return
		}
		_ = fs.respondError(gjson.GetBytes(frame, "id").Int(), CodeInvalidRequest, "rejected")
	}()

	_, err := rm.Call(context.Background(), "test/bad", nil, CallOptions{})
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, CodeInvalidRequest, respErr.Code)
	assert.Equal(t, "rejected", respErr.Message)
}

func TestRequestManager_TimeoutRemovesPending(t *testing.T) {
	rm, _ := newRequestHarness(t)

	start := time.Now()
	_, err := rm.Call(context.Background(), "test/slow", nil, CallOptions{Timeout: 30 * time.Millisecond})

	var timeoutErr *RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "test/slow", timeoutErr.Method)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_LateResponseIgnored(t *testing.T) {
	rm, fs := newRequestHarness(t)

	var lateID int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		frame, err := fs.readFrame()
		if err != nil {
			return
		}
		lateID = gjson.GetBytes(frame, "id").Int()
	}()

	_, err := rm.Call(context.Background(), "test/late", nil, CallOptions{Timeout: 20 * time.Millisecond})
	var timeoutErr *RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	<-done

	// The response arrives after the timeout already resolved the request.
	require.NoError(t, fs.respond(lateID, map[string]any{"too": "late"}))

	// The manager keeps working: a fresh request round-trips.
	fs.autoRespond("ok")
	raw, err := rm.Call(context.Background(), "test/after", nil, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(raw))
	assert.Equal(t, 0, rm.PendingCount())
}

func TestRequestManager_ContextCancellation(t *testing.T) {
	rm, fs := newRequestHarness(t)

	frames := make(chan gjson.Result, 4)
	go func() {
		for {
			frame, err := fs.readFrame()
			if err != nil {
				return
			}
			frames <- gjson.ParseBytes(frame)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := rm.Call(ctx, "test/cancelme", nil, CallOptions{Timeout: 5 * time.Second})
		errCh <- err
	}()

	// Wait for the request to hit the wire, then cancel the caller.
	req := <-frames
	assert.Equal(t, "test/cancelme", req.Get("method").String())
	cancel()

	assert.ErrorIs(t, <-errCh, ErrClientCancelled)
	assert.Equal(t, 0, rm.PendingCount())

	// Cancellation is forwarded to the server as $/cancelRequest.
	cancelNotif := <-frames
	assert.Equal(t, "$/cancelRequest", cancelNotif.Get("method").String())
	assert.Equal(t, req.Get("id").Int(), cancelNotif.Get("params.id").Int())
}

func TestRequestManager_DebounceSupersedes(t *testing.T) {
	rm, fs := newRequestHarness(t)
	rm.SetDebounceInterval(30 * time.Millisecond)
	fs.autoRespond(map[string]any{"winner": true})

	opts := CallOptions{DebounceKey: "file:///main.go"}

	firstErr := make(chan error, 1)
	go func() {
		_, err := rm.Call(context.Background(), "textDocument/completion", map[string]any{"n": 1}, opts)
		firstErr <- err
	}()

	// Give the first call time to park before superseding it.
	require.True(t, waitFor(t, time.Second, func() bool {
		rm.mu.Lock()
		defer rm.mu.Unlock()
		return len(rm.parked) == 1
	}))

	raw, err := rm.Call(context.Background(), "textDocument/completion", map[string]any{"n": 2}, opts)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(raw, "winner").Bool())

	assert.ErrorIs(t, <-firstErr, ErrClientCancelled)
}

func TestRequestManager_DebounceDistinctKeysIndependent(t *testing.T) {
	rm, fs := newRequestHarness(t)
	rm.SetDebounceInterval(10 * time.Millisecond)
	fs.autoRespond("done")

	type result struct{ err error }
	results := make(chan result, 2)
	for _, uri := range []DocumentURI{"file:///a.go", "file:///b.go"} {
		go func(uri DocumentURI) {
			_, err := rm.Call(context.Background(), "textDocument/hover", nil, CallOptions{DebounceKey: uri})
			results <- result{err}
		}(uri)
	}

	for i := 0; i < 2; i++ {
		assert.NoError(t, (<-results).err)
	}
}

func TestRequestManager_MaxInFlightQueues(t *testing.T) {
	rm, fs := newRequestHarness(t)
	rm.SetMaxInFlight(1)

	frames := make(chan gjson.Result, 2)
	go func() {
		for {
			frame, err := fs.readFrame()
			if err != nil {
				return
			}
			frames <- gjson.ParseBytes(frame)
		}
	}()

	firstDone := make(chan error, 1)
	go func() {
		_, err := rm.Call(context.Background(), "test/first", nil, CallOptions{Timeout: 5 * time.Second})
		firstDone <- err
	}()

	first := <-frames

	secondDone := make(chan error, 1)
	go func() {
		_, err := rm.Call(context.Background(), "test/second", nil, CallOptions{Timeout: 5 * time.Second})
		secondDone <- err
	}()

	// The second request must stay queued while the first is in flight.
	select {
	case f := <-frames:
		t.Fatalf("second request sent before first resolved: %s", f.Get("method").String())
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, fs.respond(first.Get("id").Int(), nil))
	require.NoError(t, <-firstDone)

	second := <-frames
	assert.Equal(t, "test/second", second.Get("method").String())
	require.NoError(t, fs.respond(second.Get("id").Int(), nil))
	require.NoError(t, <-secondDone)
}

func TestRequestManager_NotifyBypassesLimiter(t *testing.T) {
	rm, fs := newRequestHarness(t)
	rm.SetMaxInFlight(1)

	frames := make(chan gjson.Result, 3)
	go func() {
		for {
			frame, err := fs.readFrame()
			if err != nil {
				return
			}
			frames <- gjson.ParseBytes(frame)
		}
	}()

	go func() {
		_, _ = rm.Call(context.Background(), "test/occupy", nil, CallOptions{Timeout: 5 * time.Second})
	}()
	occupy := <-frames

	// With the only slot taken, a notification still goes out immediately.
	require.NoError(t, rm.Notify("textDocument/didChange", map[string]any{"v": 2}))
	notif := <-frames
	assert.Equal(t, "textDocument/didChange", notif.Get("method").String())
	assert.False(t, notif.Get("id").Exists())

	_ = fs.respond(occupy.Get("id").Int(), nil)
}

func TestRequestManager_CloseFailsPending(t *testing.T) {
	rm, fs := newRequestHarness(t)

	go func() {
		// Consume the request but never answer.
		_, _ = fs.readFrame()
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := rm.Call(context.Background(), "test/doomed", nil, CallOptions{Timeout: 5 * time.Second})
		errCh <- err
	}()

	require.True(t, waitFor(t, time.Second, func() bool { return rm.PendingCount() == 1 }))
	rm.Close()

	assert.ErrorIs(t, <-errCh, ErrTransportClosed)
	assert.Equal(t, 0, rm.PendingCount())

	// Further calls fail fast.
	_, err := rm.Call(context.Background(), "test/next", nil, CallOptions{})
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, rm.Notify("test/notify", nil), ErrTransportClosed)
}

func TestRequestManager_TimeoutWhenServerStopsReading(t *testing.T) {
	// No fake server pump here: nothing ever reads the client's pipe, so
	// the write itself blocks. The deadline must still fire.
	_, clientOut := io.Pipe()
	clientIn, _ := io.Pipe()
	tr := NewTransport(clientIn, clientOut, clientOut, testLogger())
	t.Cleanup(func() {
		tr.Close()
		clientIn.Close()
		clientOut.Close()
	})

	rm := NewRequestManager(tr, testLogger())
	t.Cleanup(rm.Close)

	start := time.Now()
	_, err := rm.Call(context.Background(), "test/wedged", nil, CallOptions{Timeout: 30 * time.Millisecond})

	var timeoutErr *RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "test/wedged", timeoutErr.Method)
	assert.Less(t, time.Since(start), 5*time.Second)
}
