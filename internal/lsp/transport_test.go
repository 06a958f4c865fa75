package lsp

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTransport_SendFraming(t *testing.T) {
	tr, fs := newTransportPair(t)

	err := tr.Send(&request{JSONRPC: "2.0", Method: "test/hello", Params: map[string]string{"k": "v"}})
	require.NoError(t, err)

	frame := fs.mustReadFrame()
	assert.Equal(t, "test/hello", gjson.GetBytes(frame, "method").String())
	assert.Equal(t, "2.0", gjson.GetBytes(frame, "jsonrpc").String())
	assert.Equal(t, "v", gjson.GetBytes(frame, "params.k").String())
}

func TestTransport_ReceiveMessage(t *testing.T) {
	tr, fs := newTransportPair(t)

	received := make(chan json.RawMessage, 1)
	tr.OnMessage(func(msg json.RawMessage) { received <- msg })
	tr.Start()

	require.NoError(t, fs.notify("window/logMessage", map[string]any{"type": 3, "message": "hi"}))

	msg := <-received
	assert.Equal(t, "window/logMessage", gjson.GetBytes(msg, "method").String())
	assert.Equal(t, "hi", gjson.GetBytes(msg, "params.message").String())
}

func TestTransport_MalformedFrameSkipped(t *testing.T) {
	tr, fs := newTransportPair(t)

	received := make(chan json.RawMessage, 2)
	tr.OnMessage(func(msg json.RawMessage) { received <- msg })
	tr.Start()

	// Header line without a colon drops the frame but keeps the loop alive.
	require.NoError(t, fs.sendRaw("garbage header line\r\n\r\n"))
	require.NoError(t, fs.notify("still/alive", nil))

	msg := <-received
	assert.Equal(t, "still/alive", gjson.GetBytes(msg, "method").String())
}

func TestTransport_InvalidJSONBodySkipped(t *testing.T) {
	tr, fs := newTransportPair(t)

	received := make(chan json.RawMessage, 2)
	tr.OnMessage(func(msg json.RawMessage) { received <- msg })
	tr.Start()

	bad := "{not json"
	require.NoError(t, fs.sendRaw(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(bad), bad)))
	require.NoError(t, fs.notify("after/bad", nil))

	msg := <-received
	assert.Equal(t, "after/bad", gjson.GetBytes(msg, "method").String())
}

func TestTransport_ContentLengthCaseInsensitive(t *testing.T) {
	tr, fs := newTransportPair(t)

	received := make(chan json.RawMessage, 1)
	tr.OnMessage(func(msg json.RawMessage) { received <- msg })
	tr.Start()

	body := `{"jsonrpc":"2.0","method":"x"}`
	frame := fmt.Sprintf("content-length: %d\r\nContent-Type: application/vscode-jsonrpc\r\n\r\n%s", len(body), body)
	require.NoError(t, fs.sendRaw(frame))

	msg := <-received
	assert.Equal(t, "x", gjson.GetBytes(msg, "method").String())
}

func TestTransport_OnClosedFiresOnce(t *testing.T) {
	tr, fs := newTransportPair(t)

	var closedCount atomic.Int32
	done := make(chan struct{})
	tr.OnClosed(func() {
		closedCount.Add(1)
		close(done)
	})
	tr.Start()

	// Server side going away is EOF on the client's read pipe.
	fs.writer.Close()
	<-done

	// Explicit Close after the stream already ended must not re-fire.
	tr.Close()
	tr.Close()
	assert.Equal(t, int32(1), closedCount.Load())
	assert.True(t, tr.IsClosed())
}

func TestTransport_SendAfterClose(t *testing.T) {
	tr, _ := newTransportPair(t)
	require.NoError(t, tr.Close())

	err := tr.Send(&request{JSONRPC: "2.0", Method: "x"})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestTransport_ConcurrentSendsDoNotInterleave(t *testing.T) {
	tr, fs := newTransportPair(t)

	const senders = 8
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := strings.Repeat("x", 512)
			_ = tr.Send(&request{JSONRPC: "2.0", Method: fmt.Sprintf("m/%d", i), Params: payload})
		}(i)
	}

	seen := map[string]bool{}
	for i := 0; i < senders; i++ {
		frame := fs.mustReadFrame()
		require.True(t, json.Valid(frame), "frame %d is not valid JSON", i)
		seen[gjson.GetBytes(frame, "method").String()] = true
	}
	wg.Wait()
	assert.Len(t, seen, senders)
}
