package lsp

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRouter_DispatchResponse(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	got := make(chan *response, 1)
	router.OnResponse(func(resp *response) { got <- resp })

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`))

	resp := <-got
	assert.Equal(t, int64(7), resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, `{"ok":true}`, string(resp.Result))
}

func TestRouter_DispatchErrorResponse(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	got := make(chan *response, 1)
	router.OnResponse(func(resp *response) { got <- resp })

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"nope"}}`))

	resp := <-got
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "nope", resp.Error.Message)
}

func TestRouter_DispatchNotification(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	got := make(chan json.RawMessage, 1)
	router.HandleNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		got <- params
	})

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///a.go","diagnostics":[]}}`))

	params := <-got
	assert.Equal(t, "file:///a.go", gjson.GetBytes(params, "uri").String())
}

func TestRouter_WildcardNotificationHandler(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	got := make(chan string, 1)
	router.HandleNotification("*", func(method string, params json.RawMessage) {
		got <- method
	})

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","method":"$/progress","params":{}}`))
	assert.Equal(t, "$/progress", <-got)
}

func TestRouter_SpecificHandlerBeatsWildcard(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	got := make(chan string, 1)
	router.HandleNotification("*", func(method string, _ json.RawMessage) { got <- "wildcard" })
	router.HandleNotification("a/b", func(method string, _ json.RawMessage) { got <- "specific" })

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","method":"a/b"}`))
	assert.Equal(t, "specific", <-got)
}

func TestRouter_ServerRequestHandled(t *testing.T) {
	tr, fs := newTransportPair(t)
	router := newTestRouter(t, tr)

	router.HandleServerRequest("workspace/applyEdit", func(method string, params json.RawMessage) (any, *ResponseError) {
		return ApplyWorkspaceEditResult{Applied: true}, nil
	})

	// A message with both id and method is a server-to-client request.
	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","id":99,"method":"workspace/applyEdit","params":{"edit":{}}}`))

	reply := fs.mustReadFrame()
	assert.Equal(t, int64(99), gjson.GetBytes(reply, "id").Int())
	assert.True(t, gjson.GetBytes(reply, "result.applied").Bool())
	assert.False(t, gjson.GetBytes(reply, "error").Exists())
}

func TestRouter_ServerRequestUnhandledMethod(t *testing.T) {
	tr, fs := newTransportPair(t)
	router := newTestRouter(t, tr)

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","id":5,"method":"client/unknownThing"}`))

	reply := fs.mustReadFrame()
	assert.Equal(t, int64(5), gjson.GetBytes(reply, "id").Int())
	assert.Equal(t, int64(CodeMethodNotFound), gjson.GetBytes(reply, "error.code").Int())
}

func TestRouter_ServerRequestHandlerError(t *testing.T) {
	tr, fs := newTransportPair(t)
	router := newTestRouter(t, tr)

	router.HandleServerRequest("fail/this", func(method string, params json.RawMessage) (any, *ResponseError) {
		return nil, &ResponseError{Code: CodeInvalidParams, Message: "bad params"}
	})

	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"fail/this"}`))

	reply := fs.mustReadFrame()
	assert.Equal(t, int64(CodeInvalidParams), gjson.GetBytes(reply, "error.code").Int())
	assert.Equal(t, "bad params", gjson.GetBytes(reply, "error.message").String())
}

func TestRouter_UnrecognizedShapeDiscarded(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	called := false
	router.OnResponse(func(*response) { called = true })

	// Neither id nor method.
	router.Dispatch(json.RawMessage(`{"jsonrpc":"2.0","foo":"bar"}`))
	assert.False(t, called)
}

func TestRouter_NotificationsDeliveredInOrder(t *testing.T) {
	tr, _ := newTransportPair(t)
	router := newTestRouter(t, tr)

	var mu sync.Mutex
	var got []int64
	router.HandleNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		mu.Lock()
		got = append(got, gjson.GetBytes(params, "seq").Int())
		mu.Unlock()
	})

	const n = 50
	for i := 0; i < n; i++ {
		router.Dispatch(json.RawMessage(fmt.Sprintf(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"seq":%d}}`, i)))
	}

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}))
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		assert.Equal(t, int64(i), got[i])
	}
}
