package lsp

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"
)

// NotificationHandler handles one server-push notification.
type NotificationHandler func(method string, params json.RawMessage)

// ServerRequestHandler handles a server-to-client request (e.g.
// workspace/applyEdit) and produces the result to send back, or an error
// that becomes a JSON-RPC error response.
type ServerRequestHandler func(method string, params json.RawMessage) (any, *ResponseError)

// response is the JSON-RPC response shape, both inbound and outbound.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// serverRequestReply is the outbound reply to a server-to-client request.
type serverRequestReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// notificationMessage is the inbound notification shape.
type notificationMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Router classifies each decoded message from a server and dispatches it:
// id+method is a server-to-client request, id alone is a response to one of
// our requests, method alone is a notification. Unrecognized shapes are
// logged and discarded; routing never fails the read loop.
type Router struct {
	mu         sync.RWMutex
	notifiers  map[string]NotificationHandler
	requesters map[string]ServerRequestHandler

	responses func(*response) // sink for responses, wired to the RequestManager
	transport *Transport      // for replying to server-to-client requests
	log       *slog.Logger

	// Notifications are delivered by one worker goroutine, in arrival
	// order, so a later publishDiagnostics can never be applied before an
	// earlier one.
	notifications chan notificationMessage
	done          chan struct{}
	closeOnce     sync.Once
}

// NewRouter creates a router that replies to server-initiated requests via
// the given transport. Close releases its notification worker.
func NewRouter(transport *Transport, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		notifiers:     make(map[string]NotificationHandler),
		requesters:    make(map[string]ServerRequestHandler),
		transport:     transport,
		log:           log,
		notifications: make(chan notificationMessage, 64),
		done:          make(chan struct{}),
	}
	go r.notifyLoop()
	return r
}

// Close stops the notification worker. Safe to call more than once;
// dispatches after Close are dropped.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// OnResponse wires the sink that receives responses to client-initiated
// requests. Must be set before the transport starts delivering messages.
func (r *Router) OnResponse(fn func(*response)) {
	r.responses = fn
}

// HandleNotification registers a handler for a notification method.
// The method "*" acts as a wildcard fallback.
func (r *Router) HandleNotification(method string, h NotificationHandler) {
	r.mu.Lock()
	r.notifiers[method] = h
	r.mu.Unlock()
}

// HandleServerRequest registers a handler for a server-to-client request method.
func (r *Router) HandleServerRequest(method string, h ServerRequestHandler) {
	r.mu.Lock()
	r.requesters[method] = h
	r.mu.Unlock()
}

// Dispatch classifies one raw message and routes it. It is called from the
// transport's read loop; handlers that may block run on their own goroutine.
func (r *Router) Dispatch(data json.RawMessage) {
	// Probe the shape before committing to a full unmarshal.
	id := gjson.GetBytes(data, "id")
	method := gjson.GetBytes(data, "method")

	switch {
	case id.Exists() && method.Exists():
		r.dispatchServerRequest(data, method.String())
	case id.Exists():
		r.dispatchResponse(data)
	case method.Exists():
		r.dispatchNotification(data)
	default:
		r.log.Warn("discarding message with unrecognized shape", "len", len(data))
	}
}

func (r *Router) dispatchResponse(data json.RawMessage) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		r.log.Warn("discarding undecodable response", "error", err)
		return
	}
	if r.responses != nil {
		r.responses(&resp)
	}
}

func (r *Router) dispatchNotification(data json.RawMessage) {
	var notif notificationMessage
	if err := json.Unmarshal(data, &notif); err != nil {
		r.log.Warn("discarding undecodable notification", "error", err)
		return
	}

	// Hand off to the worker; handlers run off the read loop goroutine but
	// still one at a time, in arrival order.
	select {
	case r.notifications <- notif:
	case <-r.done:
	}
}

func (r *Router) notifyLoop() {
	for {
		select {
		case <-r.done:
			return
		case notif := <-r.notifications:
			r.mu.RLock()
			handler, ok := r.notifiers[notif.Method]
			if !ok {
				handler, ok = r.notifiers["*"]
			}
			r.mu.RUnlock()

			if !ok || handler == nil {
				r.log.Debug("notification without handler", "method", notif.Method)
				continue
			}
			handler(notif.Method, notif.Params)
		}
	}
}

func (r *Router) dispatchServerRequest(data json.RawMessage, method string) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Params json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		r.log.Warn("discarding undecodable server request", "method", method, "error", err)
		return
	}

	r.mu.RLock()
	handler, ok := r.requesters[method]
	r.mu.RUnlock()

	go func() {
		reply := serverRequestReply{JSONRPC: "2.0", ID: req.ID}
		if !ok || handler == nil {
			reply.Error = &ResponseError{
				Code:    CodeMethodNotFound,
				Message: "method not handled by client: " + method,
			}
		} else if result, rerr := handler(method, req.Params); rerr != nil {
			reply.Error = rerr
		} else {
			reply.Result = result
		}

		if err := r.transport.Send(reply); err != nil {
			r.log.Warn("failed to answer server request", "method", method, "error", err)
		}
	}()
}
