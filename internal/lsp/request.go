package lsp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Priority orders queued requests when the server is saturated.
type Priority int

const (
	// PriorityInteractive marks user-triggered requests (completion,
	// go-to-definition); they jump ahead of queued background work.
	PriorityInteractive Priority = iota
	// PriorityBackground marks periodic or speculative requests
	// (health probes).
	PriorityBackground
)

// Default timing values. The debounce interval and probe cadence are
// tunable; these are the shipped defaults.
const (
	DefaultRequestTimeout   = 10 * time.Second
	InitializeTimeout       = 30 * time.Second
	DefaultDebounceInterval = 150 * time.Millisecond
)

// CallOptions shape a single request.
type CallOptions struct {
	// Timeout bounds the wait for a response. Zero means the manager default.
	Timeout time.Duration

	// Priority selects the dispatch lane when requests queue.
	Priority Priority

	// DebounceKey, when non-empty, coalesces rapid requests for the same
	// (method, key) pair: a newer call supersedes an unsent older one and
	// only the newest within the debounce window is transmitted. Typically
	// the DocumentURI for completion/hover storms during fast typing.
	DebounceKey DocumentURI
}

// request is the outbound JSON-RPC message shape. ID is a pointer so
// notifications (no id) and requests share one type.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// outcome is the single resolution of a pending request.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight request. Each entry is resolved at
// most once: by its response, its timeout, or caller cancellation.
type pendingRequest struct {
	id       int64
	method   string
	issuedAt time.Time
	deadline time.Time
	timer    *time.Timer
	done     chan outcome // buffered; receives exactly one outcome
}

// debounceKey coalesces rapid repeats of the same method on one document.
type debounceKey struct {
	method string
	uri    DocumentURI
}

// debouncedCall is a request parked in the debounce window, not yet sent.
type debouncedCall struct {
	timer *time.Timer
	done  chan outcome
}

// RequestManager owns request/response correlation for one Session:
// monotonic ids, the pending table, timeouts, cancellation, debouncing,
// and priority dispatch. Notifications also flow through it so that
// document mutations and the requests that depend on them are never
// reordered.
type RequestManager struct {
	transport *Transport
	log       *slog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]*pendingRequest
	parked  map[debounceKey]*debouncedCall

	// Rate limiting: at most maxInFlight requests are on the wire; when
	// saturated, interactive callers are granted slots before background
	// ones. Notifications never take a slot.
	maxInFlight int
	inFlight    int
	waitersHi   []chan struct{}
	waitersLo   []chan struct{}

	defaultTimeout   time.Duration
	debounceInterval time.Duration

	closed atomic.Bool
}

// NewRequestManager creates a manager writing through the given transport.
func NewRequestManager(transport *Transport, log *slog.Logger) *RequestManager {
	if log == nil {
		log = slog.Default()
	}
	return &RequestManager{
		transport:        transport,
		log:              log,
		pending:          make(map[int64]*pendingRequest),
		parked:           make(map[debounceKey]*debouncedCall),
		maxInFlight:      32,
		defaultTimeout:   DefaultRequestTimeout,
		debounceInterval: DefaultDebounceInterval,
	}
}

// SetMaxInFlight bounds concurrent requests. Zero or negative disables the
// limit.
func (rm *RequestManager) SetMaxInFlight(n int) {
	rm.mu.Lock()
	rm.maxInFlight = n
	rm.mu.Unlock()
}

// acquireSlot blocks until a dispatch slot is free. Interactive waiters are
// served before background waiters.
func (rm *RequestManager) acquireSlot(ctx context.Context, pri Priority) error {
	rm.mu.Lock()
	if rm.maxInFlight <= 0 || rm.inFlight < rm.maxInFlight {
		rm.inFlight++
		rm.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	if pri == PriorityInteractive {
		rm.waitersHi = append(rm.waitersHi, grant)
	} else {
		rm.waitersLo = append(rm.waitersLo, grant)
	}
	rm.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		rm.abandonWaiter(grant)
		return ErrClientCancelled
	}
}

// abandonWaiter removes a cancelled waiter, passing along a granted slot
// that raced the cancellation.
func (rm *RequestManager) abandonWaiter(grant chan struct{}) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for i, w := range rm.waitersHi {
		if w == grant {
			rm.waitersHi = append(rm.waitersHi[:i], rm.waitersHi[i+1:]...)
			return
		}
	}
	for i, w := range rm.waitersLo {
		if w == grant {
			rm.waitersLo = append(rm.waitersLo[:i], rm.waitersLo[i+1:]...)
			return
		}
	}

	// Not found: the slot was already granted. Hand it on.
	select {
	case <-grant:
		rm.releaseSlotLocked()
	default:
	}
}

// releaseSlot frees a dispatch slot and wakes the next waiter.
func (rm *RequestManager) releaseSlot() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.releaseSlotLocked()
}

func (rm *RequestManager) releaseSlotLocked() {
	rm.inFlight--
	var next chan struct{}
	if len(rm.waitersHi) > 0 {
		next, rm.waitersHi = rm.waitersHi[0], rm.waitersHi[1:]
	} else if len(rm.waitersLo) > 0 {
		next, rm.waitersLo = rm.waitersLo[0], rm.waitersLo[1:]
	}
	if next != nil {
		rm.inFlight++
		close(next)
	}
}

// SetDefaultTimeout overrides the default per-request timeout.
func (rm *RequestManager) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		rm.defaultTimeout = d
	}
}

// SetDebounceInterval overrides the debounce window.
func (rm *RequestManager) SetDebounceInterval(d time.Duration) {
	if d > 0 {
		rm.debounceInterval = d
	}
}

// PendingCount returns the number of in-flight requests.
func (rm *RequestManager) PendingCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}

// Notify sends a notification (no id, no response). Notifications are
// written synchronously in submission order, so a didChange is always on
// the wire before any request issued after it.
func (rm *RequestManager) Notify(method string, params any) error {
	if rm.closed.Load() {
		return ErrTransportClosed
	}
	return rm.transport.Send(&request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// Call sends a request and waits for its resolution: the matching response,
// the timeout, or cancellation of ctx. Exactly one of those wins.
func (rm *RequestManager) Call(ctx context.Context, method string, params any, opts CallOptions) (json.RawMessage, error) {
	if rm.closed.Load() {
		return nil, ErrTransportClosed
	}

	if opts.DebounceKey != "" {
		return rm.callDebounced(ctx, method, params, opts)
	}

	if err := rm.acquireSlot(ctx, opts.Priority); err != nil {
		return nil, err
	}

	done, id := rm.sendNow(method, params, opts)
	return rm.await(ctx, id, done)
}

// sendNow allocates an id, registers the pending entry, arms the timeout,
// and writes the frame from its own goroutine. The deadline is armed before
// the write so a server that stops draining stdin cannot block the caller
// past the timeout; a write error resolves the pending entry like any other
// failure.
func (rm *RequestManager) sendNow(method string, params any, opts CallOptions) (chan outcome, int64) {
	id := rm.nextID.Add(1)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = rm.defaultTimeout
	}

	now := time.Now()
	p := &pendingRequest{
		id:       id,
		method:   method,
		issuedAt: now,
		deadline: now.Add(timeout),
		done:     make(chan outcome, 1),
	}

	rm.mu.Lock()
	rm.pending[id] = p
	rm.mu.Unlock()

	p.timer = time.AfterFunc(timeout, func() {
		if rm.resolve(id, outcome{err: &RequestTimeoutError{Method: method}}) {
			rm.log.Debug("request timed out", "method", method, "id", id, "timeout", timeout)
		}
	})

	go func() {
		err := rm.transport.Send(&request{
			JSONRPC: "2.0",
			ID:      &id,
			Method:  method,
			Params:  params,
		})
		if err != nil {
			rm.resolve(id, outcome{err: err})
		}
	}()

	return p.done, id
}

// await blocks until the pending request resolves or the caller cancels.
func (rm *RequestManager) await(ctx context.Context, id int64, done chan outcome) (json.RawMessage, error) {
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		// Caller-initiated cancellation: release the continuation
		// immediately; the server-side cancel is fire-and-forget.
		if rm.resolve(id, outcome{err: ErrClientCancelled}) {
			go rm.cancelOnServer(id)
		}
		return nil, ErrClientCancelled
	}
}

// callDebounced parks the request for the debounce window. A newer call for
// the same (method, key) supersedes an unsent older one, failing its caller
// with ErrClientCancelled without any network I/O.
func (rm *RequestManager) callDebounced(ctx context.Context, method string, params any, opts CallOptions) (json.RawMessage, error) {
	key := debounceKey{method: method, uri: opts.DebounceKey}
	done := make(chan outcome, 1)

	rm.mu.Lock()
	if prev, ok := rm.parked[key]; ok {
		prev.timer.Stop()
		prev.done <- outcome{err: ErrClientCancelled}
	}
	parked := &debouncedCall{done: done}
	parked.timer = time.AfterFunc(rm.debounceInterval, func() {
		rm.fireDebounced(key, parked, method, params, opts)
	})
	rm.parked[key] = parked
	rm.mu.Unlock()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		rm.mu.Lock()
		if rm.parked[key] == parked {
			parked.timer.Stop()
			delete(rm.parked, key)
		}
		rm.mu.Unlock()
		return nil, ErrClientCancelled
	}
}

// fireDebounced transmits a parked request once its window elapses.
func (rm *RequestManager) fireDebounced(key debounceKey, parked *debouncedCall, method string, params any, opts CallOptions) {
	rm.mu.Lock()
	if rm.parked[key] != parked {
		// Superseded or cancelled while the timer fired.
		rm.mu.Unlock()
		return
	}
	delete(rm.parked, key)
	rm.mu.Unlock()

	opts.DebounceKey = ""
	if err := rm.acquireSlot(context.Background(), opts.Priority); err != nil {
		parked.done <- outcome{err: err}
		return
	}
	done, _ := rm.sendNow(method, params, opts)
	// Forward the eventual resolution to the parked caller.
	parked.done <- <-done
}

// resolve delivers the single resolution for id. Returns false when the id
// is unknown (already resolved); a late response is logged by the caller.
func (rm *RequestManager) resolve(id int64, out outcome) bool {
	rm.mu.Lock()
	p, ok := rm.pending[id]
	if ok {
		delete(rm.pending, id)
	}
	rm.mu.Unlock()

	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	rm.releaseSlot()
	p.done <- out
	return true
}

// HandleResponse is wired to the Router's response sink. Responses for
// unknown ids (timed out, cancelled, or duplicated) are ignored.
func (rm *RequestManager) HandleResponse(resp *response) {
	var out outcome
	if resp.Error != nil {
		out.err = resp.Error
	} else {
		out.result = resp.Result
	}
	if !rm.resolve(resp.ID, out) {
		rm.log.Debug("ignoring late or duplicate response", "id", resp.ID)
	}
}

// cancelOnServer emits $/cancelRequest. Best effort; the canceller has
// already been released.
func (rm *RequestManager) cancelOnServer(id int64) {
	if err := rm.Notify("$/cancelRequest", CancelParams{ID: id}); err != nil {
		rm.log.Debug("cancel notification failed", "id", id, "error", err)
	}
}

// Close fails every pending and parked request with ErrTransportClosed.
// Called when the session's transport closes or shuts down.
func (rm *RequestManager) Close() {
	if rm.closed.Swap(true) {
		return
	}

	rm.mu.Lock()
	pending := rm.pending
	parked := rm.parked
	rm.pending = make(map[int64]*pendingRequest)
	rm.parked = make(map[debounceKey]*debouncedCall)
	// Wake queued callers; their sends will fail against the closed
	// transport and resolve with ErrTransportClosed.
	for _, w := range append(rm.waitersHi, rm.waitersLo...) {
		rm.inFlight++
		close(w)
	}
	rm.waitersHi, rm.waitersLo = nil, nil
	rm.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- outcome{err: ErrTransportClosed}
	}
	for _, d := range parked {
		d.timer.Stop()
		d.done <- outcome{err: ErrTransportClosed}
	}
}
