package lsp

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeServer is the far side of a transport: it reads frames the client
// writes and sends framed replies, like a language server on stdio. A
// background pump drains the client's pipe continuously, so client writes
// never block the test goroutine; tests pull drained frames via readFrame.
type fakeServer struct {
	t      *testing.T
	frames chan json.RawMessage
	writer io.WriteCloser
}

// newTransportPair builds a Transport wired to a fakeServer over in-memory
// pipes. The transport is not started; tests that need the read loop call
// Start themselves or use newRequestHarness.
func newTransportPair(t *testing.T) (*Transport, *fakeServer) {
	t.Helper()

	serverIn, clientOut := io.Pipe() // client writes -> server reads
	clientIn, serverOut := io.Pipe() // server writes -> client reads

	tr := NewTransport(clientIn, clientOut, clientOut, testLogger())
	fs := &fakeServer{t: t, frames: make(chan json.RawMessage, 256), writer: serverOut}
	go fs.pump(bufio.NewReader(serverIn))

	t.Cleanup(func() {
		tr.Close()
		serverOut.Close()
		serverIn.Close()
		clientIn.Close()
	})
	return tr, fs
}

// pump deframes everything the client writes into the frames channel,
// until the pipe closes.
func (fs *fakeServer) pump(r *bufio.Reader) {
	defer close(fs.frames)
	for {
		contentLength := -1
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				break
			}
			if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "content-length") {
				contentLength, _ = strconv.Atoi(strings.TrimSpace(value))
			}
		}
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return
		}
		fs.frames <- body
	}
}

// readFrame returns the next frame the client wrote. It errors when the
// pipe has closed or no frame shows up in time.
func (fs *fakeServer) readFrame() (json.RawMessage, error) {
	select {
	case frame, ok := <-fs.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-time.After(5 * time.Second):
		return nil, errors.New("no frame within deadline")
	}
}

// mustReadFrame fails the test when no frame arrives.
func (fs *fakeServer) mustReadFrame() json.RawMessage {
	fs.t.Helper()
	frame, err := fs.readFrame()
	if err != nil {
		fs.t.Fatalf("reading frame: %v", err)
	}
	return frame
}

// send writes one framed message to the client.
func (fs *fakeServer) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(fs.writer, "Content-Length: "+strconv.Itoa(len(data))+"\r\n\r\n"); err != nil {
		return err
	}
	_, err = fs.writer.Write(data)
	return err
}

// sendRaw writes pre-framed bytes verbatim.
func (fs *fakeServer) sendRaw(raw string) error {
	_, err := io.WriteString(fs.writer, raw)
	return err
}

// respond sends a success response for id.
func (fs *fakeServer) respond(id int64, result any) error {
	return fs.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

// respondError sends an error response for id.
func (fs *fakeServer) respondError(id int64, code int, message string) error {
	return fs.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

// notify sends a server-push notification.
func (fs *fakeServer) notify(method string, params any) error {
	return fs.send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// autoRespond consumes frames, replying to every request with the given
// result and ignoring notifications. Runs until the pipe closes.
func (fs *fakeServer) autoRespond(result any) {
	go func() {
		for {
			frame, err := fs.readFrame()
			if err != nil {
				return
			}
			id := gjson.GetBytes(frame, "id")
			if !id.Exists() {
				continue
			}
			_ = fs.respond(id.Int(), result)
		}
	}()
}

// newRequestHarness wires transport, router, and request manager together
// the way a session does, with the read loop running.
func newRequestHarness(t *testing.T) (*RequestManager, *fakeServer) {
	t.Helper()
	tr, fs := newTransportPair(t)
	router := newTestRouter(t, tr)
	rm := NewRequestManager(tr, testLogger())
	router.OnResponse(rm.HandleResponse)
	tr.OnMessage(router.Dispatch)
	tr.OnClosed(func() {
		rm.Close()
		router.Close()
	})
	tr.Start()
	return rm, fs
}

// newTestRouter builds a router whose notification worker is released with
// the test.
func newTestRouter(t *testing.T, tr *Transport) *Router {
	t.Helper()
	router := NewRouter(tr, testLogger())
	t.Cleanup(router.Close)
	return router
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
