package lsp

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Transport owns the byte-level framing over one subprocess's stdio.
// Outbound messages are serialized to JSON and written with a
// Content-Length header; inbound bytes are deframed into raw JSON
// messages and handed to the receive callback. Transport carries no
// protocol semantics beyond the framing itself.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	writeMu sync.Mutex // serializes frames onto stdin

	onMessage func(json.RawMessage)
	onClosed  func()

	closed    atomic.Bool
	closeOnce sync.Once
	log       *slog.Logger
}

// NewTransport creates a transport over the given reader/writer pair,
// typically the stdout/stdin pipes of a language server subprocess.
// The optional closer is closed along with the transport.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		closer: c,
		log:    log,
	}
}

// OnMessage registers the callback invoked with each deframed message.
// Must be set before Start.
func (t *Transport) OnMessage(fn func(json.RawMessage)) {
	t.onMessage = fn
}

// OnClosed registers the callback fired exactly once when the inbound
// stream reaches end-of-file (the server process exited) or the transport
// is closed. Must be set before Start.
func (t *Transport) OnClosed(fn func()) {
	t.onClosed = fn
}

// Start launches the read loop. Call once.
func (t *Transport) Start() {
	go t.readLoop()
}

// Send serializes msg and writes one framed message. The header and body
// are written under a single lock so concurrent sends never interleave.
func (t *Transport) Send(msg any) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return &TransportError{Op: "marshal", Err: err}
	}

	header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return &TransportError{Op: "write header", Err: err}
	}
	if _, err := t.writer.Write(data); err != nil {
		return &TransportError{Op: "write body", Err: err}
	}
	return nil
}

// Close shuts the transport down. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.closer != nil {
			err = t.closer.Close()
		}
		if t.onClosed != nil {
			t.onClosed()
		}
	})
	return err
}

// IsClosed reports whether the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// readLoop deframes messages until EOF or close. A malformed header or
// non-JSON body drops that single message; the loop keeps reading.
func (t *Transport) readLoop() {
	for {
		if t.closed.Load() {
			return
		}

		body, err := t.readFrame()
		if err != nil {
			if isStreamEnd(err) || t.closed.Load() {
				t.Close()
				return
			}
			var perr *ProtocolError
			if errors.As(err, &perr) {
				t.log.Warn("dropping malformed frame", "reason", perr.Reason)
				continue
			}
			t.Close()
			return
		}

		if !json.Valid(body) {
			t.log.Warn("dropping frame with invalid JSON body", "len", len(body))
			continue
		}

		if t.onMessage != nil {
			t.onMessage(body)
		}
	}
}

// readFrame reads one header block and its body. The Content-Length header
// is matched case-insensitively; other headers (Content-Type) are ignored.
func (t *Transport) readFrame() ([]byte, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // end of headers
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, &ProtocolError{Reason: "header line without colon"}
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &ProtocolError{Reason: "unparseable Content-Length"}
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return nil, &ProtocolError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

// isStreamEnd reports whether err means the subprocess's pipe is gone.
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
