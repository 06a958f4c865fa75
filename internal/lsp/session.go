package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a server session.
type SessionState int32

const (
	// StateStarting means the subprocess is being spawned.
	StateStarting SessionState = iota
	// StateInitializing means the initialize handshake is in flight.
	StateInitializing
	// StateRunning means the server is healthy and serving requests.
	StateRunning
	// StateDegraded means health probes are failing but the server still
	// answers; requests are still accepted.
	StateDegraded
	// StateUnresponsive means the server crashed or stopped answering;
	// recovery may be attempted.
	StateUnresponsive
	// StateShuttingDown means an orderly shutdown is in progress.
	StateShuttingDown
	// StateTerminated means the session is finished and will not restart.
	StateTerminated
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateUnresponsive:
		return "unresponsive"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ServerConfig describes how to launch a language server.
type ServerConfig struct {
	Command               string
	Args                  []string
	Env                   []string // extra KEY=VALUE entries appended to the inherited environment
	WorkDir               string
	InitializationOptions any
}

// Timing defaults for the session lifecycle.
const (
	shutdownRequestTimeout = 3 * time.Second
	exitGracePeriod        = 3 * time.Second
	restartGracePeriod     = 1 * time.Second
)

// Session owns one language server subprocess: its transport, request
// manager, document synchronizer, negotiated capabilities, and lifecycle
// state. A session survives server crashes; Restart replaces the process
// and replays open documents while the Session identity persists.
type Session struct {
	languageID string
	config     ServerConfig
	log        *slog.Logger

	state atomic.Int32

	workspaceFolders []WorkspaceFolder
	rootURI          DocumentURI
	initTimeout      time.Duration
	requestTimeout   time.Duration
	debounceInterval time.Duration
	maxInFlight      int

	// mu guards the per-process fields below, which are replaced whole
	// on restart.
	mu         sync.Mutex
	instanceID string
	cmd        *exec.Cmd
	transport  *Transport
	router     *Router
	rm         *RequestManager
	caps       ServerCapabilities
	serverInfo *ServerInfo
	procExited chan struct{}

	sync *Synchronizer

	restarts atomic.Int32

	diagMu        sync.Mutex
	diagnostics   map[DocumentURI][]Diagnostic
	onDiagnostics func(DocumentURI, []Diagnostic)

	// applyEdit handles workspace/applyEdit requests from the server.
	// Nil means edits are refused.
	applyEdit func(label string, edit WorkspaceEdit) error

	// onExit is invoked when the subprocess exits while the session is
	// not shutting down. The health monitor uses it to trigger recovery.
	onExit func(err error)
}

// SessionOption configures a Session at construction.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithWorkspaceRoot sets the workspace root sent during initialize.
func WithWorkspaceRoot(path string) SessionOption {
	return func(s *Session) {
		s.rootURI = FilePathToURI(path)
		s.workspaceFolders = []WorkspaceFolder{WorkspaceFolderFromPath(path)}
	}
}

// WithInitializeTimeout bounds the initialize handshake.
func WithInitializeTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.initTimeout = d }
}

// WithRequestTimeout sets the default per-request timeout.
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.requestTimeout = d }
}

// WithDebounceInterval sets the coalescing window for debounced requests.
func WithDebounceInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.debounceInterval = d }
}

// WithMaxInFlight caps concurrently outstanding requests.
func WithMaxInFlight(n int) SessionOption {
	return func(s *Session) { s.maxInFlight = n }
}

// WithDiagnosticsFunc registers a callback invoked on every
// publishDiagnostics notification, after the session's store is updated.
func WithDiagnosticsFunc(fn func(DocumentURI, []Diagnostic)) SessionOption {
	return func(s *Session) { s.onDiagnostics = fn }
}

// WithApplyEditFunc registers the handler for workspace/applyEdit requests
// from the server. Without one, edits are declined.
func WithApplyEditFunc(fn func(label string, edit WorkspaceEdit) error) SessionOption {
	return func(s *Session) { s.applyEdit = fn }
}

// NewSession creates a session for one language server. Start must be
// called before any other method.
func NewSession(languageID string, config ServerConfig, opts ...SessionOption) *Session {
	s := &Session{
		languageID:  languageID,
		config:      config,
		log:         slog.Default(),
		initTimeout: InitializeTimeout,
		diagnostics: make(map[DocumentURI][]Diagnostic),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session", "language", languageID)
	s.state.Store(int32(StateStarting))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// LanguageID returns the language this session serves.
func (s *Session) LanguageID() string { return s.languageID }

// InstanceID identifies the current subprocess incarnation. It changes on
// every restart.
func (s *Session) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

// Capabilities returns the capabilities negotiated with the current server
// process. The returned value is a copy; negotiated capabilities never
// change between restarts of the same process.
func (s *Session) Capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ServerInfo returns the server's self-reported name and version, if any.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// Synchronizer exposes the session's document synchronizer.
func (s *Session) Synchronizer() *Synchronizer {
	return s.sync
}

// OnExit registers the subprocess-exit callback. Must be set before Start.
func (s *Session) OnExit(fn func(err error)) {
	s.onExit = fn
}

// Start spawns the server subprocess and runs the initialize handshake.
// On success the session is Running.
func (s *Session) Start(ctx context.Context) error {
	s.setState(StateStarting)

	if err := s.spawn(); err != nil {
		s.setState(StateTerminated)
		return err
	}

	s.setState(StateInitializing)
	if err := s.initialize(ctx); err != nil {
		s.teardownProcess()
		s.setState(StateTerminated)
		return fmt.Errorf("initialize %s: %w", s.config.Command, err)
	}

	s.setState(StateRunning)
	return nil
}

// serverEnviron returns the inherited environment with common local
// toolchain bin directories appended to PATH, so servers installed via
// go install or rustup resolve without extra shell configuration.
func serverEnviron() []string {
	env := os.Environ()
	home, err := os.UserHomeDir()
	if err != nil {
		return env
	}

	path := os.Getenv("PATH")
	for _, dir := range []string{
		filepath.Join(home, "go", "bin"),
		filepath.Join(home, ".cargo", "bin"),
		filepath.Join(home, ".local", "bin"),
	} {
		if !strings.Contains(path, dir) {
			path += string(os.PathListSeparator) + dir
		}
	}

	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + path
			return env
		}
	}
	return append(env, "PATH="+path)
}

// spawn launches the subprocess and wires transport, router, request
// manager, and synchronizer around its stdio.
func (s *Session) spawn() error {
	cmd := exec.Command(s.config.Command, s.config.Args...)
	cmd.Dir = s.config.WorkDir
	cmd.Env = append(serverEnviron(), s.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Op: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Op: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &TransportError{Op: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &TransportError{Op: "start " + s.config.Command, Err: err}
	}

	instanceID := uuid.NewString()
	log := s.log.With("instance", instanceID)

	transport := NewTransport(stdout, stdin, stdin, log)
	router := NewRouter(transport, log)
	rm := NewRequestManager(transport, log)
	if s.requestTimeout > 0 {
		rm.SetDefaultTimeout(s.requestTimeout)
	}
	if s.debounceInterval > 0 {
		rm.SetDebounceInterval(s.debounceInterval)
	}
	if s.maxInFlight > 0 {
		rm.SetMaxInFlight(s.maxInFlight)
	}
	router.OnResponse(rm.HandleResponse)
	transport.OnMessage(router.Dispatch)
	transport.OnClosed(func() {
		rm.Close()
		router.Close()
	})
	s.registerHandlers(router)

	procExited := make(chan struct{})

	s.mu.Lock()
	s.instanceID = instanceID
	s.cmd = cmd
	s.transport = transport
	s.router = router
	s.rm = rm
	s.procExited = procExited
	s.mu.Unlock()

	if s.sync == nil {
		s.sync = NewSynchronizer(rm, log)
	} else {
		s.sync.Rebind(rm)
	}

	go s.drainStderr(stderr, log)
	transport.Start()
	go s.waitExit(cmd, rm, transport, procExited, log)

	log.Info("server started", "command", s.config.Command, "pid", cmd.Process.Pid)
	return nil
}

// drainStderr forwards server stderr lines to the log.
func (s *Session) drainStderr(r io.Reader, log *slog.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		log.Debug("server stderr", "line", sc.Text())
	}
}

// waitExit reaps the subprocess. It fails all in-flight requests, closes
// the transport, and, unless the session is shutting down, marks the
// session unresponsive and notifies the exit callback.
func (s *Session) waitExit(cmd *exec.Cmd, rm *RequestManager, transport *Transport, procExited chan struct{}, log *slog.Logger) {
	err := cmd.Wait()
	close(procExited)
	transport.Close()
	rm.Close()

	state := s.State()
	if state == StateShuttingDown || state == StateTerminated {
		log.Info("server exited", "err", err)
		return
	}

	// Stale incarnation: a restart already replaced this process.
	s.mu.Lock()
	current := s.cmd == cmd
	s.mu.Unlock()
	if !current {
		log.Debug("old server instance exited", "err", err)
		return
	}

	log.Warn("server exited unexpectedly", "err", err)
	s.setState(StateUnresponsive)
	if s.onExit != nil {
		if err == nil {
			err = errors.New("server process exited")
		}
		s.onExit(err)
	}
}

// registerHandlers wires server-to-client traffic: diagnostics, log
// messages, progress token creation, configuration pulls, and
// workspace/applyEdit.
func (s *Session) registerHandlers(router *Router) {
	router.HandleNotification("textDocument/publishDiagnostics", func(_ string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.log.Warn("bad publishDiagnostics payload", "err", err)
			return
		}
		s.diagMu.Lock()
		s.diagnostics[p.URI] = p.Diagnostics
		cb := s.onDiagnostics
		s.diagMu.Unlock()
		if cb != nil {
			cb(p.URI, p.Diagnostics)
		}
	})

	logMessage := func(_ string, params json.RawMessage) {
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		switch p.Type {
		case MessageError:
			s.log.Error("server message", "message", p.Message)
		case MessageWarning:
			s.log.Warn("server message", "message", p.Message)
		default:
			s.log.Debug("server message", "message", p.Message)
		}
	}
	router.HandleNotification("window/logMessage", logMessage)
	router.HandleNotification("window/showMessage", logMessage)

	// Servers create progress tokens before reporting; accepting is enough.
	router.HandleServerRequest("window/workDoneProgress/create", func(_ string, _ json.RawMessage) (any, *ResponseError) {
		return nil, nil
	})

	// No per-section settings beyond initializationOptions; answer null for
	// every requested item so servers fall back to their defaults.
	router.HandleServerRequest("workspace/configuration", func(_ string, params json.RawMessage) (any, *ResponseError) {
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ResponseError{Code: CodeInvalidParams, Message: err.Error()}
		}
		return make([]any, len(p.Items)), nil
	})

	router.HandleServerRequest("workspace/applyEdit", func(_ string, params json.RawMessage) (any, *ResponseError) {
		var p ApplyWorkspaceEditParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &ResponseError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if s.applyEdit == nil {
			return ApplyWorkspaceEditResult{Applied: false, FailureReason: "client does not apply workspace edits"}, nil
		}
		if err := s.applyEdit(p.Label, p.Edit); err != nil {
			return ApplyWorkspaceEditResult{Applied: false, FailureReason: err.Error()}, nil
		}
		return ApplyWorkspaceEditResult{Applied: true}, nil
	})
}

// initialize runs the initialize request and initialized notification,
// then records the negotiated capabilities.
func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	rm := s.rm
	s.mu.Unlock()

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               s.rootURI,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders:      s.workspaceFolders,
	}

	raw, err := rm.Call(ctx, "initialize", params, CallOptions{
		Timeout:  s.initTimeout,
		Priority: PriorityInteractive,
	})
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return &ProtocolError{Reason: "malformed initialize result: " + err.Error()}
	}

	s.mu.Lock()
	s.caps = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	s.sync.SetCapabilities(NegotiatedSyncKind(result.Capabilities), SaveWantsText(result.Capabilities))

	if err := rm.Notify("initialized", InitializedParams{}); err != nil {
		return err
	}

	if result.ServerInfo != nil {
		s.log.Info("server initialized", "name", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	} else {
		s.log.Info("server initialized")
	}
	return nil
}

// Shutdown performs an orderly shutdown: shutdown request, exit
// notification, grace period, then SIGKILL. Idempotent.
func (s *Session) Shutdown(ctx context.Context) error {
	for {
		state := s.State()
		if state == StateShuttingDown || state == StateTerminated {
			return nil
		}
		if s.state.CompareAndSwap(int32(state), int32(StateShuttingDown)) {
			s.log.Info("shutting down", "from", state)
			break
		}
	}

	s.mu.Lock()
	rm := s.rm
	cmd := s.cmd
	transport := s.transport
	procExited := s.procExited
	s.mu.Unlock()

	if rm != nil && transport != nil && !transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownRequestTimeout)
		if _, err := rm.Call(shutdownCtx, "shutdown", nil, CallOptions{Priority: PriorityInteractive}); err != nil {
			s.log.Debug("shutdown request failed", "err", err)
		}
		cancel()
		if err := rm.Notify("exit", nil); err != nil {
			s.log.Debug("exit notification failed", "err", err)
		}
	}

	if procExited != nil {
		select {
		case <-procExited:
		case <-time.After(exitGracePeriod):
			if cmd != nil && cmd.Process != nil {
				s.log.Warn("server did not exit, killing", "pid", cmd.Process.Pid)
				_ = cmd.Process.Kill()
			}
			<-procExited
		case <-ctx.Done():
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}

	s.teardownProcess()
	s.setState(StateTerminated)
	return nil
}

// Restart replaces a dead or unresponsive subprocess with a fresh one,
// re-runs the handshake, and replays every open document. Called by the
// health monitor; callers must not race it with Shutdown.
func (s *Session) Restart(ctx context.Context) error {
	state := s.State()
	if state == StateShuttingDown || state == StateTerminated {
		return ErrSessionNotRunning
	}

	var snaps []DocumentSnapshot
	if s.sync != nil {
		snaps = s.sync.Snapshot()
	}

	s.stopProcess(restartGracePeriod)
	s.setState(StateStarting)

	if err := s.spawn(); err != nil {
		s.setState(StateUnresponsive)
		return err
	}

	s.setState(StateInitializing)
	if err := s.initialize(ctx); err != nil {
		s.teardownProcess()
		s.setState(StateUnresponsive)
		return err
	}

	if len(snaps) > 0 {
		if err := s.sync.Replay(snaps); err != nil {
			s.teardownProcess()
			s.setState(StateUnresponsive)
			return err
		}
	}

	s.restarts.Add(1)
	s.setState(StateRunning)
	s.log.Info("server restarted", "replayed", len(snaps))
	return nil
}

// stopProcess tries the orderly shutdown/exit sequence with a short grace
// before force-stopping the subprocess. A wedged server makes the shutdown
// request time out after grace; the kill in teardownProcess then applies.
func (s *Session) stopProcess(grace time.Duration) {
	s.mu.Lock()
	rm := s.rm
	transport := s.transport
	procExited := s.procExited
	s.mu.Unlock()

	if rm != nil && transport != nil && !transport.IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if _, err := rm.Call(ctx, "shutdown", nil, CallOptions{Timeout: grace, Priority: PriorityInteractive}); err != nil {
			s.log.Debug("shutdown request failed", "err", err)
		}
		cancel()
		if err := rm.Notify("exit", nil); err != nil {
			s.log.Debug("exit notification failed", "err", err)
		}
	}

	if procExited != nil {
		select {
		case <-procExited:
		case <-time.After(grace):
		}
	}
	s.teardownProcess()
}

// teardownProcess force-stops the current subprocess and releases its
// transport and pending requests.
func (s *Session) teardownProcess() {
	s.mu.Lock()
	cmd := s.cmd
	rm := s.rm
	transport := s.transport
	s.cmd = nil
	s.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	if rm != nil {
		rm.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (s *Session) setState(state SessionState) {
	old := SessionState(s.state.Swap(int32(state)))
	if old != state {
		s.log.Debug("state transition", "from", old, "to", state)
	}
}

// MarkDegraded records failing-but-alive health. No effect unless Running.
func (s *Session) MarkDegraded() {
	s.state.CompareAndSwap(int32(StateRunning), int32(StateDegraded))
}

// MarkRunning restores Running after a degraded stretch recovers.
func (s *Session) MarkRunning() {
	s.state.CompareAndSwap(int32(StateDegraded), int32(StateRunning))
}

// MarkUnresponsive records that the server stopped answering probes.
func (s *Session) MarkUnresponsive() {
	for {
		state := s.State()
		if state == StateShuttingDown || state == StateTerminated || state == StateUnresponsive {
			return
		}
		if s.state.CompareAndSwap(int32(state), int32(StateUnresponsive)) {
			return
		}
	}
}

// requireServing rejects feature calls unless the session accepts requests.
func (s *Session) requireServing() error {
	switch s.State() {
	case StateRunning, StateDegraded:
		return nil
	default:
		return fmt.Errorf("session %s: %w", s.State(), ErrSessionNotRunning)
	}
}

// call routes a request through the current request manager.
func (s *Session) call(ctx context.Context, method string, params any, opts CallOptions) (json.RawMessage, error) {
	s.mu.Lock()
	rm := s.rm
	s.mu.Unlock()
	if rm == nil {
		return nil, ErrSessionNotRunning
	}
	return rm.Call(ctx, method, params, opts)
}

// Ping sends a cheap request to check server liveness. Used by the health
// monitor; any non-transport error still proves the server is answering.
func (s *Session) Ping(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	rm := s.rm
	s.mu.Unlock()
	if rm == nil {
		return ErrSessionNotRunning
	}
	_, err := rm.Call(ctx, "workspace/symbol", struct {
		Query string `json:"query"`
	}{Query: ""}, CallOptions{Timeout: timeout, Priority: PriorityBackground})
	if err == nil {
		return nil
	}
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		// The server answered, even if it rejected the method.
		return nil
	}
	return err
}

// --- Document lifecycle ---

// OpenDocument opens a file with the server, reading language from the
// session itself.
func (s *Session) OpenDocument(uri DocumentURI, text string) error {
	if err := s.requireServing(); err != nil {
		return err
	}
	return s.sync.Open(uri, s.languageID, text)
}

// ChangeDocument applies a batch of edits and syncs them to the server.
func (s *Session) ChangeDocument(uri DocumentURI, edits []TextEdit) error {
	if err := s.requireServing(); err != nil {
		return err
	}
	return s.sync.Change(uri, edits)
}

// SaveDocument notifies the server that a document was saved.
func (s *Session) SaveDocument(uri DocumentURI) error {
	if err := s.requireServing(); err != nil {
		return err
	}
	return s.sync.Save(uri)
}

// CloseDocument closes a file with the server.
func (s *Session) CloseDocument(uri DocumentURI) error {
	if err := s.requireServing(); err != nil {
		return err
	}
	return s.sync.Close(uri)
}

// Diagnostics returns the latest published diagnostics for a document.
func (s *Session) Diagnostics(uri DocumentURI) []Diagnostic {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	diags := s.diagnostics[uri]
	out := make([]Diagnostic, len(diags))
	copy(out, diags)
	return out
}

// --- Feature requests ---
//
// Every feature method checks the negotiated capability before any I/O and
// fails with a CapabilityError when the server does not support it.

// Completion requests completions at a position. Rapid calls for the same
// document are debounced; a superseded call fails with ErrClientCancelled.
func (s *Session) Completion(ctx context.Context, uri DocumentURI, pos Position) (*CompletionList, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	caps := s.Capabilities()
	if caps.CompletionProvider == nil {
		return nil, &CapabilityError{Method: "textDocument/completion"}
	}
	raw, err := s.call(ctx, "textDocument/completion", CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
	}, CallOptions{Priority: PriorityInteractive, DebounceKey: uri})
	if err != nil {
		return nil, err
	}
	return ParseCompletionResult(raw)
}

// Hover requests hover information at a position. Debounced per document.
func (s *Session) Hover(ctx context.Context, uri DocumentURI, pos Position) (*Hover, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	caps := s.Capabilities()
	if !HasCapability(caps.HoverProvider) {
		return nil, &CapabilityError{Method: "textDocument/hover"}
	}
	raw, err := s.call(ctx, "textDocument/hover", HoverParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
	}, CallOptions{Priority: PriorityInteractive, DebounceKey: uri})
	if err != nil {
		return nil, err
	}
	return ParseHoverResult(raw)
}

// Definition requests the definition locations of the symbol at a position.
func (s *Session) Definition(ctx context.Context, uri DocumentURI, pos Position) ([]Location, error) {
	return s.locationRequest(ctx, "textDocument/definition", uri, pos, func(caps ServerCapabilities) any {
		return caps.DefinitionProvider
	})
}

// TypeDefinition requests the type definition locations at a position.
func (s *Session) TypeDefinition(ctx context.Context, uri DocumentURI, pos Position) ([]Location, error) {
	return s.locationRequest(ctx, "textDocument/typeDefinition", uri, pos, func(caps ServerCapabilities) any {
		return caps.TypeDefinitionProvider
	})
}

func (s *Session) locationRequest(ctx context.Context, method string, uri DocumentURI, pos Position, capOf func(ServerCapabilities) any) ([]Location, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(capOf(s.Capabilities())) {
		return nil, &CapabilityError{Method: method}
	}
	raw, err := s.call(ctx, method, TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}, CallOptions{Priority: PriorityInteractive})
	if err != nil {
		return nil, err
	}
	return ParseLocationResult(raw)
}

// References requests all references to the symbol at a position.
func (s *Session) References(ctx context.Context, uri DocumentURI, pos Position, includeDeclaration bool) ([]Location, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(s.Capabilities().ReferencesProvider) {
		return nil, &CapabilityError{Method: "textDocument/references"}
	}
	raw, err := s.call(ctx, "textDocument/references", ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: includeDeclaration},
	}, CallOptions{Priority: PriorityInteractive})
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var locs []Location
	if err := json.Unmarshal(raw, &locs); err != nil {
		return nil, &ProtocolError{Reason: "malformed references result: " + err.Error()}
	}
	return locs, nil
}

// CodeActions requests quick fixes and refactorings for a range.
func (s *Session) CodeActions(ctx context.Context, uri DocumentURI, rng Range, diags []Diagnostic) ([]CodeAction, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(s.Capabilities().CodeActionProvider) {
		return nil, &CapabilityError{Method: "textDocument/codeAction"}
	}
	raw, err := s.call(ctx, "textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: diags},
	}, CallOptions{Priority: PriorityInteractive})
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var actions []CodeAction
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, &ProtocolError{Reason: "malformed codeAction result: " + err.Error()}
	}
	return actions, nil
}

// Formatting requests whole-document formatting edits.
func (s *Session) Formatting(ctx context.Context, uri DocumentURI, opts FormattingOptions) ([]TextEdit, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(s.Capabilities().DocumentFormattingProvider) {
		return nil, &CapabilityError{Method: "textDocument/formatting"}
	}
	raw, err := s.call(ctx, "textDocument/formatting", DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Options:      opts,
	}, CallOptions{Priority: PriorityBackground})
	if err != nil {
		return nil, err
	}
	return parseTextEdits(raw)
}

// RangeFormatting requests formatting edits for a range.
func (s *Session) RangeFormatting(ctx context.Context, uri DocumentURI, rng Range, opts FormattingOptions) ([]TextEdit, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(s.Capabilities().DocumentRangeFormattingProvider) {
		return nil, &CapabilityError{Method: "textDocument/rangeFormatting"}
	}
	raw, err := s.call(ctx, "textDocument/rangeFormatting", DocumentRangeFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        rng,
		Options:      opts,
	}, CallOptions{Priority: PriorityBackground})
	if err != nil {
		return nil, err
	}
	return parseTextEdits(raw)
}

// SignatureHelp requests signature information at a position.
func (s *Session) SignatureHelp(ctx context.Context, uri DocumentURI, pos Position) (*SignatureHelp, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if s.Capabilities().SignatureHelpProvider == nil {
		return nil, &CapabilityError{Method: "textDocument/signatureHelp"}
	}
	raw, err := s.call(ctx, "textDocument/signatureHelp", SignatureHelpParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
	}, CallOptions{Priority: PriorityInteractive, DebounceKey: uri})
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var help SignatureHelp
	if err := json.Unmarshal(raw, &help); err != nil {
		return nil, &ProtocolError{Reason: "malformed signatureHelp result: " + err.Error()}
	}
	return &help, nil
}

// Rename requests a workspace-wide rename of the symbol at a position.
func (s *Session) Rename(ctx context.Context, uri DocumentURI, pos Position, newName string) (*WorkspaceEdit, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(s.Capabilities().RenameProvider) {
		return nil, &CapabilityError{Method: "textDocument/rename"}
	}
	raw, err := s.call(ctx, "textDocument/rename", RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
		NewName: newName,
	}, CallOptions{Priority: PriorityInteractive})
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var edit WorkspaceEdit
	if err := json.Unmarshal(raw, &edit); err != nil {
		return nil, &ProtocolError{Reason: "malformed rename result: " + err.Error()}
	}
	return &edit, nil
}

// DocumentSymbols requests the symbol outline of a document.
func (s *Session) DocumentSymbols(ctx context.Context, uri DocumentURI) ([]DocumentSymbol, error) {
	if err := s.requireServing(); err != nil {
		return nil, err
	}
	if !HasCapability(s.Capabilities().DocumentSymbolProvider) {
		return nil, &CapabilityError{Method: "textDocument/documentSymbol"}
	}
	raw, err := s.call(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}, CallOptions{Priority: PriorityBackground})
	if err != nil {
		return nil, err
	}
	if isJSONNull(raw) {
		return nil, nil
	}
	var symbols []DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, &ProtocolError{Reason: "malformed documentSymbol result: " + err.Error()}
	}
	return symbols, nil
}

func parseTextEdits(raw json.RawMessage) ([]TextEdit, error) {
	if isJSONNull(raw) {
		return nil, nil
	}
	var edits []TextEdit
	if err := json.Unmarshal(raw, &edits); err != nil {
		return nil, &ProtocolError{Reason: "malformed text edit result: " + err.Error()}
	}
	return edits, nil
}

// SessionStats is a point-in-time snapshot of session health.
type SessionStats struct {
	LanguageID      string
	State           SessionState
	InstanceID      string
	ServerName      string
	Restarts        int
	PendingRequests int
	OpenDocuments   int
}

// Stats reports current session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	rm := s.rm
	instanceID := s.instanceID
	info := s.serverInfo
	s.mu.Unlock()

	stats := SessionStats{
		LanguageID: s.languageID,
		State:      s.State(),
		InstanceID: instanceID,
		Restarts:   int(s.restarts.Load()),
	}
	if info != nil {
		stats.ServerName = info.Name
	}
	if rm != nil {
		stats.PendingRequests = rm.PendingCount()
	}
	if s.sync != nil {
		stats.OpenDocuments = s.sync.Stats().OpenDocuments
	}
	return stats
}
