package lsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry owns one Session per language and routes file-path based
// operations to the right server. Each registered session gets its own
// health monitor; their events are fanned into a single stream.
type Registry struct {
	log           *slog.Logger
	workspaceRoot string
	health        HealthConfig
	sessionOpts   []SessionOption

	mu       sync.RWMutex
	sessions map[string]*registeredServer

	events chan HealthEvent
	wg     sync.WaitGroup
}

type registeredServer struct {
	session *Session
	monitor *HealthMonitor
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// WithRegistryWorkspaceRoot sets the workspace root handed to every session.
func WithRegistryWorkspaceRoot(path string) RegistryOption {
	return func(r *Registry) { r.workspaceRoot = path }
}

// WithHealthConfig overrides recovery tuning for all sessions.
func WithHealthConfig(cfg HealthConfig) RegistryOption {
	return func(r *Registry) { r.health = cfg }
}

// WithSessionOptions appends options applied to every session the registry
// creates.
func WithSessionOptions(opts ...SessionOption) RegistryOption {
	return func(r *Registry) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:      slog.Default(),
		health:   DefaultHealthConfig(),
		sessions: make(map[string]*registeredServer),
		events:   make(chan HealthEvent, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "registry")
	return r
}

// Register starts a language server for languageID and begins monitoring
// it. Registering a language that already has a server fails with
// ErrServerAlreadyRegistered.
func (r *Registry) Register(ctx context.Context, languageID string, config ServerConfig) error {
	r.mu.Lock()
	if _, exists := r.sessions[languageID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("register %s: %w", languageID, ErrServerAlreadyRegistered)
	}
	// Reserve the slot so concurrent registrations of the same language
	// fail fast while this one starts up.
	r.sessions[languageID] = nil
	r.mu.Unlock()

	opts := []SessionOption{WithLogger(r.log)}
	if r.workspaceRoot != "" {
		opts = append(opts, WithWorkspaceRoot(r.workspaceRoot))
	}
	opts = append(opts, r.sessionOpts...)

	session := NewSession(languageID, config, opts...)
	monitor := NewHealthMonitor(session, r.health, r.log)

	if err := session.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, languageID)
		r.mu.Unlock()
		return &ServerStartFailedError{LanguageID: languageID, Attempts: 1, Err: err}
	}

	monitor.Start()
	r.wg.Add(1)
	go r.forwardEvents(monitor)

	r.mu.Lock()
	r.sessions[languageID] = &registeredServer{session: session, monitor: monitor}
	r.mu.Unlock()

	r.log.Info("server registered", "language", languageID, "command", config.Command)
	return nil
}

// forwardEvents fans one monitor's events into the registry stream.
func (r *Registry) forwardEvents(monitor *HealthMonitor) {
	defer r.wg.Done()
	for ev := range monitor.Events() {
		select {
		case r.events <- ev:
		default:
		}
	}
}

// Unregister shuts down the server for languageID. Unregistering an
// unknown language is a no-op.
func (r *Registry) Unregister(ctx context.Context, languageID string) error {
	r.mu.Lock()
	entry := r.sessions[languageID]
	delete(r.sessions, languageID)
	r.mu.Unlock()

	if entry == nil {
		return nil
	}
	entry.monitor.Stop()
	return entry.session.Shutdown(ctx)
}

// Events returns the merged health event stream of all sessions.
func (r *Registry) Events() <-chan HealthEvent {
	return r.events
}

// Session returns the session serving languageID.
func (r *Registry) Session(languageID string) (*Session, error) {
	r.mu.RLock()
	entry := r.sessions[languageID]
	r.mu.RUnlock()
	if entry == nil {
		return nil, fmt.Errorf("language %q: %w", languageID, ErrNoServerForLanguage)
	}
	return entry.session, nil
}

// SessionForPath returns the session serving the file's language.
func (r *Registry) SessionForPath(path string) (*Session, error) {
	languageID := DetectLanguageID(path)
	if languageID == "" {
		return nil, fmt.Errorf("path %q: %w", path, ErrNoServerForLanguage)
	}
	return r.Session(languageID)
}

// Languages lists registered language IDs, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.sessions))
	for lang, entry := range r.sessions {
		if entry != nil {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	return langs
}

// Stats reports a snapshot of every registered session.
func (r *Registry) Stats() []SessionStats {
	r.mu.RLock()
	entries := make([]*registeredServer, 0, len(r.sessions))
	for _, entry := range r.sessions {
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	r.mu.RUnlock()

	stats := make([]SessionStats, 0, len(entries))
	for _, entry := range entries {
		stats = append(stats, entry.session.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].LanguageID < stats[j].LanguageID })
	return stats
}

// Shutdown stops every monitor and session. Errors are joined; shutdown
// continues past individual failures.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*registeredServer, 0, len(r.sessions))
	for _, entry := range r.sessions {
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	r.sessions = make(map[string]*registeredServer)
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		entry.monitor.Stop()
		if err := entry.session.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Path-based document operations ---

// OpenFile opens a document with the server for its language.
func (r *Registry) OpenFile(path, content string) error {
	session, err := r.SessionForPath(path)
	if err != nil {
		return err
	}
	return session.OpenDocument(FilePathToURI(path), content)
}

// ChangeFile applies edits to an open document.
func (r *Registry) ChangeFile(path string, edits []TextEdit) error {
	session, err := r.SessionForPath(path)
	if err != nil {
		return err
	}
	return session.ChangeDocument(FilePathToURI(path), edits)
}

// SaveFile notifies the server the document was saved.
func (r *Registry) SaveFile(path string) error {
	session, err := r.SessionForPath(path)
	if err != nil {
		return err
	}
	return session.SaveDocument(FilePathToURI(path))
}

// CloseFile closes an open document.
func (r *Registry) CloseFile(path string) error {
	session, err := r.SessionForPath(path)
	if err != nil {
		return err
	}
	return session.CloseDocument(FilePathToURI(path))
}

// DiagnosticsFor returns the latest diagnostics for a file.
func (r *Registry) DiagnosticsFor(path string) []Diagnostic {
	session, err := r.SessionForPath(path)
	if err != nil {
		return nil
	}
	return session.Diagnostics(FilePathToURI(path))
}

// Completion requests completions in a file.
func (r *Registry) Completion(ctx context.Context, path string, pos Position) (*CompletionList, error) {
	session, err := r.SessionForPath(path)
	if err != nil {
		return nil, err
	}
	return session.Completion(ctx, FilePathToURI(path), pos)
}

// Hover requests hover information in a file.
func (r *Registry) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	session, err := r.SessionForPath(path)
	if err != nil {
		return nil, err
	}
	return session.Hover(ctx, FilePathToURI(path), pos)
}

// Definition requests definition locations in a file.
func (r *Registry) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	session, err := r.SessionForPath(path)
	if err != nil {
		return nil, err
	}
	return session.Definition(ctx, FilePathToURI(path), pos)
}

// References requests symbol references in a file.
func (r *Registry) References(ctx context.Context, path string, pos Position, includeDeclaration bool) ([]Location, error) {
	session, err := r.SessionForPath(path)
	if err != nil {
		return nil, err
	}
	return session.References(ctx, FilePathToURI(path), pos, includeDeclaration)
}

// Formatting requests whole-file formatting edits.
func (r *Registry) Formatting(ctx context.Context, path string, opts FormattingOptions) ([]TextEdit, error) {
	session, err := r.SessionForPath(path)
	if err != nil {
		return nil, err
	}
	return session.Formatting(ctx, FilePathToURI(path), opts)
}
