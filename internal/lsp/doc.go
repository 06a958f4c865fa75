// Package lsp implements a Language Server Protocol client core: it
// launches, supervises, and communicates with out-of-process language
// servers (gopls, rust-analyzer, typescript-language-server, etc.) and
// keeps each server's view of open documents consistent with local edits.
//
// # Architecture
//
// The package is layered bottom-up:
//
//   - Transport: Content-Length framing over a subprocess's stdio
//   - Router: classifies decoded frames (request/response/notification)
//   - RequestManager: correlation ids, timeouts, cancellation, debouncing
//   - Synchronizer: per-document version + text, didOpen/didChange/didClose
//   - Session: one server subprocess end-to-end (handshake, capabilities,
//     feature requests, lifecycle state machine)
//   - Registry: languageID -> Session routing and registration lifecycle
//   - HealthMonitor: liveness probing, crash detection, restart with
//     exponential backoff and open-document replay
//
// # Quick Start
//
//	reg := lsp.NewRegistry(lsp.WithRegistryWorkspaceRoot("/path/to/project"))
//	defer reg.Shutdown(context.Background())
//
//	err := reg.Register(ctx, "go", lsp.ServerConfig{
//	    Command: "gopls",
//	    Args:    []string{"serve"},
//	})
//
//	err = reg.OpenFile("/path/to/file.go", content)
//	items, err := reg.Completion(ctx, "/path/to/file.go", lsp.Position{Line: 10, Character: 5})
//
// # Concurrency
//
// Each Session's mutable state is confined to that Session and accessed
// through serialized operations; sessions for different languages proceed
// fully in parallel. No call blocks beyond its configured timeout. The
// Registry and Session types are safe for concurrent use.
//
// # Crash Recovery
//
// Sessions run under a HealthMonitor that probes responsiveness on a fixed
// cadence. A crashed or unresponsive server is restarted with exponential
// backoff, and all open documents are replayed (fresh didOpen with current
// text) before the session is considered running again.
package lsp
