package lsp

import (
	"fmt"
	"log/slog"
	"sync"
)

// Synchronizer keeps the server's view of open documents aligned with the
// editor's. It owns the authoritative local copy of every open document's
// text and version, emits the didOpen/didChange/didClose/didSave
// notifications, and decides per change batch whether to send incremental
// edits or the full document text.
type Synchronizer struct {
	rm  *RequestManager
	log *slog.Logger

	mu   sync.Mutex
	docs map[DocumentURI]*documentState

	// Negotiated during the initialize handshake, before any document
	// is opened.
	syncKind      TextDocumentSyncKind
	saveWantsText bool

	// fullSyncThreshold is the fraction of the document size above which
	// a change batch is sent as a full-text replacement even when the
	// server supports incremental sync.
	fullSyncThreshold float64
}

type documentState struct {
	uri        DocumentURI
	languageID string
	text       string
	version    int
}

// DocumentSnapshot is a point-in-time copy of an open document, used to
// replay didOpen notifications after a server restart.
type DocumentSnapshot struct {
	URI        DocumentURI
	LanguageID string
	Text       string
	Version    int
}

// SyncStats reports document synchronizer counters.
type SyncStats struct {
	OpenDocuments int
}

// NewSynchronizer creates a synchronizer that sends notifications through rm.
func NewSynchronizer(rm *RequestManager, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		rm:                rm,
		log:               log.With("component", "sync"),
		docs:              make(map[DocumentURI]*documentState),
		syncKind:          SyncFull,
		fullSyncThreshold: 1.0 / 3.0,
	}
}

// SetCapabilities records the negotiated sync behavior. Called once after
// the initialize handshake, before any document is opened.
func (s *Synchronizer) SetCapabilities(kind TextDocumentSyncKind, saveWantsText bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncKind = kind
	s.saveWantsText = saveWantsText
}

// Rebind points the synchronizer at a new request manager. Used after a
// crashed server is restarted on a fresh transport.
func (s *Synchronizer) Rebind(rm *RequestManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rm = rm
}

// Open registers a document and sends textDocument/didOpen with version 1.
// Re-opening a document after Close starts the version sequence over.
//
// Every sender below holds s.mu across the Notify: document notifications
// must reach the wire in the order their versions were assigned, so the
// mutation and its send form one critical section.
func (s *Synchronizer) Open(uri DocumentURI, languageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[uri]; ok {
		return fmt.Errorf("open %s: %w", uri, ErrDocumentAlreadyOpen)
	}
	s.docs[uri] = &documentState{uri: uri, languageID: languageID, text: text, version: 1}

	err := s.rm.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	})
	if err != nil {
		delete(s.docs, uri)
		return err
	}

	s.log.Debug("document opened", "uri", uri, "language", languageID, "bytes", len(text))
	return nil
}

// Change applies a batch of edits to an open document, bumps its version,
// and sends exactly one textDocument/didChange. Edits apply sequentially:
// each range addresses the document as left by the preceding edit. The
// notification carries incremental ranges when the server negotiated
// incremental sync and the batch touches at most a third of the document;
// otherwise it carries the full updated text.
func (s *Synchronizer) Change(uri DocumentURI, edits []TextEdit) error {
	if len(edits) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return fmt.Errorf("change %s: %w", uri, ErrDocumentNotOpen)
	}

	baseSize := len(doc.text)
	touched := 0
	changes := make([]TextDocumentContentChangeEvent, 0, len(edits))
	for _, e := range edits {
		rng := e.Range
		updated, n := applyEdit(doc.text, rng, e.NewText)
		doc.text = updated
		touched += n
		changes = append(changes, TextDocumentContentChangeEvent{
			Range: &rng,
			Text:  e.NewText,
		})
	}
	doc.version++

	full := s.syncKind != SyncIncremental ||
		(baseSize > 0 && float64(touched) > s.fullSyncThreshold*float64(baseSize)) ||
		baseSize == 0
	if full {
		changes = []TextDocumentContentChangeEvent{{Text: doc.text}}
	}

	err := s.rm.Notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                doc.version,
		},
		ContentChanges: changes,
	})
	if err != nil {
		return err
	}

	s.log.Debug("document changed",
		"uri", uri, "version", doc.version, "edits", len(edits), "full", full)
	return nil
}

// Rewrite replaces the document's entire text, bumps its version, and sends
// a single full-text didChange regardless of the negotiated sync kind.
func (s *Synchronizer) Rewrite(uri DocumentURI, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return fmt.Errorf("rewrite %s: %w", uri, ErrDocumentNotOpen)
	}
	doc.text = text
	doc.version++

	return s.rm.Notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                doc.version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
}

// Save sends textDocument/didSave, including the document text when the
// server asked for it during the handshake.
func (s *Synchronizer) Save(uri DocumentURI) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return fmt.Errorf("save %s: %w", uri, ErrDocumentNotOpen)
	}
	params := DidSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	if s.saveWantsText {
		text := doc.text
		params.Text = &text
	}

	return s.rm.Notify("textDocument/didSave", params)
}

// Close sends textDocument/didClose and forgets the document. Closing a
// document that is not open is an error; the caller's bookkeeping is off.
func (s *Synchronizer) Close(uri DocumentURI) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[uri]; !ok {
		return fmt.Errorf("close %s: %w", uri, ErrDocumentNotOpen)
	}
	delete(s.docs, uri)

	return s.rm.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// Document returns the local copy of an open document's text and version.
func (s *Synchronizer) Document(uri DocumentURI) (text string, version int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return "", 0, false
	}
	return doc.text, doc.version, true
}

// Snapshot returns copies of every open document, for crash-recovery replay.
func (s *Synchronizer) Snapshot() []DocumentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DocumentSnapshot, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, DocumentSnapshot{
			URI:        doc.uri,
			LanguageID: doc.languageID,
			Text:       doc.text,
			Version:    doc.version,
		})
	}
	return out
}

// Replay re-announces every snapshotted document to a freshly started
// server via didOpen, preserving the version each document had reached.
// Used after crash recovery; the local document table is rebuilt from the
// snapshot so intervening Close calls are respected.
func (s *Synchronizer) Replay(snaps []DocumentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[DocumentURI]*documentState, len(snaps))
	for _, snap := range snaps {
		s.docs[snap.URI] = &documentState{
			uri:        snap.URI,
			languageID: snap.LanguageID,
			text:       snap.Text,
			version:    snap.Version,
		}
	}

	for _, snap := range snaps {
		err := s.rm.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        snap.URI,
				LanguageID: snap.LanguageID,
				Version:    snap.Version,
				Text:       snap.Text,
			},
		})
		if err != nil {
			return fmt.Errorf("replay %s: %w", snap.URI, err)
		}
	}

	s.log.Info("documents replayed", "count", len(snaps))
	return nil
}

// Stats reports synchronizer counters.
func (s *Synchronizer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStats{OpenDocuments: len(s.docs)}
}
