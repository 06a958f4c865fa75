package lsp

import (
	"fmt"
	"os"
)

// TextSource supplies document content to the synchronizer. The owner of
// the text is external; the sessions only mirror it. An editor supplies
// its buffer contents, a batch tool reads from disk.
type TextSource interface {
	// ReadText returns the current content of the document at path.
	ReadText(path string) (string, error)
}

// FileSource is a TextSource backed by the filesystem.
type FileSource struct{}

// ReadText reads the file at path.
func (FileSource) ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// OpenFromSource opens a file with its language server, pulling the content
// from src. Convenience for tools that track documents on disk.
func (r *Registry) OpenFromSource(src TextSource, path string) error {
	content, err := src.ReadText(path)
	if err != nil {
		return err
	}
	return r.OpenFile(path, content)
}

// RefreshFromSource re-reads a document from src and syncs the server with
// one full-text change. Used by watch tooling when a file changes on disk.
func (r *Registry) RefreshFromSource(src TextSource, path string) error {
	content, err := src.ReadText(path)
	if err != nil {
		return err
	}
	session, err := r.SessionForPath(path)
	if err != nil {
		return err
	}
	return session.Synchronizer().Rewrite(FilePathToURI(path), content)
}
