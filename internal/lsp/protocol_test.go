package lsp

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePathToURIRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	uri := FilePathToURI("/home/dev/project/main.go")
	assert.Equal(t, DocumentURI("file:///home/dev/project/main.go"), uri)
	assert.Equal(t, "/home/dev/project/main.go", URIToFilePath(uri))
}

func TestURIToFilePathNonFileScheme(t *testing.T) {
	assert.Equal(t, "untitled:Untitled-1", URIToFilePath("untitled:Untitled-1"))
}

func TestParseCompletionResult(t *testing.T) {
	t.Run("null", func(t *testing.T) {
		list, err := ParseCompletionResult(json.RawMessage("null"))
		require.NoError(t, err)
		assert.Empty(t, list.Items)
	})

	t.Run("list form", func(t *testing.T) {
		list, err := ParseCompletionResult(json.RawMessage(`{"isIncomplete":true,"items":[{"label":"Println"}]}`))
		require.NoError(t, err)
		assert.True(t, list.IsIncomplete)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "Println", list.Items[0].Label)
	})

	t.Run("bare array form", func(t *testing.T) {
		list, err := ParseCompletionResult(json.RawMessage(`[{"label":"a"},{"label":"b"}]`))
		require.NoError(t, err)
		assert.False(t, list.IsIncomplete)
		assert.Len(t, list.Items, 2)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseCompletionResult(json.RawMessage(`"what"`))
		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr)
	})
}

func TestParseLocationResult(t *testing.T) {
	t.Run("single location", func(t *testing.T) {
		locs, err := ParseLocationResult(json.RawMessage(`{"uri":"file:///a.go","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`))
		require.NoError(t, err)
		require.Len(t, locs, 1)
		assert.Equal(t, DocumentURI("file:///a.go"), locs[0].URI)
		assert.Equal(t, 1, locs[0].Range.Start.Line)
	})

	t.Run("location array", func(t *testing.T) {
		locs, err := ParseLocationResult(json.RawMessage(`[{"uri":"file:///a.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":0}}},{"uri":"file:///b.go","range":{"start":{"line":3,"character":0},"end":{"line":3,"character":4}}}]`))
		require.NoError(t, err)
		assert.Len(t, locs, 2)
	})

	t.Run("location links", func(t *testing.T) {
		locs, err := ParseLocationResult(json.RawMessage(`[{"targetUri":"file:///c.go","targetRange":{"start":{"line":7,"character":0},"end":{"line":7,"character":9}},"targetSelectionRange":{"start":{"line":7,"character":5},"end":{"line":7,"character":9}}}]`))
		require.NoError(t, err)
		require.Len(t, locs, 1)
		assert.Equal(t, DocumentURI("file:///c.go"), locs[0].URI)
		assert.Equal(t, 7, locs[0].Range.Start.Line)
	})

	t.Run("null", func(t *testing.T) {
		locs, err := ParseLocationResult(json.RawMessage("null"))
		require.NoError(t, err)
		assert.Empty(t, locs)
	})
}

func TestParseHoverResult(t *testing.T) {
	t.Run("markup content", func(t *testing.T) {
		h, err := ParseHoverResult(json.RawMessage(`{"contents":{"kind":"markdown","value":"**doc**"}}`))
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, "**doc**", h.Contents.Value)
		assert.Equal(t, MarkupKindMarkdown, h.Contents.Kind)
	})

	t.Run("plain string contents", func(t *testing.T) {
		h, err := ParseHoverResult(json.RawMessage(`{"contents":"plain doc"}`))
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, "plain doc", h.Contents.Value)
	})

	t.Run("null", func(t *testing.T) {
		h, err := ParseHoverResult(json.RawMessage("null"))
		require.NoError(t, err)
		assert.Nil(t, h)
	})
}

func TestHasCapability(t *testing.T) {
	assert.False(t, HasCapability(nil))
	assert.False(t, HasCapability(false))
	assert.True(t, HasCapability(true))
	assert.True(t, HasCapability(map[string]any{"workDoneProgress": true}))
}

func TestNegotiatedSyncKind(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		assert.Equal(t, SyncNone, NegotiatedSyncKind(ServerCapabilities{}))
	})

	t.Run("bare number from JSON", func(t *testing.T) {
		var caps ServerCapabilities
		require.NoError(t, json.Unmarshal([]byte(`{"textDocumentSync":2}`), &caps))
		assert.Equal(t, SyncIncremental, NegotiatedSyncKind(caps))
	})

	t.Run("options object from JSON", func(t *testing.T) {
		var caps ServerCapabilities
		require.NoError(t, json.Unmarshal([]byte(`{"textDocumentSync":{"openClose":true,"change":1}}`), &caps))
		assert.Equal(t, SyncFull, NegotiatedSyncKind(caps))
	})
}

func TestSaveWantsText(t *testing.T) {
	var caps ServerCapabilities
	require.NoError(t, json.Unmarshal([]byte(`{"textDocumentSync":{"change":2,"save":{"includeText":true}}}`), &caps))
	assert.True(t, SaveWantsText(caps))

	require.NoError(t, json.Unmarshal([]byte(`{"textDocumentSync":{"change":2,"save":true}}`), &caps))
	assert.False(t, SaveWantsText(caps))

	assert.False(t, SaveWantsText(ServerCapabilities{}))
}

func TestDiagnosticSeverityString(t *testing.T) {
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "information", SeverityInformation.String())
	assert.Equal(t, "hint", SeverityHint.String())
	assert.Equal(t, "unknown", DiagnosticSeverity(42).String())
}
