package lsp

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectLanguageID infers the LSP language identifier from a file path.
// Returns "" when the extension is unknown.
func DetectLanguageID(path string) string {
	return LanguageIDForExtension(filepath.Ext(path))
}

// LanguageIDForExtension returns the language ID for a file extension.
func LanguageIDForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return extensionLanguages[ext]
}

var extensionLanguages = map[string]string{
	"go":     "go",
	"rs":     "rust",
	"ts":     "typescript",
	"tsx":    "typescriptreact",
	"js":     "javascript",
	"jsx":    "javascriptreact",
	"py":     "python",
	"c":      "c",
	"h":      "c",
	"cpp":    "cpp",
	"cc":     "cpp",
	"cxx":    "cpp",
	"hpp":    "cpp",
	"java":   "java",
	"rb":     "ruby",
	"php":    "php",
	"swift":  "swift",
	"kt":     "kotlin",
	"scala":  "scala",
	"lua":    "lua",
	"sh":     "shellscript",
	"bash":   "shellscript",
	"zsh":    "shellscript",
	"json":   "json",
	"yaml":   "yaml",
	"yml":    "yaml",
	"xml":    "xml",
	"html":   "html",
	"css":    "css",
	"md":     "markdown",
	"sql":    "sql",
	"cs":     "csharp",
	"dart":   "dart",
	"ex":     "elixir",
	"exs":    "elixir",
	"erl":    "erlang",
	"hs":     "haskell",
	"ml":     "ocaml",
	"clj":    "clojure",
	"proto":  "protobuf",
	"tf":     "terraform",
	"vue":    "vue",
	"svelte": "svelte",
	"zig":    "zig",
	"jl":     "julia",
}

// DefaultServerConfigs returns launch configurations for common language
// servers, keyed by language ID.
func DefaultServerConfigs() map[string]ServerConfig {
	return map[string]ServerConfig{
		"go": {
			Command: "gopls",
			Args:    []string{"serve"},
		},
		"rust": {
			Command: "rust-analyzer",
		},
		"typescript": {
			Command: "typescript-language-server",
			Args:    []string{"--stdio"},
		},
		"javascript": {
			Command: "typescript-language-server",
			Args:    []string{"--stdio"},
		},
		"python": {
			Command: "pylsp",
		},
		"c": {
			Command: "clangd",
		},
		"cpp": {
			Command: "clangd",
		},
		"zig": {
			Command: "zls",
		},
	}
}

// AutoDetectServers returns the subset of DefaultServerConfigs whose
// commands are present on PATH.
func AutoDetectServers() map[string]ServerConfig {
	available := make(map[string]ServerConfig)
	for lang, config := range DefaultServerConfigs() {
		if _, err := exec.LookPath(config.Command); err == nil {
			available[lang] = config
		}
	}
	return available
}

// WorkspaceFolderFromPath creates a workspace folder from a directory path.
func WorkspaceFolderFromPath(path string) WorkspaceFolder {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return WorkspaceFolder{
		URI:  FilePathToURI(abs),
		Name: filepath.Base(abs),
	}
}

// FindWorkspaceRoot walks upward from start looking for a project marker
// (go.mod, Cargo.toml, package.json, pyproject.toml, .git). Returns start
// when no marker is found.
func FindWorkspaceRoot(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	markers := []string{"go.mod", "Cargo.toml", "package.json", "pyproject.toml", ".git"}

	dir := abs
	for {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		dir = parent
	}
}
