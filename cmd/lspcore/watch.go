package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dshills/lspcore/internal/lsp"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and stream diagnostics as files change",
	Long: `watch monitors a directory tree, opens changed files with their
language servers, and prints diagnostics as they are published. Servers
are started lazily when the first file of a language changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// skipDirs are subtrees never worth watching.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	".idea":        true,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	reg := newRegistry(cfg, root, lsp.WithDiagnosticsFunc(func(uri lsp.DocumentURI, diags []lsp.Diagnostic) {
		path := lsp.URIToFilePath(uri)
		if len(diags) == 0 {
			fmt.Fprintf(out, "%s: clean\n", path)
			return
		}
		for _, d := range diags {
			fmt.Fprintf(out, "%s:%d:%d: %s: %s\n",
				path, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
		}
	}))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(shutdownCtx)
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addWatchTree(watcher, root); err != nil {
		return err
	}

	// Surface crash/recovery activity alongside diagnostics.
	go func() {
		for ev := range reg.Events() {
			fmt.Fprintf(out, "[%s] server %s: %s\n", ev.At.Format(time.TimeOnly), ev.LanguageID, ev.Type)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entries := serverEntries(cfg)
	src := lsp.FileSource{}
	opened := map[string]bool{}

	fmt.Fprintf(out, "watching %s\n", root)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addWatchTree(watcher, ev.Name)
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := handleFileChange(ctx, reg, entries, src, opened, ev.Name); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", ev.Name, err)
			}
		}
	}
}

func handleFileChange(ctx context.Context, reg *lsp.Registry, entries map[string]lsp.ServerConfig, src lsp.FileSource, opened map[string]bool, path string) error {
	lang := lsp.DetectLanguageID(path)
	if lang == "" {
		return nil
	}
	entry, ok := entries[lang]
	if !ok {
		return nil
	}

	if _, err := reg.Session(lang); err != nil {
		if err := reg.Register(ctx, lang, entry); err != nil && !isAlreadyRegistered(err) {
			return err
		}
	}

	if opened[path] {
		return reg.RefreshFromSource(src, path)
	}
	if err := reg.OpenFromSource(src, path); err != nil {
		return err
	}
	opened[path] = true
	return nil
}

// addWatchTree registers path and every subdirectory with the watcher.
func addWatchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if skipDirs[name] || (strings.HasPrefix(name, ".") && path != root) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
