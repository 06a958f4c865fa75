package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lspcore/internal/lsp"
)

var checkWait time.Duration

var checkCmd = &cobra.Command{
	Use:   "check <file>...",
	Short: "Open files with their language servers and print diagnostics",
	Long: `check starts the language server for each file's language, opens the
files, waits for diagnostics to arrive, and prints them. The exit code is
non-zero when any error-severity diagnostic is reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().DurationVar(&checkWait, "wait", 3*time.Second, "how long to wait for diagnostics")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		paths = append(paths, abs)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	reg := newRegistry(cfg, filepath.Dir(paths[0]))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(shutdownCtx)
	}()

	if _, err := registerForFiles(ctx, reg, serverEntries(cfg), paths); err != nil {
		return err
	}

	src := lsp.FileSource{}
	opened := []string{}
	for _, path := range paths {
		if err := reg.OpenFromSource(src, path); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", path, err)
			continue
		}
		opened = append(opened, path)
	}
	if len(opened) == 0 {
		return fmt.Errorf("no files could be opened")
	}

	// Diagnostics arrive asynchronously after didOpen.
	time.Sleep(checkWait)

	errorCount := 0
	for _, path := range opened {
		diags := reg.DiagnosticsFor(path)
		for _, d := range diags {
			if d.Severity == lsp.SeverityError || d.Severity == 0 {
				errorCount++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d:%d: %s: %s\n",
				path, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
		}
	}

	if errorCount > 0 {
		return fmt.Errorf("%d error(s)", errorCount)
	}
	return nil
}
