package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/lspcore/internal/lsp"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured and auto-detected language servers",
	RunE:  runServers,
}

func init() {
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	detected := lsp.AutoDetectServers()
	entries := serverEntries(cfg)

	langs := make([]string, 0, len(entries))
	for lang := range entries {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	out := cmd.OutOrStdout()
	if len(langs) == 0 {
		fmt.Fprintln(out, "no language servers configured or detected")
		return nil
	}

	for _, lang := range langs {
		entry := entries[lang]
		source := "configured"
		if _, ok := cfg.Languages[lang]; !ok {
			if _, ok := detected[lang]; ok {
				source = "detected"
			}
		}
		command := entry.Command
		if len(entry.Args) > 0 {
			command += " " + strings.Join(entry.Args, " ")
		}
		fmt.Fprintf(out, "%-16s %-10s %s\n", lang, source, command)
	}
	return nil
}
