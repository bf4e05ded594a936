// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// streamctl packs archives and drives the streaming stack from the
// command line: it streams files through the full stage stack and
// prints what each stage measured.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bureau-foundation/streamer/lib/process"
	"github.com/bureau-foundation/streamer/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

// app holds the output streams shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// styled enables lipgloss colors; set when stdout is a terminal.
	styled bool
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "version") {
		fmt.Fprintf(stdout, "streamctl %s\n", version.Full())
		return nil
	}
	a := &app{stdout: stdout, stderr: stderr, styled: isTerminal(stdout)}
	return a.root().execute(args, stderr)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func (a *app) root() *command {
	return &command{
		name:    "streamctl",
		summary: "Pack archives and stream files through the streaming stack",
		description: `streamctl packs files into streaming archives, lists their contents,
and reads files through the full stage stack (decompressor, dedicated
cache, storage drive), reporting the statistics each stage collected.`,
		subcommands: []*command{
			a.packCommand(),
			a.listCommand(),
			a.readCommand(),
			a.probeCommand(),
			a.configCommand(),
		},
	}
}

// newLogger builds a text handler on a terminal and a JSON handler
// otherwise.
func (a *app) newLogger(level string) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, process.Usagef("invalid --log-level %q: must be debug, info, warn, or error", level)
	}
	options := &slog.HandlerOptions{Level: parsed}
	if isTerminal(a.stderr) {
		return slog.New(slog.NewTextHandler(a.stderr, options)), nil
	}
	return slog.New(slog.NewJSONHandler(a.stderr, options)), nil
}
