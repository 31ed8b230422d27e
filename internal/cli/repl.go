package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/comigor/floatchat-go/internal/logger"
)

// REPL reads lines with history and editing and hands them to a Session.
type REPL struct {
	session     *Session
	line        *liner.State
	out         io.Writer
	palette     Palette
	historyFile string
}

// NewREPL takes over the terminal until Close is called.
func NewREPL(session *Session, out io.Writer, palette Palette, historyFile string) *REPL {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &REPL{session: session, line: line, out: out, palette: palette, historyFile: historyFile}
	r.loadHistory()
	return r
}

func (r *REPL) loadHistory() {
	if r.historyFile == "" {
		return
	}
	if f, err := os.Open(r.historyFile); err == nil {
		if _, err := r.line.ReadHistory(f); err != nil {
			logger.L.Debug("could not read input history", "file", r.historyFile, "error", err)
		}
		f.Close()
	}
}

func (r *REPL) saveHistory() {
	if r.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := r.line.WriteHistory(f); err != nil {
		logger.L.Debug("could not write input history", "file", r.historyFile, "error", err)
	}
}

// Run reads until /quit, Ctrl+C, Ctrl+D or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, r.palette.Title.Render("FloatChat")+" "+r.palette.Muted.Render("ARGO float data, in plain language. /help for commands."))
	if err := r.session.Execute(ctx, "/examples"); err != nil {
		return err
	}

	for ctx.Err() == nil {
		input, err := r.line.Prompt("floatchat> ")
		if err != nil {
			// ErrPromptAborted (Ctrl+C), io.EOF (Ctrl+D) and read errors all end the session
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				logger.L.Warn("prompt failed", "error", err)
			}
			fmt.Fprintln(r.out)
			return nil
		}
		if strings.TrimSpace(input) != "" {
			r.line.AppendHistory(input)
		}

		if err := r.session.Execute(ctx, input); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(r.out, "%s %v\n", r.palette.Error.Render("[Error]"), err)
		}
	}
	return nil
}

// Close saves the input history and restores the terminal.
func (r *REPL) Close() error {
	r.saveHistory()
	return r.line.Close()
}

// Shutdown lets the DI container restore the terminal.
func (r *REPL) Shutdown() error { return r.Close() }
