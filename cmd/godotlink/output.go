package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/danmuck/godotlink/internal/messaging"
	"github.com/danmuck/godotlink/internal/respath"
)

type printer struct {
	w         io.Writer
	up        func(string, ...any) string
	down      func(string, ...any) string
	label     func(string, ...any) string
	secondary func(string, ...any) string
}

func plain(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// wantColor reports whether w is a terminal and colors were not disabled.
func wantColor(w io.Writer, disabled bool) bool {
	if disabled || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newPrinter(w io.Writer, colored bool) *printer {
	p := &printer{w: w, up: plain, down: plain, label: plain, secondary: plain}
	if !colored {
		return p
	}
	mk := func(attrs ...color.Attribute) func(string, ...any) string {
		c := color.New(attrs...)
		c.EnableColor()
		return c.SprintfFunc()
	}
	p.up = mk(color.FgGreen, color.Bold)
	p.down = mk(color.FgRed, color.Bold)
	p.label = mk(color.FgCyan)
	p.secondary = mk(color.Faint)
	return p
}

func (p *printer) state(at time.Time, s messaging.ConnectionState) {
	mark := p.down("%s", s)
	if s == messaging.StateConnected {
		mark = p.up("%s", s)
	}
	fmt.Fprintf(p.w, "%s editor %s\n", p.secondary("%s", at.Format(time.TimeOnly)), mark)
}

func (p *printer) suggestions(resp messaging.CodeCompletionResponse) {
	fmt.Fprintf(p.w, "%s %s\n", p.label("%s", resp.Kind), p.secondary("%s", resp.ScriptFile))
	if len(resp.Suggestions) == 0 {
		fmt.Fprintf(p.w, "  %s\n", p.secondary("(no suggestions)"))
		return
	}
	for _, s := range resp.Suggestions {
		fmt.Fprintf(p.w, "  %s\n", s)
	}
}

func (p *printer) completions(items []respath.Item) {
	if len(items) == 0 {
		fmt.Fprintf(p.w, "%s\n", p.secondary("(no completions)"))
		return
	}
	for _, it := range items {
		fmt.Fprintf(p.w, "%s  %s\n", p.label("%s", it.Label), p.secondary("%s", it.Path))
	}
}
