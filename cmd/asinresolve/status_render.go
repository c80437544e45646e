package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
)

const checkLabelWidth = 24

// checkPrinter renders doctor and cache health results as aligned
// "label: [STATE] detail" lines.
type checkPrinter struct {
	w        io.Writer
	colorize bool
}

func newCheckPrinter(w io.Writer) *checkPrinter {
	return &checkPrinter{w: w, colorize: shouldColorize(w)}
}

func (p *checkPrinter) section(title string) {
	heading := "== " + strings.TrimSpace(title) + " =="
	p.emit(ansiBlue, heading)
	p.emit(ansiBlue, strings.Repeat("-", len(heading)))
}

func (p *checkPrinter) check(label string, ok bool, detail string) {
	if ok {
		p.emit(ansiGreen, p.line(label, "OK", detail))
		return
	}
	p.emit(ansiRed, p.line(label, "FAIL", detail))
}

func (p *checkPrinter) info(label, detail string) {
	p.emit(ansiBlue, p.line(label, "INFO", detail))
}

func (p *checkPrinter) line(label, state, detail string) string {
	text := "[" + state + "]"
	if detail != "" {
		text += " " + detail
	}
	return fmt.Sprintf("  %-*s %s", checkLabelWidth, label+":", text)
}

func (p *checkPrinter) emit(color, text string) {
	if p.colorize {
		text = color + text + ansiReset
	}
	fmt.Fprintln(p.w, text)
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
