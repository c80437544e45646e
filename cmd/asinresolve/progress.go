package main

import (
	"fmt"
	"io"
)

// progressPrinter redraws a single status line on terminals and prints
// nothing otherwise.
type progressPrinter struct {
	w       io.Writer
	enabled bool
	drawn   bool
}

func newProgressPrinter(w io.Writer, want bool) *progressPrinter {
	return &progressPrinter{w: w, enabled: want && shouldColorize(w)}
}

func (p *progressPrinter) update(completed, total int, lastTitle string) {
	if !p.enabled {
		return
	}
	percent := 0
	if total > 0 {
		percent = completed * 100 / total
	}
	fmt.Fprintf(p.w, "\r\x1b[2K[%3d%%] %d/%d %s", percent, completed, total, truncate(lastTitle, 50))
	p.drawn = true
}

func (p *progressPrinter) finish() {
	if p.enabled && p.drawn {
		fmt.Fprint(p.w, "\r\x1b[2K")
	}
}
