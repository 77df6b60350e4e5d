package batch

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Progress animates "<frame> [done/total] message" on a terminal line.
type Progress struct {
	w     io.Writer
	total int

	mu      sync.Mutex
	done    int
	failed  int
	message string

	stop    chan struct{}
	cleared chan struct{}
	once    sync.Once
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// StartProgress starts drawing on w. It returns nil when w is not a
// terminal; a nil *Progress is safe to use.
func StartProgress(w io.Writer, total int) *Progress {
	if !IsTerminal(w) {
		return nil
	}
	p := &Progress{
		w:       w,
		total:   total,
		stop:    make(chan struct{}),
		cleared: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Progress) loop() {
	width := 0
	for i := 0; ; i++ {
		select {
		case <-p.stop:
			fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", width)) //nolint:errcheck
			close(p.cleared)
			return
		case <-time.After(80 * time.Millisecond):
			line := p.line(frames[i%len(frames)])
			width = max(width, len(line))
			fmt.Fprintf(p.w, "\r%-*s", width, line) //nolint:errcheck
		}
	}
}

func (p *Progress) line(frame string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := fmt.Sprintf("%s [%d/%d] %s", frame, p.done, p.total, p.message)
	if p.failed > 0 {
		s += fmt.Sprintf(" (%d failed)", p.failed)
	}
	return s
}

// Observe records a finished job. It matches [Runner.OnDone].
func (p *Progress) Observe(out Outcome) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if out.Status == StatusFailed {
		p.failed++
	}
	p.message = out.PaperID + " " + out.RNAID
}

// Stop clears the line.
func (p *Progress) Stop() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.stop) })
	<-p.cleared
}
