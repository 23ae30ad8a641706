package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/srg/blepeer/internal/events"
	"github.com/srg/blepeer/internal/gatt"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the current discovery phase with elapsed time.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, ...)
//	p.Start()
//	defer p.Stop()
//
// On a writer that is not a terminal the printer stays silent, so redirected
// output never carries control sequences.
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop is
// safe to call any number of times.
type ProgressPrinter struct {
	out         io.Writer
	interactive bool
	prefix      string
	phase       atomic.Value        // stores string - current phase name
	stopPhases  map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime   time.Time

	mtx      sync.Mutex // serializes writes to out
	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{} // closed when goroutine exits
}

// NewProgressPrinter creates a progress printer that shows elapsed time.
// stopPhases are phase names that will trigger automatic cleanup when set via Callback.
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{})
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:         out,
		interactive: isTerminal(out),
		prefix:      prefix,
		stopPhases:  stopSet,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()

	if !p.interactive {
		close(p.done)
		return
	}

	p.print(p.Phase(), 0)
	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(p.Phase(), int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

// printProgress displays a progress line with optional elapsed seconds
func (p *ProgressPrinter) print(phase string, seconds int) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Phase returns the phase currently displayed.
func (p *ProgressPrinter) Phase() string {
	return p.phase.Load().(string)
}

// Callback returns a progress callback function that updates the phase.
// If the new phase is a stop phase, Stop() is called automatically.
// This function is safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// EventCallback adapts Callback to registry events: every state change becomes
// the displayed phase.
func (p *ProgressPrinter) EventCallback() func(ev events.Event) {
	set := p.Callback()
	return func(ev events.Event) {
		if ev.Kind == events.StateChanged {
			set(phaseName(ev.State))
		}
	}
}

func phaseName(state gatt.DiscState) string {
	return strings.ReplaceAll(state.String(), "_", " ")
}

// Stop stops the progress display and clears the line.
// This function is safe to call multiple times and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if !p.started.Load() {
			return
		}
		<-p.done

		if p.interactive {
			p.mtx.Lock()
			fmt.Fprint(p.out, clearLineSequence)
			p.mtx.Unlock()
		}
	})
}
