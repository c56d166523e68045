package embedding

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints a single, continuously rewritten status line while
// batches complete. Batch workers call Add concurrently.
type ProgressTracker struct {
	mu sync.Mutex
	w  io.Writer

	total, done, cached int
	every, next         int

	began time.Time
}

// NewProgressTracker reports to w every reportInterval records out of total.
// A nil writer discards output.
func NewProgressTracker(w io.Writer, total, reportInterval int) *ProgressTracker {
	if w == nil {
		w = io.Discard
	}
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{w: w, total: total, every: reportInterval}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.began = time.Now()
	p.done, p.cached = 0, 0
	p.next = p.every
}

// Add records a finished batch of n records, cached of which were cache hits.
// Calls before Start are ignored.
func (p *ProgressTracker) Add(n, cached int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return
	}
	p.done = min(p.done+n, p.total)
	p.cached += cached
	if p.done >= p.next {
		p.printLocked()
		for p.next <= p.done {
			p.next += p.every
		}
	}
}

// Finish prints the final line and ends it.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return
	}
	p.done = p.total
	p.printLocked()
	fmt.Fprintln(p.w)
}

// Elapsed is the time since Start, or zero before it.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return 0
	}
	return time.Since(p.began)
}

func (p *ProgressTracker) printLocked() {
	elapsed := time.Since(p.began)

	var pct float64
	if p.total > 0 {
		pct = 100 * float64(p.done) / float64(p.total)
	}

	eta := "-"
	if p.done > 0 && p.done < p.total {
		left := time.Duration(float64(elapsed) / float64(p.done) * float64(p.total-p.done))
		eta = left.Round(time.Second).String()
	}

	fmt.Fprintf(p.w, "\rEmbedded %d/%d records (%.1f%%), %d cached, eta %s",
		p.done, p.total, pct, p.cached, eta)
}
