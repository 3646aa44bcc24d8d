package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// redrawInterval limits how often the progress line is repainted
const redrawInterval = 200 * time.Millisecond

// ProgressDisplay renders a single line progress indicator for a download.
// The count starts at the records processed by earlier runs and the line
// shows how full the current batch is.
type ProgressDisplay struct {
	mu        sync.Mutex
	out       io.Writer
	label     string
	batchSize int
	seeded    int
	count     int
	inBatch   int
	batches   int
	startTime time.Time
	lastDraw  time.Time
	isDebug   bool
	now       func() time.Time
}

// NewProgressDisplay creates a progress display writing to out
func NewProgressDisplay(out io.Writer, label string, batchSize int, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:       out,
		label:     label,
		batchSize: batchSize,
		startTime: time.Now(),
		isDebug:   debug,
		now:       time.Now,
	}
}

// Seed sets the count of records already processed by earlier runs
func (p *ProgressDisplay) Seed(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seeded = count
	p.count = count
	p.inBatch = 0
	p.startTime = p.now()
}

// Advance records one consumed record
func (p *ProgressDisplay) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count++
	p.inBatch++

	if !p.isDebug && p.now().Sub(p.lastDraw) >= redrawInterval {
		p.printProgress()
	}
}

// BatchWritten marks the current batch as written
func (p *ProgressDisplay) BatchWritten(batch, items int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches++
	p.inBatch = 0

	if p.isDebug {
		fmt.Fprintf(p.out, "%s batch %d • %d records\n", Green("✓"), batch, items)
		return
	}
	p.printProgress()
}

// printProgress repaints the progress line
func (p *ProgressDisplay) printProgress() {
	p.lastDraw = p.now()

	line := fmt.Sprintf("\r%s %d records • %.1f/s • batch %s",
		Cyan(p.label),
		p.count,
		p.rate(),
		p.batchBar(),
	)
	if p.seeded > 0 {
		line += " • " + Dim(fmt.Sprintf("%d resumed", p.seeded))
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

// batchBar draws how full the current batch is
func (p *ProgressDisplay) batchBar() string {
	const width = 20
	if p.batchSize <= 0 {
		return fmt.Sprintf("%d", p.inBatch)
	}
	filled := p.inBatch * width / p.batchSize
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, p.inBatch, p.batchSize)
}

// rate is records per second since Seed, not counting seeded records
func (p *ProgressDisplay) rate() float64 {
	elapsed := p.now().Sub(p.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.count-p.seeded) / elapsed
}

// Complete prints the run summary
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := p.now().Sub(p.startTime)
	fmt.Fprintf(p.out, "\n%s %d records in %d batches from %s\n",
		Green("✓"),
		p.count-p.seeded,
		p.batches,
		p.label,
	)
	fmt.Fprintf(p.out, "  %s %s (%.1f records/s)\n",
		Dim("•"),
		FormatDuration(elapsed),
		p.rate(),
	)
}

// Count returns the number of records consumed, seeded ones included
func (p *ProgressDisplay) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatBytes formats bytes in a human-readable way
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
