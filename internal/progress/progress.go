package progress

import (
	"fmt"
	"io"
	"strings"

	"segtransfer/internal/session"
)

// Reporter renders transfer progress on the console. It consumes
// session events, so the display advances per segment verdict instead
// of on a timer.
type Reporter struct {
	out      io.Writer
	total    int
	received int
	errors   int
}

// NewReporter creates a console progress reporter writing to out.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Sink returns the event sink that drives this reporter.
func (r *Reporter) Sink() session.Sink {
	return r.handle
}

func (r *Reporter) handle(ev session.Event) {
	switch e := ev.(type) {
	case session.TransferStart:
		r.total = e.TotalSegments
		r.received = 0
		r.errors = 0
		fmt.Fprintf(r.out, "Transferring %s (%d bytes, %d segments)\n",
			e.Filename, e.FileSize, e.TotalSegments)
		r.drawBar()
	case session.SegmentStatus:
		switch e.Status {
		case session.StatusError:
			r.errors++
			fmt.Fprintf(r.out, "\r%-70s\n", fmt.Sprintf("  ! segment %d: %s", e.SeqNum, e.Message))
		case session.StatusRetry:
			r.received++
			fmt.Fprintf(r.out, "\r%-70s\n", fmt.Sprintf("  + segment %d recovered: %s", e.SeqNum, e.Message))
		default:
			r.received++
		}
		r.drawBar()
	case session.TransferComplete:
		fmt.Fprintln(r.out)
		if e.Success {
			fmt.Fprintf(r.out, "Transfer of %s complete: %d segments, %d corruption events, %.2f KB/s\n",
				e.Filename, e.TotalSegments, e.Stats.ErrorsDetected, e.Stats.Rate()/1024)
		} else {
			fmt.Fprintf(r.out, "Transfer of %s failed: %s\n", e.Filename, e.Reason)
		}
	}
}

// drawBar redraws the progress bar in place.
func (r *Reporter) drawBar() {
	if r.total <= 0 {
		return
	}

	percent := float64(r.received) / float64(r.total) * 100

	const barWidth = 30
	completedWidth := int(float64(barWidth) * percent / 100)
	if completedWidth > barWidth {
		completedWidth = barWidth
	}
	bar := strings.Repeat("█", completedWidth) + strings.Repeat("░", barWidth-completedWidth)

	fmt.Fprintf(r.out, "\r[%s] %.1f%% (%d/%d segments, %d errors)",
		bar, percent, r.received, r.total, r.errors)
}
