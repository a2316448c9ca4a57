package cli

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Progress renders a progress bar fed by done/total callbacks.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a bar on w. A nil w discards output.
func NewProgress(w io.Writer, description string, total int) *Progress {
	if w == nil {
		w = io.Discard
	}
	return &Progress{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(50*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Update moves the bar to done out of total. It matches the callback shape
// used by the reconciler.
func (p *Progress) Update(done, total int) {
	if int64(total) != p.bar.GetMax64() {
		p.bar.ChangeMax(total)
	}
	_ = p.bar.Set(done)
}

// Finish completes and clears the bar.
func (p *Progress) Finish() {
	_ = p.bar.Finish()
}
