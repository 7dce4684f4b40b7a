package ui

import (
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nace/diskimg/internal/restore"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressBar renders restore progress as a terminal bar
type ProgressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar

	mu   sync.Mutex
	last restore.Progress
	done bool
}

// NewProgressBar creates a bar for a transfer of total bytes written to w
func NewProgressBar(w io.Writer, name string, total uint64) *ProgressBar {
	pb := &ProgressBar{}
	pb.p = mpb.New(
		mpb.WithOutput(w),
		mpb.WithWidth(60),
		mpb.WithRefreshRate(180*time.Millisecond),
	)
	// Built open-ended so Finish can complete a bar that stopped short
	pb.bar = pb.p.New(0,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
		mpb.PrependDecorators(
			decor.Name(name+" "),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.Any(pb.rate, decor.WCSyncSpace),
			decor.OnComplete(decor.Any(pb.eta, decor.WCSyncSpace), "done"),
		),
	)
	pb.bar.SetTotal(int64(total), false)
	return pb
}

func (pb *ProgressBar) snapshot() restore.Progress {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.last
}

func (pb *ProgressBar) rate(decor.Statistics) string {
	p := pb.snapshot()
	if p.Rate == 0 {
		return "-"
	}
	return humanize.Bytes(p.Rate) + "/s"
}

func (pb *ProgressBar) eta(decor.Statistics) string {
	p := pb.snapshot()
	if p.ExpectedEndTime.IsZero() {
		return "--:--"
	}
	left := time.Until(p.ExpectedEndTime).Round(time.Second)
	if left < 0 {
		left = 0
	}
	return left.String()
}

// Update moves the bar to p.Completed
func (pb *ProgressBar) Update(p restore.Progress) {
	pb.mu.Lock()
	if pb.done {
		pb.mu.Unlock()
		return
	}
	pb.last = p
	pb.mu.Unlock()

	pb.bar.SetCurrent(int64(p.Completed))
}

// Finish completes the bar, or aborts it when err is set, and waits for
// the last render
func (pb *ProgressBar) Finish(err error) {
	pb.mu.Lock()
	if pb.done {
		pb.mu.Unlock()
		return
	}
	pb.done = true
	pb.mu.Unlock()

	if err != nil {
		pb.bar.Abort(false)
	} else {
		pb.bar.SetTotal(-1, true)
	}
	pb.p.Wait()
}
