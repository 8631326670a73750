package main

import (
	"os"
	"sync"
	"time"

	"dstransfer/pkg/storage"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressTracker draws one bar per transfer on stderr. The total is not
// known up front, so bars count bytes and are completed by Finish.
type progressTracker struct {
	p *mpb.Progress

	mu   sync.Mutex
	bar  *mpb.Bar
	last time.Time
}

func newProgressTracker(enabled bool) *progressTracker {
	if !enabled {
		return &progressTracker{}
	}
	return &progressTracker{
		p: mpb.New(mpb.WithOutput(os.Stderr), mpb.WithWidth(60), mpb.WithRefreshRate(150*time.Millisecond)),
	}
}

// Track starts a bar for name and returns the hook for the transfer engine,
// or nil when progress display is off.
func (t *progressTracker) Track(name string) storage.ProgressFunc {
	if t.p == nil {
		return nil
	}

	bar := t.p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(name, decor.WCSyncSpaceR),
			decor.CurrentKibiByte("% .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Name(" ] "), ""),
			decor.OnComplete(decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 5), "Done!"),
		),
	)

	t.mu.Lock()
	t.bar = bar
	t.last = time.Now()
	t.mu.Unlock()

	return func(delta int64) {
		t.mu.Lock()
		defer t.mu.Unlock()
		now := time.Now()
		bar.EwmaIncrInt64(delta, now.Sub(t.last))
		t.last = now
	}
}

// Finish completes or aborts the current bar and waits for it to render.
func (t *progressTracker) Finish(ok bool) {
	t.mu.Lock()
	bar := t.bar
	t.bar = nil
	t.mu.Unlock()

	if bar == nil {
		return
	}
	if ok {
		bar.SetTotal(-1, true)
	} else {
		bar.Abort(false)
	}
	bar.Wait()
}

// Wait flushes the progress container.
func (t *progressTracker) Wait() {
	if t.p != nil {
		t.p.Wait()
	}
}
