package export

import "sync/atomic"

// RunGuard owns one export run's mutable state: the cancellation flag and
// the exporting bit. Acquisition refuses concurrent creation, which is what
// makes "at most one run per bridge instance" an explicit invariant rather
// than a convention.
type RunGuard struct {
	active *atomic.Bool
	cancel atomic.Bool
}

// acquireRun flips the exporting bit. It fails when a run is already in
// flight; the caller treats that as a silent no-op.
func acquireRun(active *atomic.Bool) (*RunGuard, bool) {
	if !active.CompareAndSwap(false, true) {
		return nil, false
	}
	return &RunGuard{active: active}, true
}

// RequestCancel sets the advisory flag. It takes effect at the next checked
// stage boundary, not preemptively.
func (g *RunGuard) RequestCancel() {
	g.cancel.Store(true)
}

func (g *RunGuard) IsCancelled() bool {
	return g.cancel.Load()
}

// release tears the run down, making the bridge reusable for the next one.
func (g *RunGuard) release() {
	g.active.Store(false)
}
