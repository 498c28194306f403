// Package progress folds heterogeneous sub-task events (history-load ticks,
// per-media-kind counters, packaging ticks) into one monotonic, weighted
// overall percentage plus a human status line.
package progress

import (
	"fmt"

	"github.com/vicentereig/whatsapp-export/internal/types"
)

// History event phases.
const (
	PhaseTick  = "tick"
	PhaseFinal = "final"
)

// HistoryEvent is one history-load tick from the privileged side.
type HistoryEvent struct {
	Phase       string `json:"phase"`
	Loaded      int    `json:"loaded"`
	Target      int    `json:"target"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}

// MediaEvent is one per-kind media counter update. Failed entries advance
// percent like successes; the status line just reports them.
type MediaEvent struct {
	Kind    types.MediaKind `json:"kind"`
	Current int             `json:"current"`
	Total   int             `json:"total"`
	Failed  int             `json:"failed"`
}

// PackagingEvent pins progress to the packaging checkpoint.
type PackagingEvent struct {
	Archive string `json:"archive"`
}

// Update is the single coherent progress stream consumed by the caller.
type Update struct {
	Percent int    `json:"percent"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status"`
}

// Stage layout. History owns [historyFloor, ceiling] where the ceiling
// depends on whether media export follows in this run; each media kind owns
// a fixed 10-point sub-range ending at the packaging checkpoint.
const (
	historyFloor        = 5
	historyCeilingMedia = 30
	historyCeilingFinal = 60
	mediaFloor          = 50
	mediaKindSpan       = 10
	packagingCheckpoint = 90
)

// Aggregator maps events to Updates given the run's immutable settings. The
// mapping is pure per (event, settings); the only state is the monotonic
// floor that keeps percent non-decreasing across interleaved sub-tasks.
type Aggregator struct {
	settings types.ExportSettings
	sink     func(Update)
	last     int
}

func NewAggregator(settings types.ExportSettings, sink func(Update)) *Aggregator {
	return &Aggregator{settings: settings, sink: sink}
}

// History maps a history-load tick into the history sub-range. The ceiling
// is recomputed per event from the settings: media packaging gets the upper
// range only when actually requested.
func (a *Aggregator) History(ev HistoryEvent) {
	ceiling := historyCeilingFinal
	if a.settings.Media.Any() {
		ceiling = historyCeilingMedia
	}

	percent := ceiling
	if ev.Phase != PhaseFinal && ev.Target > 0 {
		percent = historyFloor + (ev.Loaded*(ceiling-historyFloor))/ev.Target
	}

	status := fmt.Sprintf("Loading history (%d/%d)", ev.Loaded, ev.Target)
	if ev.Phase == PhaseFinal {
		status = fmt.Sprintf("History loaded: %d messages", ev.Loaded)
	}
	a.emit(percent, ev.Loaded, ev.Target, status)
}

var kindIndex = map[types.MediaKind]int{
	types.MediaImages: 0,
	types.MediaVideos: 1,
	types.MediaAudios: 2,
	types.MediaDocs:   3,
}

var kindLabel = map[types.MediaKind]string{
	types.MediaImages: "images",
	types.MediaVideos: "videos",
	types.MediaAudios: "audios",
	types.MediaDocs:   "documents",
}

// Media maps a per-kind counter into that kind's fixed sub-range, so
// completing all four kinds always lands at the packaging checkpoint.
func (a *Aggregator) Media(ev MediaEvent) {
	low := mediaFloor + kindIndex[ev.Kind]*mediaKindSpan
	percent := low + mediaKindSpan
	if ev.Total > 0 {
		percent = low + (ev.Current*mediaKindSpan)/ev.Total
	}

	status := fmt.Sprintf("Exporting %s (%d/%d)", kindLabel[ev.Kind], ev.Current, ev.Total)
	if ev.Failed > 0 {
		status += fmt.Sprintf(", %d failed", ev.Failed)
	}
	a.emit(percent, ev.Current, ev.Total, status)
}

// Packaging pins progress to the packaging checkpoint.
func (a *Aggregator) Packaging(ev PackagingEvent) {
	a.emit(packagingCheckpoint, 0, 0, fmt.Sprintf("Packaging %s...", ev.Archive))
}

// Done marks the run complete.
func (a *Aggregator) Done(count int) {
	a.emit(100, count, count, fmt.Sprintf("Export complete: %d messages", count))
}

// emit clamps percent to the monotonic floor before relaying the update.
func (a *Aggregator) emit(percent, current, total int, status string) {
	if percent < a.last {
		percent = a.last
	}
	if percent > 100 {
		percent = 100
	}
	a.last = percent
	if a.sink != nil {
		a.sink(Update{Percent: percent, Current: current, Total: total, Status: status})
	}
}
