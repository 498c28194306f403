// Package export drives the pipeline: chat resolution, history fetch under
// pacing constraints, normalization and filtering, document serialization,
// best-effort media packaging and sequential artifact delivery, honoring a
// cooperative cancellation flag at stage boundaries.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vicentereig/whatsapp-export/internal/delivery"
	"github.com/vicentereig/whatsapp-export/internal/output"
	"github.com/vicentereig/whatsapp-export/internal/privileged"
	"github.com/vicentereig/whatsapp-export/internal/progress"
	"github.com/vicentereig/whatsapp-export/internal/types"
)

var (
	ErrNoChatSelected     = errors.New("no chat selected")
	ErrHistoryFetchFailed = errors.New("history fetch failed")
)

// History pacing profiles. An unbounded request gets more polling rounds
// with longer pauses so the privileged side's pagination is not overloaded;
// a bounded request finishes in fewer, faster rounds.
const (
	boundedMaxLoads   = 20
	boundedDelayMs    = 300
	unboundedMaxLoads = 100
	unboundedDelayMs  = 1000
)

// Surface defines the privileged operations the orchestrator depends on.
// The concrete implementation is privileged.Surface. Defined here (at the
// consumer) so tests can inject mocks.
type Surface interface {
	Ping(ctx context.Context) error
	SetCancel(ctx context.Context, cancel bool) error
	ActiveChatMessages(ctx context.Context, req privileged.HistoryRequest) (privileged.HistoryResult, error)
	ChatInfoByID(ctx context.Context, chatID string) (types.ChatDescriptor, error)
	DownloadMediaForExport(ctx context.Context, messages []types.RawMessage, toggles types.MediaToggles) (types.MediaBundle, error)
	CreateMediaZip(ctx context.Context, files []string, name string) (string, error)
}

// LocalChatFunc is the fallback that inspects whatever conversation is
// currently open when no explicit chat id was configured (collaborator).
type LocalChatFunc func(ctx context.Context) (types.ChatDescriptor, error)

// Status is the caller-facing snapshot returned by GetStatus.
type Status struct {
	Connected   bool   `json:"connected"`
	CurrentChat string `json:"current_chat,omitempty"`
	Message     string `json:"message"`
}

// Orchestrator runs at most one export at a time. A second StartExport while
// one is in flight is a silent no-op, not queued and not rejected loudly.
type Orchestrator struct {
	surface   Surface
	sink      EventSink
	deliver   delivery.Sink
	localChat LocalChatFunc
	log       *slog.Logger
	now       func() time.Time

	exporting atomic.Bool

	mu          sync.Mutex
	guard       *RunGuard
	agg         *progress.Aggregator
	currentChat string
}

func NewOrchestrator(surface Surface, sink EventSink, deliver delivery.Sink, localChat LocalChatFunc, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		surface:   surface,
		sink:      sink,
		deliver:   deliver,
		localChat: localChat,
		log:       log.With("component", "export"),
		now:       time.Now,
	}
}

// StartExport begins one export run. Fire-and-forget: progress and the
// terminal event arrive through the EventSink.
func (o *Orchestrator) StartExport(settings types.ExportSettings) {
	guard, ok := acquireRun(&o.exporting)
	if !ok {
		o.log.Warn("Export already in progress, ignoring start")
		return
	}

	agg := progress.NewAggregator(settings, o.sink.Progress)
	o.mu.Lock()
	o.guard = guard
	o.agg = agg
	o.mu.Unlock()

	go o.run(guard, agg, settings)
}

// CancelExport sets the advisory flag and propagates the toggle to the
// privileged side so in-flight paged work winds down too.
func (o *Orchestrator) CancelExport() {
	o.mu.Lock()
	guard := o.guard
	o.mu.Unlock()
	if guard == nil {
		return
	}
	guard.RequestCancel()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), privileged.CancelTimeout)
		defer cancel()
		if err := o.surface.SetCancel(ctx, true); err != nil {
			o.log.Warn("Failed to propagate cancellation", "error", err)
		}
	}()
}

// GetStatus pings the privileged context and reports the bridge state.
func (o *Orchestrator) GetStatus(ctx context.Context) Status {
	o.mu.Lock()
	chat := o.currentChat
	running := o.guard != nil
	o.mu.Unlock()

	status := Status{CurrentChat: chat, Message: "idle"}
	if running {
		status.Message = "exporting"
	}
	if err := o.surface.Ping(ctx); err == nil {
		status.Connected = true
	}
	return status
}

// HandleEvent folds an out-of-band privileged event into the current run's
// progress stream. Events outside a run are dropped.
func (o *Orchestrator) HandleEvent(eventType string, payload json.RawMessage) {
	o.mu.Lock()
	agg := o.agg
	o.mu.Unlock()
	if agg == nil {
		return
	}

	switch eventType {
	case privileged.EventHistoryProgress:
		var ev progress.HistoryEvent
		if json.Unmarshal(payload, &ev) == nil {
			agg.History(ev)
		}
	case privileged.EventMediaProgress:
		var ev progress.MediaEvent
		if json.Unmarshal(payload, &ev) == nil {
			agg.Media(ev)
			o.sink.MediaProgress(ev)
		}
	case privileged.EventPackaging:
		var ev progress.PackagingEvent
		if json.Unmarshal(payload, &ev) == nil {
			agg.Packaging(ev)
		}
	default:
		o.log.Debug("Ignoring unknown event", "type", eventType)
	}
}

// run executes the pipeline. Teardown always happens, so the bridge is
// reusable for the next run regardless of how this one ends.
func (o *Orchestrator) run(guard *RunGuard, agg *progress.Aggregator, settings types.ExportSettings) {
	ctx := context.Background()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), privileged.CancelTimeout)
		defer cancel()
		if err := o.surface.SetCancel(ctx, false); err != nil {
			o.log.Debug("Failed to reset remote cancel flag", "error", err)
		}

		o.mu.Lock()
		o.guard = nil
		o.agg = nil
		o.currentChat = ""
		o.mu.Unlock()
		guard.release()
	}()

	// Clear any toggle a previous run left behind before paged work starts.
	if err := o.surface.SetCancel(ctx, false); err != nil {
		o.log.Warn("Failed to reset remote cancel flag", "error", err)
	}

	chat, err := o.resolveChat(ctx, settings)
	if err != nil {
		o.sink.Error("No chat selected for export")
		return
	}
	o.mu.Lock()
	o.currentChat = chat.Name
	o.mu.Unlock()
	o.sink.ChatUpdate(chat)

	res, err := o.surface.ActiveChatMessages(ctx, historyRequest(settings, chat.ID))
	if err != nil {
		o.log.Error("History fetch failed", "error", err)
		o.sink.Error(fmt.Sprintf("Failed to load messages: %v", err))
		return
	}
	if !res.OK || len(res.Messages) == 0 {
		o.log.Error("History fetch returned no messages", "chat", chat.ID)
		o.sink.Error("Failed to load messages: chat has no readable history")
		return
	}
	if res.Target.Name != "" {
		chat = res.Target
	}

	// Cancellation boundary: top of normalization.
	if guard.IsCancelled() {
		o.sink.Error("Export cancelled")
		return
	}
	msgs, interrupted := Normalize(res.Messages, settings, chat, guard.IsCancelled)
	if interrupted {
		o.sink.Error("Export cancelled")
		return
	}

	doc, err := output.Render(settings.Format, chat.Name, msgs, output.Options{
		IncludeTimestamps: settings.IncludeTimestamps,
		IncludeSender:     settings.IncludeSender,
	}, o.now())
	if err != nil {
		o.log.Error("Serialization failed", "format", settings.Format, "error", err)
		o.sink.Error(fmt.Sprintf("Serialization failed: %v", err))
		return
	}

	base := fmt.Sprintf("%s_%s", delivery.SanitizeFilename(chat.Name), o.now().Format("2006-01-02"))
	if err := o.deliver.Deliver(ctx, doc.Data, base+"."+doc.Ext); err != nil {
		o.log.Error("Document delivery failed", "error", err)
		o.sink.Error(fmt.Sprintf("Failed to deliver document: %v", err))
		return
	}

	// Media is best-effort: the document artifact is already delivered, so
	// nothing in this stage may fail the run.
	if settings.Media.Any() && !guard.IsCancelled() {
		o.exportMedia(ctx, guard, res.Messages, settings, base)
	}

	agg.Done(len(msgs))
	o.sink.Complete(len(msgs))
}

func (o *Orchestrator) resolveChat(ctx context.Context, settings types.ExportSettings) (types.ChatDescriptor, error) {
	if settings.ChatID != "" {
		chat, err := o.surface.ChatInfoByID(ctx, settings.ChatID)
		if err == nil && (chat.ID != "" || chat.Name != "") {
			return chat, nil
		}
		o.log.Warn("Explicit chat lookup failed", "chat", settings.ChatID, "error", err)
	}
	if o.localChat != nil {
		chat, err := o.localChat(ctx)
		if err == nil && (chat.ID != "" || chat.Name != "") {
			return chat, nil
		}
	}
	return types.ChatDescriptor{}, ErrNoChatSelected
}

func historyRequest(settings types.ExportSettings, chatID string) privileged.HistoryRequest {
	req := privileged.HistoryRequest{ChatID: chatID}
	if settings.Unbounded() {
		req.Limit = types.UnboundedLimit
		req.MaxLoads = unboundedMaxLoads
		req.DelayMs = unboundedDelayMs
	} else {
		req.Limit = settings.MessageLimit
		req.MaxLoads = boundedMaxLoads
		req.DelayMs = boundedDelayMs
	}
	return req
}

// exportMedia requests one batched download and packages each returned kind
// sequentially to keep the delivery queue deterministic and progress
// monotonic.
func (o *Orchestrator) exportMedia(ctx context.Context, guard *RunGuard, raw []types.RawMessage, settings types.ExportSettings, base string) {
	bundle, err := o.surface.DownloadMediaForExport(ctx, raw, settings.Media)
	if err != nil {
		o.log.Warn("Media fetch failed, delivering document only", "error", err)
		return
	}

	for _, kind := range types.MediaKindOrder {
		if guard.IsCancelled() {
			return
		}
		result, ok := bundle[kind]
		if !ok || len(result.Files) == 0 {
			continue
		}

		name := fmt.Sprintf("%s_%s", base, kind.ZipSuffix())
		handle, err := o.surface.CreateMediaZip(ctx, result.Files, name)
		if err != nil {
			o.log.Warn("Media packaging failed", "kind", kind, "error", err)
			continue
		}
		if err := o.deliver.DeliverFile(ctx, handle, name+".zip"); err != nil {
			o.log.Warn("Archive delivery failed", "kind", kind, "error", err)
		}
	}
}
