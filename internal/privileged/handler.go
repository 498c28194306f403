package privileged

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vicentereig/whatsapp-export/internal/progress"
	"github.com/vicentereig/whatsapp-export/internal/store"
	"github.com/vicentereig/whatsapp-export/internal/types"
)

const (
	// defaultPageSize is how many rows one history load pulls from the store.
	defaultPageSize = 500
	// hardHistoryLimit caps unbounded history requests so memory growth stays
	// bounded no matter what the orchestrator asks for.
	hardHistoryLimit = 50000
)

// Emitter sends one out-of-band event back to the orchestrator context. The
// concrete implementation is bridge.Channel.Emit.
type Emitter func(eventType string, payload any) error

// Handler serves the action catalogue inside the privileged context. The
// cancellation toggle is observed between history loads and between media
// items; it never interrupts the call that set it.
type Handler struct {
	store    *store.MessageStore
	emit     Emitter
	log      *slog.Logger
	zipDir   string
	pageSize int
	cancel   atomic.Bool
}

func NewHandler(st *store.MessageStore, emit Emitter, zipDir string, log *slog.Logger) *Handler {
	if zipDir == "" {
		zipDir = os.TempDir()
	} else if err := os.MkdirAll(zipDir, 0755); err != nil {
		log.Warn("Failed to create archive directory, using temp dir", "dir", zipDir, "error", err)
		zipDir = os.TempDir()
	}
	return &Handler{
		store:    st,
		emit:     emit,
		log:      log.With("component", "privileged"),
		zipDir:   zipDir,
		pageSize: defaultPageSize,
	}
}

// Handle dispatches one request. Unknown actions are errors; the channel
// turns them into ok=false responses.
func (h *Handler) Handle(ctx context.Context, action string, payload json.RawMessage) (any, error) {
	switch action {
	case ActionPing:
		return map[string]bool{"ok": true}, nil

	case ActionSetCancel:
		var req setCancelRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode setCancel: %w", err)
		}
		h.cancel.Store(req.Cancel)
		return map[string]bool{"ok": true}, nil

	case ActionActiveChatMsgs:
		var req HistoryRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode history request: %w", err)
		}
		return h.history(ctx, req)

	case ActionChatInfo:
		chat, err := h.store.ActiveChat()
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ChatProfile{}, nil
			}
			return nil, err
		}
		return ChatProfile{ProfilePic: chat.Avatar}, nil

	case ActionChatInfoByID:
		var req chatInfoByIDRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode chat info request: %w", err)
		}
		chat, err := h.store.ChatByID(req.ChatID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return chatInfoByIDResult{OK: false}, nil
			}
			return nil, err
		}
		return chatInfoByIDResult{OK: true, Chat: chat}, nil

	case ActionContacts:
		return h.store.Contacts()

	case ActionDownloadMedia:
		var req downloadMediaRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode media request: %w", err)
		}
		return h.downloadMedia(req)

	case ActionCreateMediaZip:
		var req createZipRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode zip request: %w", err)
		}
		return h.createZip(req)

	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// history loads the target chat's messages in paced pages, emitting a tick
// event per load and a final event when done.
func (h *Handler) history(ctx context.Context, req HistoryRequest) (HistoryResult, error) {
	var chat types.ChatDescriptor
	var err error
	if req.ChatID != "" {
		chat, err = h.store.ChatByID(req.ChatID)
	} else {
		chat, err = h.store.ActiveChat()
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HistoryResult{OK: false}, nil
		}
		return HistoryResult{}, err
	}

	target, err := h.store.CountMessages(chat.ID)
	if err != nil {
		return HistoryResult{}, err
	}

	limit := req.Limit
	if limit <= 0 || limit > hardHistoryLimit {
		limit = hardHistoryLimit
	}
	if target > limit {
		target = limit
	}
	maxLoads := req.MaxLoads
	if maxLoads <= 0 {
		maxLoads = 1
	}

	var messages []types.RawMessage
	for attempt := 1; attempt <= maxLoads; attempt++ {
		if h.cancel.Load() {
			h.log.Info("History load cancelled", "loaded", len(messages))
			break
		}

		want := h.pageSize
		if remaining := limit - len(messages); remaining < want {
			want = remaining
		}
		if want <= 0 {
			break
		}

		page, err := h.store.ChatMessages(chat.ID, want, len(messages))
		if err != nil {
			return HistoryResult{}, err
		}
		messages = append(messages, page...)

		h.emitEvent(EventHistoryProgress, progress.HistoryEvent{
			Phase:       progress.PhaseTick,
			Loaded:      len(messages),
			Target:      target,
			Attempt:     attempt,
			MaxAttempts: maxLoads,
		})

		if len(page) < want || len(messages) >= limit {
			break
		}
		if req.DelayMs > 0 && attempt < maxLoads {
			select {
			case <-ctx.Done():
				return HistoryResult{}, ctx.Err()
			case <-time.After(time.Duration(req.DelayMs) * time.Millisecond):
			}
		}
	}

	h.emitEvent(EventHistoryProgress, progress.HistoryEvent{
		Phase:       progress.PhaseFinal,
		Loaded:      len(messages),
		Target:      target,
		Attempt:     maxLoads,
		MaxAttempts: maxLoads,
	})

	return HistoryResult{OK: len(messages) > 0, Messages: messages, Target: chat}, nil
}

var mediaTypeByKind = map[types.MediaKind]string{
	types.MediaImages: "image",
	types.MediaVideos: "video",
	types.MediaAudios: "audio",
	types.MediaDocs:   "document",
}

// downloadMedia stages each requested kind's files. A message whose media is
// missing on disk counts as failed; failures never abort the batch.
func (h *Handler) downloadMedia(req downloadMediaRequest) (types.MediaBundle, error) {
	bundle := make(types.MediaBundle)

	for _, kind := range types.MediaKindOrder {
		if !req.Toggles.Enabled(kind) {
			continue
		}
		if h.cancel.Load() {
			break
		}

		wantType := mediaTypeByKind[kind]
		var matching []types.RawMessage
		for _, msg := range req.Messages {
			if msg.MediaType == wantType {
				matching = append(matching, msg)
			}
		}

		result := types.MediaKindResult{}
		for i, msg := range matching {
			if msg.MediaPath == "" {
				result.Failed++
			} else if _, err := os.Stat(msg.MediaPath); err != nil {
				h.log.Warn("Media file missing", "kind", kind, "path", msg.MediaPath)
				result.Failed++
			} else {
				result.Files = append(result.Files, msg.MediaPath)
			}
			h.emitEvent(EventMediaProgress, progress.MediaEvent{
				Kind:    kind,
				Current: i + 1,
				Total:   len(matching),
				Failed:  result.Failed,
			})
		}
		result.Count = len(result.Files)
		bundle[kind] = result
	}

	return bundle, nil
}

// createZip packages staged files into one archive and returns its handle.
func (h *Handler) createZip(req createZipRequest) (createZipResult, error) {
	tmp, err := os.CreateTemp(h.zipDir, req.Name+"-*.zip")
	if err != nil {
		return createZipResult{}, fmt.Errorf("create archive: %w", err)
	}
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	h.emitEvent(EventPackaging, progress.PackagingEvent{Archive: req.Name})

	w := zip.NewWriter(tmp)
	seen := make(map[string]int)
	for _, path := range req.Files {
		name := filepath.Base(path)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", name[:len(name)-len(ext)], n, ext)
		}
		seen[filepath.Base(path)]++

		if err := addZipEntry(w, path, name); err != nil {
			h.log.Warn("Skipping archive entry", "path", path, "error", err)
		}
	}
	if err := w.Close(); err != nil {
		return createZipResult{}, fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return createZipResult{}, fmt.Errorf("close archive: %w", err)
	}

	success = true
	return createZipResult{Archive: tmp.Name()}, nil
}

func addZipEntry(w *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := w.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

func (h *Handler) emitEvent(eventType string, payload any) {
	if h.emit == nil {
		return
	}
	if err := h.emit(eventType, payload); err != nil {
		h.log.Debug("Failed to emit event", "type", eventType, "error", err)
	}
}
