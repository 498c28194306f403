package privileged

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vicentereig/whatsapp-export/internal/progress"
	"github.com/vicentereig/whatsapp-export/internal/store"
	"github.com/vicentereig/whatsapp-export/internal/types"
)

type recordedEvent struct {
	eventType string
	payload   any
}

type eventRecorder struct {
	events []recordedEvent
}

func (r *eventRecorder) emit(eventType string, payload any) error {
	r.events = append(r.events, recordedEvent{eventType, payload})
	return nil
}

func (r *eventRecorder) historyTicks() []progress.HistoryEvent {
	var ticks []progress.HistoryEvent
	for _, ev := range r.events {
		if ev.eventType == EventHistoryProgress {
			ticks = append(ticks, ev.payload.(progress.HistoryEvent))
		}
	}
	return ticks
}

func newTestHandler(t *testing.T) (*Handler, *store.MessageStore, *eventRecorder) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewMessageStore(filepath.Join(dir, "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rec := &eventRecorder{}
	h := NewHandler(st, rec.emit, filepath.Join(dir, "zips"), slog.New(slog.DiscardHandler))
	return h, st, rec
}

func seedHistory(t *testing.T, st *store.MessageStore, chatID string, n int) {
	t.Helper()
	require.NoError(t, st.UpsertChat(types.ChatDescriptor{ID: chatID, Name: "Ana"}, time.Now()))
	for i := 0; i < n; i++ {
		require.NoError(t, st.InsertMessage(chatID, types.RawMessage{
			ID:        fmt.Sprintf("m%04d", i),
			Timestamp: int64(1000 + i),
			Text:      fmt.Sprintf("message %d", i),
		}))
	}
}

func call(t *testing.T, h *Handler, action string, req any) (any, error) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return h.Handle(context.Background(), action, payload)
}

func TestHandle_Ping(t *testing.T) {
	h, _, _ := newTestHandler(t)

	res, err := h.Handle(context.Background(), ActionPing, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ok": true}, res)
}

func TestHandle_UnknownAction(t *testing.T) {
	h, _, _ := newTestHandler(t)

	_, err := h.Handle(context.Background(), "selfDestruct", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestHistory_PagesUntilExhaustedAndEmitsTicks(t *testing.T) {
	h, st, rec := newTestHandler(t)
	h.pageSize = 10
	seedHistory(t, st, "111@c.us", 25)

	res, err := call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 20})
	require.NoError(t, err)

	result := res.(HistoryResult)
	require.True(t, result.OK)
	assert.Len(t, result.Messages, 25)
	assert.Equal(t, "Ana", result.Target.Name)
	assert.Equal(t, "message 0", result.Messages[0].Text)
	assert.Equal(t, "message 24", result.Messages[24].Text)

	ticks := rec.historyTicks()
	require.Len(t, ticks, 4) // three load ticks plus the final event
	assert.Equal(t, []int{10, 20, 25}, []int{ticks[0].Loaded, ticks[1].Loaded, ticks[2].Loaded})
	for _, tick := range ticks[:3] {
		assert.Equal(t, progress.PhaseTick, tick.Phase)
		assert.Equal(t, 25, tick.Target)
	}
	assert.Equal(t, progress.PhaseFinal, ticks[3].Phase)
	assert.Equal(t, 25, ticks[3].Loaded)
}

func TestHistory_RespectsCallerLimit(t *testing.T) {
	h, st, rec := newTestHandler(t)
	h.pageSize = 10
	seedHistory(t, st, "111@c.us", 40)

	res, err := call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: 15, MaxLoads: 20})
	require.NoError(t, err)

	result := res.(HistoryResult)
	require.True(t, result.OK)
	assert.Len(t, result.Messages, 15)

	// The reported target reflects the cap, not the full store size.
	final := rec.historyTicks()
	assert.Equal(t, 15, final[len(final)-1].Target)
}

func TestHistory_MaxLoadsStopsPaging(t *testing.T) {
	h, st, _ := newTestHandler(t)
	h.pageSize = 10
	seedHistory(t, st, "111@c.us", 100)

	res, err := call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 3})
	require.NoError(t, err)

	result := res.(HistoryResult)
	require.True(t, result.OK)
	assert.Len(t, result.Messages, 30)
}

func TestHistory_ExplicitChatID(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedHistory(t, st, "111@c.us", 3)
	seedHistory(t, st, "222@c.us", 5)

	res, err := call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 5, ChatID: "111@c.us"})
	require.NoError(t, err)

	result := res.(HistoryResult)
	require.True(t, result.OK)
	assert.Len(t, result.Messages, 3)
}

func TestHistory_NoChatAvailable(t *testing.T) {
	h, _, _ := newTestHandler(t)

	res, err := call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 5})
	require.NoError(t, err)
	assert.False(t, res.(HistoryResult).OK)

	res, err = call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 5, ChatID: "ghost@c.us"})
	require.NoError(t, err)
	assert.False(t, res.(HistoryResult).OK)
}

func TestHistory_CancelToggleStopsLoading(t *testing.T) {
	h, st, _ := newTestHandler(t)
	h.pageSize = 10
	seedHistory(t, st, "111@c.us", 50)

	_, err := call(t, h, ActionSetCancel, setCancelRequest{Cancel: true})
	require.NoError(t, err)

	res, err := call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 5})
	require.NoError(t, err)

	result := res.(HistoryResult)
	assert.False(t, result.OK)
	assert.Empty(t, result.Messages)

	// Clearing the toggle makes the next run serve normally.
	_, err = call(t, h, ActionSetCancel, setCancelRequest{Cancel: false})
	require.NoError(t, err)

	res, err = call(t, h, ActionActiveChatMsgs, HistoryRequest{Limit: types.UnboundedLimit, MaxLoads: 10})
	require.NoError(t, err)
	assert.True(t, res.(HistoryResult).OK)
}

func TestChatInfoByID(t *testing.T) {
	h, st, _ := newTestHandler(t)
	seedHistory(t, st, "111@c.us", 1)

	res, err := call(t, h, ActionChatInfoByID, chatInfoByIDRequest{ChatID: "111@c.us"})
	require.NoError(t, err)
	result := res.(chatInfoByIDResult)
	require.True(t, result.OK)
	assert.Equal(t, "Ana", result.Chat.Name)

	res, err = call(t, h, ActionChatInfoByID, chatInfoByIDRequest{ChatID: "ghost@c.us"})
	require.NoError(t, err)
	assert.False(t, res.(chatInfoByIDResult).OK)
}

func TestDownloadMedia_StagesRequestedKindsAndCountsFailures(t *testing.T) {
	h, _, rec := newTestHandler(t)

	mediaDir := t.TempDir()
	existing := filepath.Join(mediaDir, "a.jpg")
	require.NoError(t, os.WriteFile(existing, []byte("jpeg"), 0644))

	msgs := []types.RawMessage{
		{ID: "1", MediaType: "image", MediaPath: existing},
		{ID: "2", MediaType: "image", MediaPath: filepath.Join(mediaDir, "gone.jpg")},
		{ID: "3", MediaType: "image"}, // no staged path at all
		{ID: "4", MediaType: "video", MediaPath: existing},
		{ID: "5", Text: "plain text"},
	}

	res, err := call(t, h, ActionDownloadMedia, downloadMediaRequest{
		Messages: msgs,
		Toggles:  types.MediaToggles{Images: true},
	})
	require.NoError(t, err)

	bundle := res.(types.MediaBundle)
	require.Contains(t, bundle, types.MediaImages)
	assert.NotContains(t, bundle, types.MediaVideos, "unrequested kinds stay absent")

	images := bundle[types.MediaImages]
	assert.Equal(t, []string{existing}, images.Files)
	assert.Equal(t, 1, images.Count)
	assert.Equal(t, 2, images.Failed)

	// One per-item event per matching message.
	var mediaEvents []progress.MediaEvent
	for _, ev := range rec.events {
		if ev.eventType == EventMediaProgress {
			mediaEvents = append(mediaEvents, ev.payload.(progress.MediaEvent))
		}
	}
	require.Len(t, mediaEvents, 3)
	assert.Equal(t, 3, mediaEvents[2].Current)
	assert.Equal(t, 3, mediaEvents[2].Total)
	assert.Equal(t, 2, mediaEvents[2].Failed)
}

func TestCreateZip_PackagesFilesAndDeduplicatesNames(t *testing.T) {
	h, _, rec := newTestHandler(t)

	dirA, dirB := t.TempDir(), t.TempDir()
	fileA := filepath.Join(dirA, "photo.jpg")
	fileB := filepath.Join(dirB, "photo.jpg")
	require.NoError(t, os.WriteFile(fileA, []byte("first"), 0644))
	require.NoError(t, os.WriteFile(fileB, []byte("second"), 0644))

	res, err := call(t, h, ActionCreateMediaZip, createZipRequest{
		Files: []string{fileA, fileB},
		Name:  "Ana_2026-08-28_imagens",
	})
	require.NoError(t, err)

	archive := res.(createZipResult).Archive
	require.FileExists(t, archive)

	r, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"photo.jpg", "photo_1.jpg"}, names)

	// Missing entries are skipped, not fatal.
	res, err = call(t, h, ActionCreateMediaZip, createZipRequest{
		Files: []string{fileA, filepath.Join(dirA, "ghost.jpg")},
		Name:  "partial",
	})
	require.NoError(t, err)
	require.FileExists(t, res.(createZipResult).Archive)

	var packaging []progress.PackagingEvent
	for _, ev := range rec.events {
		if ev.eventType == EventPackaging {
			packaging = append(packaging, ev.payload.(progress.PackagingEvent))
		}
	}
	require.Len(t, packaging, 2)
	assert.Equal(t, "Ana_2026-08-28_imagens", packaging[0].Archive)
}

func TestContacts_ServedThroughHandler(t *testing.T) {
	h, st, _ := newTestHandler(t)
	require.NoError(t, st.UpsertChat(types.ChatDescriptor{ID: "5511999990000@c.us", Name: "Ana"}, time.Now()))
	require.NoError(t, st.UpsertChat(types.ChatDescriptor{ID: "g@g.us", Name: "Group", IsGroup: true}, time.Now()))

	res, err := h.Handle(context.Background(), ActionContacts, nil)
	require.NoError(t, err)

	contacts := res.([]types.Contact)
	require.Len(t, contacts, 1)
	assert.Equal(t, "5511999990000", contacts[0].Phone)
}
