package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vicentereig/whatsapp-export/internal/privileged"
	"github.com/vicentereig/whatsapp-export/internal/progress"
	"github.com/vicentereig/whatsapp-export/internal/types"
)

// mockSurface lets each test configure just the privileged operations it
// cares about; everything else gets a benign default.
type mockSurface struct {
	mu sync.Mutex

	pingFn      func(ctx context.Context) error
	historyFn   func(ctx context.Context, req privileged.HistoryRequest) (privileged.HistoryResult, error)
	chatInfoFn  func(ctx context.Context, chatID string) (types.ChatDescriptor, error)
	downloadFn  func(ctx context.Context, messages []types.RawMessage, toggles types.MediaToggles) (types.MediaBundle, error)
	createZipFn func(ctx context.Context, files []string, name string) (string, error)

	setCancelCalls []bool
	historyCalls   []privileged.HistoryRequest
	chatInfoCalls  []string
	downloadCalls  int
	zipNames       []string
}

func (m *mockSurface) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockSurface) SetCancel(ctx context.Context, cancel bool) error {
	m.mu.Lock()
	m.setCancelCalls = append(m.setCancelCalls, cancel)
	m.mu.Unlock()
	return nil
}

func (m *mockSurface) ActiveChatMessages(ctx context.Context, req privileged.HistoryRequest) (privileged.HistoryResult, error) {
	m.mu.Lock()
	m.historyCalls = append(m.historyCalls, req)
	m.mu.Unlock()
	if m.historyFn != nil {
		return m.historyFn(ctx, req)
	}
	return privileged.HistoryResult{OK: true, Messages: rawMessages(3)}, nil
}

func (m *mockSurface) ChatInfoByID(ctx context.Context, chatID string) (types.ChatDescriptor, error) {
	m.mu.Lock()
	m.chatInfoCalls = append(m.chatInfoCalls, chatID)
	m.mu.Unlock()
	if m.chatInfoFn != nil {
		return m.chatInfoFn(ctx, chatID)
	}
	return types.ChatDescriptor{}, errors.New("chat not found")
}

func (m *mockSurface) DownloadMediaForExport(ctx context.Context, messages []types.RawMessage, toggles types.MediaToggles) (types.MediaBundle, error) {
	m.mu.Lock()
	m.downloadCalls++
	m.mu.Unlock()
	if m.downloadFn != nil {
		return m.downloadFn(ctx, messages, toggles)
	}
	return types.MediaBundle{}, nil
}

func (m *mockSurface) CreateMediaZip(ctx context.Context, files []string, name string) (string, error) {
	m.mu.Lock()
	m.zipNames = append(m.zipNames, name)
	m.mu.Unlock()
	if m.createZipFn != nil {
		return m.createZipFn(ctx, files, name)
	}
	return "/tmp/" + name + ".zip", nil
}

func (m *mockSurface) cancelToggles() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.setCancelCalls...)
}

func (m *mockSurface) historyRequests() []privileged.HistoryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]privileged.HistoryRequest(nil), m.historyCalls...)
}

func (m *mockSurface) downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadCalls
}

func (m *mockSurface) zips() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.zipNames...)
}

type terminalEvent struct {
	complete bool
	count    int
	message  string
}

// recordingSink captures the event stream and funnels terminal events into a
// channel so tests can both wait for one and detect a forbidden second one.
type recordingSink struct {
	mu       sync.Mutex
	updates  []progress.Update
	media    []progress.MediaEvent
	chats    []types.ChatDescriptor
	terminal chan terminalEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{terminal: make(chan terminalEvent, 4)}
}

func (s *recordingSink) Progress(u progress.Update) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
}

func (s *recordingSink) MediaProgress(ev progress.MediaEvent) {
	s.mu.Lock()
	s.media = append(s.media, ev)
	s.mu.Unlock()
}

func (s *recordingSink) ChatUpdate(chat types.ChatDescriptor) {
	s.mu.Lock()
	s.chats = append(s.chats, chat)
	s.mu.Unlock()
}

func (s *recordingSink) Complete(count int) {
	s.terminal <- terminalEvent{complete: true, count: count}
}

func (s *recordingSink) Error(message string) {
	s.terminal <- terminalEvent{message: message}
}

func (s *recordingSink) waitTerminal(t *testing.T) terminalEvent {
	t.Helper()
	select {
	case ev := <-s.terminal:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal event arrived")
		return terminalEvent{}
	}
}

func (s *recordingSink) requireNoFurtherTerminal(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.terminal:
		t.Fatalf("unexpected second terminal event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *recordingSink) progressUpdates() []progress.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Update(nil), s.updates...)
}

func (s *recordingSink) chatUpdates() []types.ChatDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChatDescriptor(nil), s.chats...)
}

func (s *recordingSink) mediaEvents() []progress.MediaEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.MediaEvent(nil), s.media...)
}

// recordingDeliverer captures delivered artifacts instead of touching disk.
type recordingDeliverer struct {
	mu    sync.Mutex
	docs  []string
	files []string
}

func (d *recordingDeliverer) Deliver(ctx context.Context, data []byte, filename string) error {
	d.mu.Lock()
	d.docs = append(d.docs, filename)
	d.mu.Unlock()
	return nil
}

func (d *recordingDeliverer) DeliverFile(ctx context.Context, path, filename string) error {
	d.mu.Lock()
	d.files = append(d.files, filename)
	d.mu.Unlock()
	return nil
}

func (d *recordingDeliverer) documents() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.docs...)
}

func (d *recordingDeliverer) archives() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.files...)
}

func rawMessages(n int) []types.RawMessage {
	msgs := make([]types.RawMessage, 0, n)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local)
	for i := 0; i < n; i++ {
		msgs = append(msgs, types.RawMessage{
			ID:        fmt.Sprintf("msg-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute).Unix(),
			FromMe:    i%2 == 0,
			Sender:    "Ana",
			Text:      "message",
		})
	}
	return msgs
}
