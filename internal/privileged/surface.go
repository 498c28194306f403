package privileged

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vicentereig/whatsapp-export/internal/types"
)

// Default deadlines per action. Different operations have different
// realistic durations: a ping is milliseconds, a full history fetch may be
// minutes of paged loading on the privileged side.
const (
	PingTimeout     = 5 * time.Second
	CancelTimeout   = 5 * time.Second
	ChatInfoTimeout = 15 * time.Second
	HistoryTimeout  = 5 * time.Minute
	MediaTimeout    = 10 * time.Minute
	ZipTimeout      = 2 * time.Minute
)

// Caller issues one correlated call. The concrete implementation is
// bridge.Channel.
type Caller interface {
	Call(ctx context.Context, action string, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Surface is the orchestrator's typed view of the privileged context.
type Surface struct {
	ch Caller
}

func NewSurface(ch Caller) *Surface {
	return &Surface{ch: ch}
}

func (s *Surface) Ping(ctx context.Context) error {
	_, err := s.ch.Call(ctx, ActionPing, nil, PingTimeout)
	return err
}

// SetCancel flips the privileged-side cancellation toggle. It affects
// subsequent paged work, not the call that carries it.
func (s *Surface) SetCancel(ctx context.Context, cancel bool) error {
	_, err := s.ch.Call(ctx, ActionSetCancel, setCancelRequest{Cancel: cancel}, CancelTimeout)
	return err
}

func (s *Surface) ActiveChatMessages(ctx context.Context, req HistoryRequest) (HistoryResult, error) {
	raw, err := s.ch.Call(ctx, ActionActiveChatMsgs, req, HistoryTimeout)
	if err != nil {
		return HistoryResult{}, err
	}
	var res HistoryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return HistoryResult{}, fmt.Errorf("decode history result: %w", err)
	}
	return res, nil
}

func (s *Surface) ChatInfo(ctx context.Context) (ChatProfile, error) {
	raw, err := s.ch.Call(ctx, ActionChatInfo, nil, ChatInfoTimeout)
	if err != nil {
		return ChatProfile{}, err
	}
	var res ChatProfile
	if err := json.Unmarshal(raw, &res); err != nil {
		return ChatProfile{}, fmt.Errorf("decode chat info: %w", err)
	}
	return res, nil
}

func (s *Surface) ChatInfoByID(ctx context.Context, chatID string) (types.ChatDescriptor, error) {
	raw, err := s.ch.Call(ctx, ActionChatInfoByID, chatInfoByIDRequest{ChatID: chatID}, ChatInfoTimeout)
	if err != nil {
		return types.ChatDescriptor{}, err
	}
	var res chatInfoByIDResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.ChatDescriptor{}, fmt.Errorf("decode chat info: %w", err)
	}
	if !res.OK {
		return types.ChatDescriptor{}, fmt.Errorf("chat %s not found", chatID)
	}
	return res.Chat, nil
}

func (s *Surface) Contacts(ctx context.Context) ([]types.Contact, error) {
	raw, err := s.ch.Call(ctx, ActionContacts, nil, ChatInfoTimeout)
	if err != nil {
		return nil, err
	}
	var res []types.Contact
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}
	return res, nil
}

// DownloadMediaForExport carries the raw (pre-normalization) message list so
// the privileged side sees every media reference the history produced.
func (s *Surface) DownloadMediaForExport(ctx context.Context, messages []types.RawMessage, toggles types.MediaToggles) (types.MediaBundle, error) {
	raw, err := s.ch.Call(ctx, ActionDownloadMedia, downloadMediaRequest{Messages: messages, Toggles: toggles}, MediaTimeout)
	if err != nil {
		return nil, err
	}
	var res types.MediaBundle
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode media bundle: %w", err)
	}
	return res, nil
}

// CreateMediaZip packages staged files and returns the archive handle (a
// privileged-side path the delivery sink consumes and releases).
func (s *Surface) CreateMediaZip(ctx context.Context, files []string, name string) (string, error) {
	raw, err := s.ch.Call(ctx, ActionCreateMediaZip, createZipRequest{Files: files, Name: name}, ZipTimeout)
	if err != nil {
		return "", err
	}
	var res createZipResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode zip result: %w", err)
	}
	return res.Archive, nil
}
