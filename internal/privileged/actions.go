// Package privileged contains both halves of the privileged operation
// surface: the typed client wrappers the orchestrator calls through the
// correlation channel, and the handler serving those actions inside the
// privileged context.
package privileged

import "github.com/vicentereig/whatsapp-export/internal/types"

// Action catalogue. Every call the orchestrator may issue names one of
// these.
const (
	ActionPing             = "ping"
	ActionSetCancel        = "setCancel"
	ActionActiveChatMsgs   = "getActiveChatMessages"
	ActionChatInfo         = "getChatInfo"
	ActionChatInfoByID     = "getChatInfoById"
	ActionContacts         = "getContacts"
	ActionDownloadMedia    = "downloadMediaForExport"
	ActionCreateMediaZip   = "createMediaZip"
)

// Event types emitted out-of-band while long actions run.
const (
	EventHistoryProgress = "historyProgress"
	EventMediaProgress   = "mediaProgress"
	EventPackaging       = "packaging"
)

// HistoryRequest bounds one history fetch. Limit -1 means no caller-side
// cap (the handler still applies a hard ceiling); MaxLoads and DelayMs pace
// the handler's pagination against the underlying store.
type HistoryRequest struct {
	Limit    int    `json:"limit"`
	MaxLoads int    `json:"max_loads"`
	DelayMs  int    `json:"delay_ms"`
	ChatID   string `json:"chat_id,omitempty"`
}

// HistoryResult is the history fetch outcome. OK false or an empty message
// list means the target chat could not be served.
type HistoryResult struct {
	OK       bool                 `json:"ok"`
	Messages []types.RawMessage   `json:"messages"`
	Target   types.ChatDescriptor `json:"target"`
}

// ChatProfile is the active chat's metadata (avatar lookup).
type ChatProfile struct {
	ProfilePic string `json:"profile_pic,omitempty"`
}

type setCancelRequest struct {
	Cancel bool `json:"cancel"`
}

type chatInfoByIDRequest struct {
	ChatID string `json:"chat_id"`
}

type chatInfoByIDResult struct {
	OK   bool                 `json:"ok"`
	Chat types.ChatDescriptor `json:"chat"`
}

type downloadMediaRequest struct {
	Messages []types.RawMessage `json:"messages"`
	Toggles  types.MediaToggles `json:"toggles"`
}

type createZipRequest struct {
	Files []string `json:"files"`
	Name  string   `json:"name"`
}

type createZipResult struct {
	Archive string `json:"archive"`
}
