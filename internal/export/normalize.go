package export

import (
	"strings"
	"time"

	"github.com/vicentereig/whatsapp-export/internal/types"
)

// OutgoingLabel attributes outgoing messages when sender columns are on.
const OutgoingLabel = "Você"

const timestampLayout = "02/01/2006 15:04"

// Normalize maps raw history onto NormalizedMessages per the run's settings:
// formatted timestamp and sender only when their toggles are on, inclusive
// calendar-day date filtering, empty-text messages dropped. The loop aborts
// early (keeping partial results) when cancelled reports true; the second
// return value tells the caller that happened.
//
// Deterministic given (raw, settings, chat): running it twice on already
// filtered input yields the same sequence.
func Normalize(raw []types.RawMessage, settings types.ExportSettings, chat types.ChatDescriptor, cancelled func() bool) ([]types.NormalizedMessage, bool) {
	var from, to time.Time
	if settings.DateFrom != nil {
		y, m, d := settings.DateFrom.Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	}
	if settings.DateTo != nil {
		y, m, d := settings.DateTo.Date()
		to = time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), time.Local)
	}

	out := make([]types.NormalizedMessage, 0, len(raw))
	for _, msg := range raw {
		if cancelled != nil && cancelled() {
			return out, true
		}

		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		ts := time.Unix(msg.Timestamp, 0)
		if settings.DateFrom != nil && ts.Before(from) {
			continue
		}
		if settings.DateTo != nil && ts.After(to) {
			continue
		}

		n := types.NormalizedMessage{
			ID:         msg.ID,
			Text:       text,
			IsOutgoing: msg.FromMe,
		}
		if settings.IncludeTimestamps {
			n.Timestamp = ts.Format(timestampLayout)
		}
		if settings.IncludeSender {
			switch {
			case msg.FromMe:
				n.Sender = OutgoingLabel
			case msg.Sender != "":
				n.Sender = msg.Sender
			default:
				n.Sender = chat.Name
			}
		}
		out = append(out, n)
	}
	return out, false
}
