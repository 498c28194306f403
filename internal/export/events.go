package export

import (
	"github.com/vicentereig/whatsapp-export/internal/progress"
	"github.com/vicentereig/whatsapp-export/internal/types"
)

// EventSink is the caller's view of a running export. Exactly one terminal
// event fires per run: Complete or Error, never both, so the caller can
// always reset its state deterministically.
type EventSink interface {
	Progress(update progress.Update)
	MediaProgress(ev progress.MediaEvent)
	ChatUpdate(chat types.ChatDescriptor)
	Complete(count int)
	Error(message string)
}
