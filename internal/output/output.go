// Package output contains the document serializers: pure functions mapping
// normalized messages to plain-text, CSV, JSON or HTML artifacts with
// format-specific escaping. All four are total over any message sequence;
// zero messages produce a valid, empty-bodied document.
package output

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/vicentereig/whatsapp-export/internal/types"
)

// Document is one in-memory export artifact.
type Document struct {
	Data []byte
	MIME string
	Ext  string
}

// Options are the settings slice the serializers care about.
type Options struct {
	IncludeTimestamps bool
	IncludeSender     bool
}

// Render dispatches on format. The switch is exhaustive over types.Format;
// the default branch is a programming-error assertion.
func Render(format types.Format, chatName string, msgs []types.NormalizedMessage, opts Options, now time.Time) (Document, error) {
	switch format {
	case types.FormatTXT:
		return renderText(chatName, msgs, now), nil
	case types.FormatCSV:
		return renderCSV(msgs, opts), nil
	case types.FormatJSON:
		return renderJSON(chatName, msgs, now)
	case types.FormatHTML:
		return renderHTML(chatName, msgs, now), nil
	default:
		return Document{}, fmt.Errorf("no serializer for format %q", format)
	}
}

func renderText(chatName string, msgs []types.NormalizedMessage, now time.Time) Document {
	var b strings.Builder
	b.WriteString("Chat: " + chatName + "\n")
	b.WriteString("Generated: " + now.Format("2006-01-02 15:04:05") + "\n")
	fmt.Fprintf(&b, "Messages: %d\n", len(msgs))
	b.WriteString(strings.Repeat("=", 48) + "\n\n")

	for _, m := range msgs {
		if m.Timestamp != "" {
			b.WriteString("[" + m.Timestamp + "] ")
		}
		if m.Sender != "" {
			b.WriteString(m.Sender + ": ")
		}
		b.WriteString(m.Text + "\n")
	}

	return Document{Data: []byte(b.String()), MIME: "text/plain; charset=utf-8", Ext: "txt"}
}

// renderCSV always quotes data fields (embedded quotes doubled, embedded
// newlines replaced with a space) and prefixes a BOM so spreadsheet tools
// pick up the encoding.
func renderCSV(msgs []types.NormalizedMessage, opts Options) Document {
	var b strings.Builder
	b.WriteString("\uFEFF")

	var header []string
	if opts.IncludeTimestamps {
		header = append(header, "Data/Hora")
	}
	if opts.IncludeSender {
		header = append(header, "Remetente")
	}
	header = append(header, "Mensagem", "Tipo")
	b.WriteString(strings.Join(header, ",") + "\n")

	for _, m := range msgs {
		var row []string
		if opts.IncludeTimestamps {
			row = append(row, csvField(m.Timestamp))
		}
		if opts.IncludeSender {
			row = append(row, csvField(m.Sender))
		}
		kind := "Recebida"
		if m.IsOutgoing {
			kind = "Enviada"
		}
		row = append(row, csvField(m.Text), csvField(kind))
		b.WriteString(strings.Join(row, ",") + "\n")
	}

	return Document{Data: []byte(b.String()), MIME: "text/csv; charset=utf-8", Ext: "csv"}
}

var csvNewlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func csvField(s string) string {
	s = csvNewlines.Replace(s)
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func renderJSON(chatName string, msgs []types.NormalizedMessage, now time.Time) (Document, error) {
	if msgs == nil {
		msgs = []types.NormalizedMessage{}
	}
	doc := struct {
		ChatName     string                    `json:"chatName"`
		ExportDate   string                    `json:"exportDate"`
		MessageCount int                       `json:"messageCount"`
		Messages     []types.NormalizedMessage `json:"messages"`
	}{
		ChatName:     chatName,
		ExportDate:   now.Format(time.RFC3339),
		MessageCount: len(msgs),
		Messages:     msgs,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("marshal export: %w", err)
	}
	return Document{Data: data, MIME: "application/json", Ext: "json"}, nil
}

// renderHTML produces a self-contained document; every interpolated string
// goes through html.EscapeString.
func renderHTML(chatName string, msgs []types.NormalizedMessage, now time.Time) Document {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<title>" + html.EscapeString(chatName) + "</title>\n")
	b.WriteString(`<style>
body { font-family: sans-serif; background: #e5ddd5; margin: 0; padding: 16px; }
.header { background: #075e54; color: #fff; padding: 12px 16px; border-radius: 8px; margin-bottom: 16px; }
.msg { max-width: 65%; margin: 4px 0; padding: 8px 12px; border-radius: 8px; background: #fff; clear: both; float: left; }
.msg.out { background: #dcf8c6; float: right; }
.meta { font-size: 0.75em; color: #667781; margin-bottom: 2px; }
.text { white-space: pre-wrap; word-wrap: break-word; }
</style>
</head>
<body>
`)
	b.WriteString("<div class=\"header\"><strong>" + html.EscapeString(chatName) + "</strong>")
	fmt.Fprintf(&b, "<br><small>%s &middot; %d messages</small></div>\n",
		html.EscapeString(now.Format("2006-01-02 15:04")), len(msgs))

	for _, m := range msgs {
		class := "msg"
		if m.IsOutgoing {
			class = "msg out"
		}
		b.WriteString("<div class=\"" + class + "\">")
		meta := strings.TrimSpace(strings.Join([]string{html.EscapeString(m.Sender), html.EscapeString(m.Timestamp)}, " "))
		if meta != "" {
			b.WriteString("<div class=\"meta\">" + meta + "</div>")
		}
		b.WriteString("<div class=\"text\">" + html.EscapeString(m.Text) + "</div></div>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return Document{Data: []byte(b.String()), MIME: "text/html; charset=utf-8", Ext: "html"}
}
