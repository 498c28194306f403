// Package types provides shared data structures used across packages.
// This enables dependency inversion: bridge, privileged, export and output
// all import types rather than importing each other.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Format selects the document serializer for an export run.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatTXT:
		return FormatTXT, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", s)
	}
}

// MediaKind identifies one of the four exportable media families.
type MediaKind string

const (
	MediaImages MediaKind = "images"
	MediaVideos MediaKind = "videos"
	MediaAudios MediaKind = "audios"
	MediaDocs   MediaKind = "docs"
)

// MediaKindOrder is the fixed packaging and progress order. Each kind owns a
// fixed 10-point progress sub-range in this order, so completing all four
// always lands at the same checkpoint.
var MediaKindOrder = [4]MediaKind{MediaImages, MediaVideos, MediaAudios, MediaDocs}

// ZipSuffix returns the archive filename suffix for a kind.
func (k MediaKind) ZipSuffix() string {
	if k == MediaImages {
		return "imagens"
	}
	return string(k)
}

// RawMessage is one history entry as returned by the privileged surface.
// Immutable once received.
type RawMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // epoch seconds
	FromMe    bool   `json:"from_me"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text"`
	MediaType string `json:"media_type,omitempty"`
	MediaPath string `json:"media_path,omitempty"`
}

// NormalizedMessage is a RawMessage after settings-driven normalization:
// formatted (or empty) timestamp and sender, non-empty text.
type NormalizedMessage struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Sender     string `json:"sender"`
	Text       string `json:"text"`
	IsOutgoing bool   `json:"is_outgoing"`
}

// ChatDescriptor identifies the conversation being exported. Consumed
// read-only by the orchestrator for naming artifacts.
type ChatDescriptor struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
	Avatar  string `json:"avatar,omitempty"`
}

// Contact is a directory entry served by the privileged surface.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// MediaToggles selects which media kinds an export run requests.
type MediaToggles struct {
	Images bool `json:"images"`
	Videos bool `json:"videos"`
	Audios bool `json:"audios"`
	Docs   bool `json:"docs"`
}

// Enabled reports whether a given kind is requested.
func (t MediaToggles) Enabled(kind MediaKind) bool {
	switch kind {
	case MediaImages:
		return t.Images
	case MediaVideos:
		return t.Videos
	case MediaAudios:
		return t.Audios
	case MediaDocs:
		return t.Docs
	}
	return false
}

// Any reports whether at least one kind is requested.
func (t MediaToggles) Any() bool {
	return t.Images || t.Videos || t.Audios || t.Docs
}

// MediaKindResult is the privileged surface's per-kind download outcome.
// Files are staged paths on the privileged side; Failed counts entries that
// could not be collected (a non-zero value does not halt the export).
type MediaKindResult struct {
	Files  []string `json:"files"`
	Count  int      `json:"count"`
	Failed int      `json:"failed"`
}

// MediaBundle maps each requested kind to its result. Kinds that were not
// requested are absent.
type MediaBundle map[MediaKind]MediaKindResult

// UnboundedLimit is the messageLimit sentinel meaning "no caller-side cap".
const UnboundedLimit = -1

// ExportSettings is the immutable configuration of one export run.
type ExportSettings struct {
	Format            Format
	MessageLimit      int // positive, or UnboundedLimit
	DateFrom          *time.Time
	DateTo            *time.Time
	IncludeTimestamps bool
	IncludeSender     bool
	Media             MediaToggles
	ChatID            string // explicit target override; empty = active chat
}

// Unbounded reports whether the run asked for the full history.
func (s ExportSettings) Unbounded() bool {
	return s.MessageLimit <= 0
}
