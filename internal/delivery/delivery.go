// Package delivery writes export artifacts to their destination and releases
// archive handles once consumed.
package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Sink receives finished artifacts. Deliveries are awaited sequentially by
// the orchestrator, so implementations need not be concurrency-safe.
type Sink interface {
	// Deliver writes an in-memory document under filename.
	Deliver(ctx context.Context, data []byte, filename string) error
	// DeliverFile moves an archive handle (a staged file path) into place
	// under filename, releasing the temporary handle.
	DeliverFile(ctx context.Context, path, filename string) error
}

// DirSink delivers artifacts into a local directory.
type DirSink struct {
	dir string
	log *slog.Logger
}

func NewDirSink(dir string, log *slog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create delivery directory: %v", err)
	}
	return &DirSink{dir: dir, log: log.With("component", "delivery")}, nil
}

func (s *DirSink) Deliver(ctx context.Context, data []byte, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.dir, SanitizeFilename(filename))
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	s.log.Info("Delivered document", "file", target, "bytes", len(data))
	return nil
}

func (s *DirSink) DeliverFile(ctx context.Context, path, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.dir, SanitizeFilename(filename))
	if err := os.Rename(path, target); err != nil {
		// Rename fails across filesystems; fall back to copy + remove.
		if err := copyFile(path, target); err != nil {
			return fmt.Errorf("deliver %s: %w", filename, err)
		}
		os.Remove(path)
	}
	s.log.Info("Delivered archive", "file", target)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

const maxFilenameLen = 180

var unsafeChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeFilename replaces filesystem-hostile characters with underscores,
// collapses whitespace runs to a single underscore and truncates to 180
// characters.
func SanitizeFilename(name string) string {
	name = unsafeChars.Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}
