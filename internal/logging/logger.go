// Package logging provides leveled logging and generation tracing for rumorsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A GenerationTrace for structured JSONL per-generation records (.rumorsim/generations.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-agent detail.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// GenerationTrace writes one JSON object per generation to a JSONL file.
// It is safe for concurrent use. A nil GenerationTrace is safe to use;
// all methods are no-ops on nil receiver.
type GenerationTrace struct {
	mu   sync.Mutex
	file *os.File
}

// NewGenerationTrace creates a trace writing to dir/generations.jsonl.
// At "info" level (the default), returns nil and no file is created.
// Returns nil if the file cannot be opened.
func NewGenerationTrace(dir string, level string) *GenerationTrace {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, "generations.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &GenerationTrace{file: f}
}

// Log writes a record as a single JSONL line with a "run" id and a "time"
// field added. Safe to call on nil receiver.
func (gt *GenerationTrace) Log(run string, record any) {
	if gt == nil || gt.file == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	entry := make(map[string]any)
	if err := json.Unmarshal(data, &entry); err != nil {
		entry = map[string]any{"record": record}
	}
	entry["run"] = run
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	gt.mu.Lock()
	defer gt.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = gt.file.Write(line)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (gt *GenerationTrace) Close() {
	if gt == nil || gt.file == nil {
		return
	}

	gt.mu.Lock()
	defer gt.mu.Unlock()

	gt.file.Close()
	gt.file = nil
}
