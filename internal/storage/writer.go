package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parley-ai/parley/internal/interview"
)

// TranscriptWriter appends completed turns to a per-interview markdown
// file, a local record that survives even when the backend is unreachable.
type TranscriptWriter struct {
	dir string
	mu  sync.Mutex
}

func NewTranscriptWriter(dir string) *TranscriptWriter {
	return &TranscriptWriter{dir: dir}
}

func (w *TranscriptWriter) Append(interviewID string, turn interview.Turn) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.Path(interviewID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	entry := fmt.Sprintf("**Q:** %s\n\n**A:** %s\n\n",
		strings.TrimSpace(turn.Question), strings.TrimSpace(turn.Answer))
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *TranscriptWriter) Path(interviewID string) string {
	return filepath.Join(w.dir, interviewID+".md")
}
