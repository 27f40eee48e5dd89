package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/replaycore/engine/pkg/contracts"
)

// QuarantineRecord is one line of the quarantine log.
type QuarantineRecord struct {
	EventOrSource string `json:"event_or_source"`
	Reason        string `json:"reason"`
	Ts            int64  `json:"ts"`
}

// FileQuarantineSink appends QuarantineRecord lines to a JSONL file
// under the run's output directory. It is the concrete sink for
// ErrorContainment's QUARANTINE policy and for quarantinable columnar
// reader errors.
type FileQuarantineSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileQuarantineSink opens (creating if needed) quarantine.jsonl
// under dir.
func NewFileQuarantineSink(dir string) (*FileQuarantineSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runtime: ensure quarantine dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "quarantine.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runtime: open quarantine log: %w", err)
	}
	return &FileQuarantineSink{file: f}, nil
}

// Record appends one entry describing event, tagging it with reason.
func (s *FileQuarantineSink) Record(event contracts.Event, reason string) error {
	return s.append(fmt.Sprintf("ts_event=%d,seq=%d", event.TsEvent, event.Seq), reason)
}

// RecordSource appends one entry for a quarantined source path (used by
// the columnar reader boundary).
func (s *FileQuarantineSink) RecordSource(path, reason string) error {
	return s.append(path, reason)
}

func (s *FileQuarantineSink) append(eventOrSource, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := QuarantineRecord{EventOrSource: eventOrSource, Reason: reason, Ts: time.Now().UnixMilli()}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.file.Write(line)
	return err
}

// Close releases the underlying file handle.
func (s *FileQuarantineSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
