// Package columnar provides the Columnar Reader Adapter: an abstraction
// over ordered, cursor-filtered batch reads from one or many archive
// files, local or remote. The actual column-store format (Parquet/DuckDB
// in the source system) is explicitly out of scope (§1); this package
// defines the contract and a local, line-delimited-JSON reference
// implementation plus pluggable remote object openers.
package columnar

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/ordering"
)

// TimeRange optionally bounds a batch request by ts_event, inclusive on
// both ends when set.
type TimeRange struct {
	Start *uint64
	End   *uint64
}

// Contains reports whether ts falls within the range (unbounded sides
// always match).
func (r TimeRange) Contains(ts uint64) bool {
	if r.Start != nil && ts < *r.Start {
		return false
	}
	if r.End != nil && ts > *r.End {
		return false
	}
	return true
}

// Handle is an open columnar source, answering ordered, cursor-filtered
// batch requests per §4.3.
type Handle interface {
	RowCount(ctx context.Context) (uint64, error)
	FilteredRowCount(ctx context.Context, tr TimeRange) (uint64, error)
	// Batch returns up to limit events strictly greater than cursor (when
	// set) within tr, in ascending OrderingTuple order. An empty, nil-error
	// result signals end of stream.
	Batch(ctx context.Context, limit int, cursor *ordering.Tuple, tr TimeRange) ([]contracts.Event, error)
	Close() error
}

// ObjectOpener opens a remote URI for reading. Local paths never go
// through this interface.
type ObjectOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// RemoteConfig carries the endpoint/credential settings required before
// any remote I/O is attempted (§4.3 "Remote-source setup").
type RemoteConfig struct {
	Endpoint   string
	Key        string
	Secret     string
	Region     string
	PathStyle  bool
	TLSEnabled bool
}

// Validate fails with a CredentialError-classed *Error when any required
// remote setting is missing, before any I/O is attempted.
func (c RemoteConfig) Validate(path string) error {
	missing := []string{}
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Key == "" {
		missing = append(missing, "key")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return newErr(ClassCredentialError, path, fmt.Errorf("missing remote settings: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// IsRemote reports whether a source string names a remote URI (s3:// or
// gs://) rather than a local filesystem path.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "s3://") || strings.HasPrefix(source, "gs://")
}

// Open opens one or many sources and returns a Handle that concatenates
// them in the given order, per §4.3 "Multiple files behave as a
// concatenation under the same ordering predicate". Sources must already
// be in global OrderingTuple order relative to one another — the adapter
// does not merge-sort across files.
func Open(ctx context.Context, sources []string, remote RemoteConfig, opener ObjectOpener) (Handle, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("columnar: no sources given")
	}

	files := make([]*fileSource, 0, len(sources))
	for _, src := range sources {
		if IsRemote(src) {
			if err := remote.Validate(src); err != nil {
				return nil, err
			}
			if opener == nil {
				return nil, newErr(ClassCredentialError, src, fmt.Errorf("no object opener configured for remote source"))
			}
			rc, err := opener.Open(ctx, src)
			if err != nil {
				return nil, newErr(ClassIoError, src, err)
			}
			rows, err := decodeAll(src, rc)
			_ = rc.Close()
			if err != nil {
				return nil, err
			}
			files = append(files, &fileSource{path: src, rows: rows})
			continue
		}

		f, err := os.Open(src) //nolint:gosec // path supplied by operator-controlled dataset descriptor
		if err != nil {
			return nil, newErr(ClassIoError, src, err)
		}
		rows, err := decodeAll(src, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, &fileSource{path: src, rows: rows})
	}

	return &multiFileHandle{files: files}, nil
}

// fileSource is one decoded source's event rows, kept in file order.
type fileSource struct {
	path string
	rows []contracts.Event
}

func decodeAll(path string, r io.Reader) ([]contracts.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var rows []contracts.Event
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row struct {
			TsEvent uint64         `json:"ts_event"`
			Seq     uint64         `json:"seq"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, newErr(ClassCorruptionError, path, fmt.Errorf("line %d: %w", lineNo, err))
		}
		rows = append(rows, contracts.Event{TsEvent: row.TsEvent, Seq: row.Seq, Payload: row.Payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, newErr(ClassIoError, path, err)
	}
	return rows, nil
}

// multiFileHandle concatenates decoded sources and serves batches by
// linear scan. This is the reference local implementation; remote
// backends in remote_s3.go/remote_gcs.go satisfy ObjectOpener and are
// otherwise identical past decode.
type multiFileHandle struct {
	files []*fileSource
	all   []contracts.Event
	built bool
}

func (h *multiFileHandle) ensureBuilt() {
	if h.built {
		return
	}
	total := 0
	for _, f := range h.files {
		total += len(f.rows)
	}
	h.all = make([]contracts.Event, 0, total)
	for _, f := range h.files {
		h.all = append(h.all, f.rows...)
	}
	h.built = true
}

func (h *multiFileHandle) RowCount(ctx context.Context) (uint64, error) {
	h.ensureBuilt()
	return uint64(len(h.all)), nil
}

func (h *multiFileHandle) FilteredRowCount(ctx context.Context, tr TimeRange) (uint64, error) {
	h.ensureBuilt()
	var count uint64
	for _, e := range h.all {
		if tr.Contains(e.TsEvent) {
			count++
		}
	}
	return count, nil
}

func (h *multiFileHandle) Batch(ctx context.Context, limit int, cursor *ordering.Tuple, tr TimeRange) ([]contracts.Event, error) {
	h.ensureBuilt()
	if limit <= 0 {
		limit = len(h.all)
	}

	var pred *ordering.ResumePredicate
	if cursor != nil {
		p := ordering.NewResumePredicate(*cursor)
		pred = &p
	}

	out := make([]contracts.Event, 0, limit)
	for _, e := range h.all {
		t := ordering.FromEvent(e)
		if pred != nil && !pred.Matches(t) {
			continue
		}
		if !tr.Contains(e.TsEvent) {
			if tr.End != nil && e.TsEvent > *tr.End {
				break
			}
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (h *multiFileHandle) Close() error { return nil }
