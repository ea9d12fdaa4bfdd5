package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLedger persists records as comma-delimited rows in a flat file, one row
// per accepted upload: event,username,filename,url,timestamp.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger constructs a ledger backed by the given file path. The file
// is created on first append.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Append writes one record as a single O_APPEND write so a concurrent reader
// never observes a partial row.
func (l *FileLedger) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(encodeRecord(rec)); err != nil {
		return fmt.Errorf("encode ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode ledger row: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return f.Sync()
}

// Latest returns the chronologically last appended record.
func (l *FileLedger) Latest(ctx context.Context) (*Record, error) {
	rows, err := l.readRows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	rec, err := decodeRecord(rows[len(rows)-1])
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// All returns every record in insertion order.
func (l *FileLedger) All(ctx context.Context) ([]Record, error) {
	rows, err := l.readRows(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (l *FileLedger) readRows(ctx context.Context) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return rows, nil
}

func encodeRecord(rec Record) []string {
	return []string{
		rec.Event,
		rec.Username,
		rec.Filename,
		rec.URL,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// decodeRecord parses a row. Positions 1 (username) and 2 (filename) are the
// load-bearing columns for latest-row consumers; the timestamp is parsed
// leniently since historical rows may carry other formats.
func decodeRecord(row []string) (*Record, error) {
	if len(row) < 3 {
		return nil, fmt.Errorf("%w: %d columns", ErrCorruptRecord, len(row))
	}
	rec := &Record{
		Event:    row[0],
		Username: row[1],
		Filename: row[2],
	}
	if len(row) > 3 {
		rec.URL = row[3]
	}
	if len(row) > 4 {
		if ts, err := time.Parse(time.RFC3339, row[4]); err == nil {
			rec.CreatedAt = ts
		}
	}
	if rec.Username == "" || rec.Filename == "" {
		return nil, fmt.Errorf("%w: missing username or filename", ErrCorruptRecord)
	}
	return rec, nil
}
