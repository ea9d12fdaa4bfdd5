package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func tempLedger(t *testing.T) (*FileLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "userlist.csv")
	return NewFileLedger(path), path
}

func record(username, filename string) Record {
	return Record{
		Event:     EventUpload,
		Username:  username,
		Filename:  filename,
		URL:       "http://localhost:8080/static/images/" + username + "/" + filename,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileLedgerAppendAndLatest(t *testing.T) {
	l, _ := tempLedger(t)
	ctx := context.Background()

	if err := l.Append(ctx, record("alice", "first.png")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := l.Append(ctx, record("bob", "second.png")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	latest, err := l.Latest(ctx)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.Username != "bob" || latest.Filename != "second.png" {
		t.Fatalf("unexpected latest record: %+v", latest)
	}

	all, err := l.All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].Username != "alice" {
		t.Fatalf("insertion order lost: %+v", all)
	}
}

func TestFileLedgerSurvivesReopen(t *testing.T) {
	l, path := tempLedger(t)
	ctx := context.Background()

	if err := l.Append(ctx, record("alice", "abcd.png")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened := NewFileLedger(path)
	latest, err := reopened.Latest(ctx)
	if err != nil {
		t.Fatalf("latest after reopen failed: %v", err)
	}
	if latest.Username != "alice" || latest.Filename != "abcd.png" {
		t.Fatalf("unexpected record after reopen: %+v", latest)
	}
}

func TestFileLedgerEmpty(t *testing.T) {
	l, _ := tempLedger(t)
	ctx := context.Background()

	if _, err := l.Latest(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	all, err := l.All(ctx)
	if err != nil {
		t.Fatalf("all on empty ledger failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no records, got %d", len(all))
	}
}

func TestFileLedgerCorruptLastRow(t *testing.T) {
	l, path := tempLedger(t)
	ctx := context.Background()

	if err := os.WriteFile(path, []byte("upload,alice\n"), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := l.Latest(ctx); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestFileLedgerLegacyTimestamp(t *testing.T) {
	l, path := tempLedger(t)
	ctx := context.Background()

	// Rows written by older deployments carry free-form timestamps; only
	// username and filename positions are load-bearing.
	row := "upload,alice,abcd.png,http://x/static/images/alice/abcd.png,2021-06-01 10:11:12.131415\n"
	if err := os.WriteFile(path, []byte(row), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	latest, err := l.Latest(ctx)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.Username != "alice" || latest.Filename != "abcd.png" {
		t.Fatalf("unexpected record: %+v", latest)
	}
	if !latest.CreatedAt.IsZero() {
		t.Fatalf("expected zero time for unparseable timestamp, got %v", latest.CreatedAt)
	}
}

func TestFileLedgerConcurrentAppends(t *testing.T) {
	l, _ := tempLedger(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Append(ctx, record("alice", fmt.Sprintf("img-%02d.png", i))); err != nil {
				t.Errorf("append %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := l.All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != writers {
		t.Fatalf("expected %d records, got %d", writers, len(all))
	}
	for _, rec := range all {
		if rec.Username != "alice" || rec.Filename == "" {
			t.Fatalf("interleaved or partial row observed: %+v", rec)
		}
	}
}
