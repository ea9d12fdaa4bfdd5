package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/snaphub/internal/logging"
)

// UploadRecord is the database row shape for the Postgres-backed ledger.
type UploadRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Event     string    `gorm:"column:event;size:32"`
	Username  string    `gorm:"column:username;size:64;index"`
	Filename  string    `gorm:"column:filename;size:128"`
	URL       string    `gorm:"column:url;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (UploadRecord) TableName() string {
	return "upload_records"
}

// GormLedger persists the upload ledger in a relational database. Rows are
// insert-only; the auto-incremented primary key preserves append order.
type GormLedger struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewGormLedger creates a database-backed ledger.
func NewGormLedger(db *gorm.DB, logger *zap.Logger) *GormLedger {
	return &GormLedger{
		db:             db,
		logger:         logger.Named("ledger"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (l *GormLedger) AutoMigrate(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&UploadRecord{})
}

// Append inserts one record.
func (l *GormLedger) Append(ctx context.Context, rec Record) error {
	row := &UploadRecord{
		Event:     rec.Event,
		Username:  rec.Username,
		Filename:  rec.Filename,
		URL:       rec.URL,
		CreatedAt: rec.CreatedAt.UTC(),
	}
	return l.executeWithRetry(ctx, "ledger.append", rec.Username, func() error {
		return l.db.WithContext(ctx).Create(row).Error
	})
}

// Latest returns the last inserted record.
func (l *GormLedger) Latest(ctx context.Context) (*Record, error) {
	var row UploadRecord
	err := l.executeWithRetry(ctx, "ledger.latest", "", func() error {
		return l.db.WithContext(ctx).Order("id DESC").First(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	rec := rowToRecord(row)
	return &rec, nil
}

// All returns every record in insertion order.
func (l *GormLedger) All(ctx context.Context) ([]Record, error) {
	var rows []UploadRecord
	err := l.executeWithRetry(ctx, "ledger.all", "", func() error {
		return l.db.WithContext(ctx).Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToRecord(row))
	}
	return records, nil
}

func rowToRecord(row UploadRecord) Record {
	return Record{
		Event:     row.Event,
		Username:  row.Username,
		Filename:  row.Filename,
		URL:       row.URL,
		CreatedAt: row.CreatedAt,
	}
}

func (l *GormLedger) executeWithRetry(ctx context.Context, operation, username string, fn func() error) error {
	if l.retryAttempts <= 1 {
		return logging.NewOperationError(operation, username, fn())
	}

	backoff := l.initialBackoff
	opLogger := logging.WithOperation(l.logger, operation, "")
	var err error
	for attempt := 0; attempt < l.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, username, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= l.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !isTransientError(err) || attempt == l.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, username, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, username, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
