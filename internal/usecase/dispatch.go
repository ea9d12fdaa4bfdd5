package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/snaphub/internal/analyzer"
	"github.com/example/snaphub/internal/ledger"
	"github.com/example/snaphub/internal/logging"
	"github.com/example/snaphub/internal/metrics"
	"github.com/example/snaphub/internal/storage"
)

// ErrNoUploads indicates dispatch was requested before any upload was accepted.
var ErrNoUploads = errors.New("dispatch: no uploads yet")

// DispatchTarget identifies the image selected for analysis.
type DispatchTarget struct {
	Record    ledger.Record
	ImagePath string
}

// DispatchOutcome is the analyzer result plus the paths involved.
type DispatchOutcome struct {
	Result     *analyzer.Result
	ImagePath  string
	OutputPath string
	Cached     bool
}

// DispatchService resolves the most recently ingested image and routes it to
// a named analyzer capability. It knows how to find the image to analyze,
// never how to analyze it.
type DispatchService struct {
	uploads  ledger.Ledger
	store    *storage.DiskStore
	registry *analyzer.Registry
	cache    Cache
	recorder *metrics.Recorder
	logger   *zap.Logger

	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedDispatch struct {
	Result     analyzer.Result `json:"result"`
	OutputPath string          `json:"output_path,omitempty"`
}

// NewDispatchService constructs the dispatch pipeline. The cache may be nil
// when no Redis is configured.
func NewDispatchService(uploads ledger.Ledger, store *storage.DiskStore, registry *analyzer.Registry, cache Cache, recorder *metrics.Recorder, logger *zap.Logger) *DispatchService {
	return &DispatchService{
		uploads:        uploads,
		store:          store,
		registry:       registry,
		cache:          cache,
		recorder:       recorder,
		logger:         logger.Named("dispatch"),
		cacheTTL:       5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// LatestTarget resolves the filesystem path of the most recent ledger record.
func (s *DispatchService) LatestTarget(ctx context.Context) (*DispatchTarget, error) {
	rec, err := s.uploads.Latest(ctx)
	if err != nil {
		if errors.Is(err, ledger.ErrEmpty) {
			return nil, ErrNoUploads
		}
		return nil, err
	}

	path, err := s.store.ImagePath(rec.Username, rec.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrCorruptRecord, err)
	}
	return &DispatchTarget{Record: *rec, ImagePath: path}, nil
}

// Dispatch routes the latest upload to the named capability, consulting the
// result cache first.
func (s *DispatchService) Dispatch(ctx context.Context, name string) (*DispatchOutcome, error) {
	started := time.Now()
	outcome, err := s.dispatch(ctx, name)
	s.recorder.RecordDispatch(name, time.Since(started), err)
	return outcome, err
}

func (s *DispatchService) dispatch(ctx context.Context, name string) (*DispatchOutcome, error) {
	cap, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	target, err := s.LatestTarget(ctx)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("dispatch:%s:%s/%s", name, target.Record.Username, target.Record.Filename)
	if outcome := s.cachedOutcome(ctx, cacheKey, target); outcome != nil {
		return outcome, nil
	}

	req := analyzer.Request{ImagePath: target.ImagePath}
	if cap.WritesOutput {
		outPath, err := s.store.OutputPath(target.Record.Username, target.Record.Filename)
		if err != nil {
			return nil, logging.NewOperationError("dispatch.output_path", target.Record.Username, err)
		}
		req.OutputPath = outPath
	}

	result, err := cap.Analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	s.storeOutcome(ctx, cacheKey, result, req.OutputPath)

	return &DispatchOutcome{
		Result:     result,
		ImagePath:  target.ImagePath,
		OutputPath: req.OutputPath,
	}, nil
}

func (s *DispatchService) cachedOutcome(ctx context.Context, key string, target *DispatchTarget) *DispatchOutcome {
	if s.cache == nil {
		return nil
	}

	opLogger := logging.WithOperation(s.logger, "dispatch.cache_get", "")
	value, err := s.withCacheGet(ctx, "dispatch.cache_get", key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read dispatch cache", zap.Error(err))
		}
		return nil
	}
	if value == "" {
		return nil
	}

	var cached cachedDispatch
	if err := json.Unmarshal([]byte(value), &cached); err != nil {
		opLogger.Warn("failed to decode cached dispatch result", zap.Error(err))
		return nil
	}
	result := cached.Result
	return &DispatchOutcome{
		Result:     &result,
		ImagePath:  target.ImagePath,
		OutputPath: cached.OutputPath,
		Cached:     true,
	}
}

func (s *DispatchService) storeOutcome(ctx context.Context, key string, result *analyzer.Result, outputPath string) {
	if s.cache == nil {
		return
	}

	serialized, err := json.Marshal(cachedDispatch{Result: *result, OutputPath: outputPath})
	if err != nil {
		s.logger.Warn("failed to serialize dispatch result", zap.Error(err))
		return
	}
	if err := s.withCacheRetry(ctx, "dispatch.cache_set", func() error {
		return s.cache.Set(ctx, key, string(serialized), s.cacheTTL)
	}); err != nil {
		// Cache writes are best effort; dispatch already succeeded.
		s.logger.Warn("failed to cache dispatch result", zap.Error(err))
	}
}

func (s *DispatchService) withCacheGet(ctx context.Context, operation, key string) (string, error) {
	var result string
	err := s.withCacheRetry(ctx, operation, func() error {
		value, err := s.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (s *DispatchService) withCacheRetry(ctx context.Context, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, "", fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, "")
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientCacheError(err) || attempt == s.retryAttempts-1 {
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isTransientCacheError(err error) bool {
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
