package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/snaphub/internal/auth"
	"github.com/example/snaphub/internal/ledger"
	"github.com/example/snaphub/internal/logging"
	"github.com/example/snaphub/internal/metrics"
	"github.com/example/snaphub/internal/storage"
)

// ErrForbidden indicates a valid token whose role is not allowed to ingest
// or delete images.
var ErrForbidden = errors.New("usecase: role not permitted")

// ImageExt is the stored extension for every accepted upload.
const ImageExt = ".png"

// UploadReceipt acknowledges an accepted upload.
type UploadReceipt struct {
	Username string
	Filename string
	URL      string
}

// IngestionService orchestrates verify, authorize, persist, and ledger-append
// for incoming images, and the corresponding delete flow.
type IngestionService struct {
	verifier      *auth.Verifier
	store         *storage.DiskStore
	uploads       ledger.Ledger
	publicBaseURL string
	recorder      *metrics.Recorder
	logger        *zap.Logger
	now           func() time.Time
}

// NewIngestionService constructs the ingestion pipeline.
func NewIngestionService(verifier *auth.Verifier, store *storage.DiskStore, uploads ledger.Ledger, publicBaseURL string, recorder *metrics.Recorder, logger *zap.Logger) *IngestionService {
	return &IngestionService{
		verifier:      verifier,
		store:         store,
		uploads:       uploads,
		publicBaseURL: publicBaseURL,
		recorder:      recorder,
		logger:        logger.Named("ingestion"),
		now:           time.Now,
	}
}

// AcceptUpload runs the upload pipeline: authenticate, authorize, persist,
// log. Auth failures short-circuit before any filesystem or ledger touch.
func (s *IngestionService) AcceptUpload(ctx context.Context, token string, imageBytes []byte) (*UploadReceipt, error) {
	receipt, err := s.acceptUpload(ctx, token, imageBytes)
	s.recorder.RecordUpload(len(imageBytes), err)
	return receipt, err
}

func (s *IngestionService) acceptUpload(ctx context.Context, token string, imageBytes []byte) (*UploadReceipt, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.IsDevice() {
		return nil, ErrForbidden
	}

	opLogger := logging.WithUser(logging.WithOperation(s.logger, "ingestion.accept_upload", ""), claims.Username)

	if _, err := s.store.EnsureNamespace(claims.Username); err != nil {
		wrapped := logging.NewOperationError("ingestion.ensure_namespace", claims.Username, err)
		opLogger.Error("namespace creation failed", zap.Error(wrapped))
		return nil, wrapped
	}

	filename := s.store.NewImageID() + ImageExt
	if _, err := s.store.WriteImage(claims.Username, filename, imageBytes); err != nil {
		wrapped := logging.NewOperationError("ingestion.write_image", claims.Username, err)
		opLogger.Error("image write failed", zap.Error(wrapped))
		return nil, wrapped
	}

	rec := ledger.Record{
		Event:     ledger.EventUpload,
		Username:  claims.Username,
		Filename:  filename,
		URL:       fmt.Sprintf("%s/static/images/%s/%s", s.publicBaseURL, claims.Username, filename),
		CreatedAt: s.now().UTC(),
	}
	if err := s.uploads.Append(ctx, rec); err != nil {
		// The blob stays behind without a ledger row; the ledger defines
		// "known uploads" so this is an orphan, not an inconsistency.
		wrapped := logging.NewOperationError("ingestion.ledger_append", claims.Username, err)
		opLogger.Error("ledger append failed", zap.Error(wrapped), zap.String("filename", filename))
		return nil, wrapped
	}

	opLogger.Info("accepted image",
		zap.String("filename", filename),
		zap.Int("size_bytes", len(imageBytes)))

	return &UploadReceipt{
		Username: claims.Username,
		Filename: filename,
		URL:      rec.URL,
	}, nil
}

// DeleteUpload removes a stored image blob. The corresponding ledger row is
// intentionally retained, so listings keep showing the deleted upload.
func (s *IngestionService) DeleteUpload(ctx context.Context, token, filename string) error {
	err := s.deleteUpload(ctx, token, filename)
	s.recorder.RecordDelete(err)
	return err
}

func (s *IngestionService) deleteUpload(ctx context.Context, token, filename string) error {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return err
	}
	if !claims.IsDevice() {
		return ErrForbidden
	}

	if err := s.store.DeleteImage(claims.Username, filename); err != nil {
		if errors.Is(err, storage.ErrUnsafePath) {
			return err
		}
		wrapped := logging.NewOperationError("ingestion.delete_image", claims.Username, err)
		logging.WithUser(s.logger, claims.Username).Error("image delete failed",
			zap.Error(wrapped), zap.String("filename", filename))
		return wrapped
	}

	logging.WithUser(s.logger, claims.Username).Info("deleted image blob, ledger row retained",
		zap.String("filename", filename))
	return nil
}
