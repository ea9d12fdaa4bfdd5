package usecase

import (
	"context"
	"time"

	"github.com/example/snaphub/internal/ledger"
)

// StatsSummary aggregates the upload ledger for operator insight.
type StatsSummary struct {
	TotalUploads   int64            `json:"total_uploads"`
	UploadsByUser  map[string]int64 `json:"uploads_by_user"`
	LatestUpload   *time.Time       `json:"latest_upload,omitempty"`
	LatestUsername string           `json:"latest_username,omitempty"`
}

// Stats summarizes the ledger. Deleted blobs still count: the ledger is never
// pruned.
func (s *DispatchService) Stats(ctx context.Context) (*StatsSummary, error) {
	records, err := s.uploads.All(ctx)
	if err != nil {
		return nil, err
	}

	summary := &StatsSummary{UploadsByUser: make(map[string]int64)}
	for _, rec := range records {
		if rec.Event != ledger.EventUpload {
			continue
		}
		summary.TotalUploads++
		summary.UploadsByUser[rec.Username]++
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		summary.LatestUsername = last.Username
		if !last.CreatedAt.IsZero() {
			ts := last.CreatedAt
			summary.LatestUpload = &ts
		}
	}
	return summary, nil
}
