package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/snaphub/internal/logging"
)

// RemoteAnalyzer invokes an analyzer capability hosted by the inference
// service over HTTP.
type RemoteAnalyzer struct {
	baseURL string
	name    string
	client  *http.Client
	logger  *zap.Logger
}

type remoteRequest struct {
	ImagePath  string `json:"image_path"`
	OutputPath string `json:"output_path,omitempty"`
}

// NewRemoteAnalyzer builds a client for one named capability of the
// inference service.
func NewRemoteAnalyzer(baseURL, name string, client *http.Client, logger *zap.Logger) *RemoteAnalyzer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteAnalyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		client:  client,
		logger:  logger.Named("analyzer"),
	}
}

// NewRemoteRegistry registers remote clients for the four stock capabilities.
func NewRemoteRegistry(baseURL string, client *http.Client, logger *zap.Logger) *Registry {
	reg := NewRegistry()
	reg.Register(WritingRecognition, Capability{Analyzer: NewRemoteAnalyzer(baseURL, WritingRecognition, client, logger)})
	reg.Register(FaceRecognition, Capability{Analyzer: NewRemoteAnalyzer(baseURL, FaceRecognition, client, logger), WritesOutput: true})
	reg.Register(ColorRecognition, Capability{Analyzer: NewRemoteAnalyzer(baseURL, ColorRecognition, client, logger)})
	reg.Register(Classifier, Capability{Analyzer: NewRemoteAnalyzer(baseURL, Classifier, client, logger)})
	return reg
}

// Analyze posts the target image path to the inference service and decodes
// the capability result.
func (a *RemoteAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(remoteRequest{ImagePath: req.ImagePath, OutputPath: req.OutputPath})
	if err != nil {
		return nil, logging.NewOperationError("analyzer.encode_request", "", err)
	}

	url := fmt.Sprintf("%s/analyze/%s", a.baseURL, a.name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, logging.NewOperationError("analyzer.build_request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		wrapped := logging.NewOperationError("analyzer.call", "", err)
		a.logger.Error("inference call failed", zap.Error(wrapped), zap.String("capability", a.name))
		return nil, wrapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, logging.NewOperationError("analyzer.read_response", "", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("inference service returned %d", resp.StatusCode)
		a.logger.Error("inference call rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("capability", a.name))
		return nil, logging.NewOperationError("analyzer.call", "", err)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, logging.NewOperationError("analyzer.decode_response", "", err)
	}
	return &result, nil
}
