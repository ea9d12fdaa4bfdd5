package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/snaphub/internal/analyzer"
	"github.com/example/snaphub/internal/auth"
	"github.com/example/snaphub/internal/ledger"
	"github.com/example/snaphub/internal/storage"
	"github.com/example/snaphub/internal/usecase"
)

// DefaultMaxUploadSize caps multipart image payloads when no override is set.
const DefaultMaxUploadSize int64 = 10 << 20

// Deps carries the collaborators the HTTP surface needs.
type Deps struct {
	Ingestion      *usecase.IngestionService
	Dispatch       *usecase.DispatchService
	Uploads        ledger.Ledger
	Logger         *zap.Logger
	StaticRoot     string
	MaxUploadBytes int64
	SnapClient     *http.Client
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Deps) {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadSize
	}
	if deps.SnapClient == nil {
		deps.SnapClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	liveness := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": 200, "message": "All Systems are GO!"})
	}
	router.GET("/", liveness)
	router.GET("/healthz", liveness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.StaticRoot != "" {
		router.Static("/static/images", deps.StaticRoot)
	}

	router.POST("/api/upload/image", func(c *gin.Context) {
		token := c.PostForm("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Auth Required"})
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "image file is required"})
			return
		}
		if file.Size > deps.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "image too large"})
			return
		}
		if ct := file.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"message": "only image uploads are accepted"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, deps.MaxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read image"})
			return
		}
		if int64(len(data)) > deps.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "image too large"})
			return
		}

		receipt, err := deps.Ingestion.AcceptUpload(c.Request.Context(), token, data)
		if err != nil {
			respondUploadError(c, logger, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  fmt.Sprintf("Accepted the Image from user %s", receipt.Username),
			"filename": receipt.Filename,
			"url":      receipt.URL,
		})
	})

	router.GET("/api/getImages", func(c *gin.Context) {
		rows, err := ledgerRows(c, deps)
		if err != nil {
			logger.Error("failed to read upload log", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Something went wrong with the text parser"})
			return
		}
		c.String(http.StatusOK, rows)
	})

	router.GET("/api/deleteImage", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusForbidden, gin.H{"message": "Token Not Supplied"})
			return
		}
		path := c.Query("path")
		if path == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Path not supplied"})
			return
		}

		if err := deps.Ingestion.DeleteUpload(c.Request.Context(), token, path); err != nil {
			respondDeleteError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Deleted Image"})
	})

	router.GET("/api/ml/:function", func(c *gin.Context) {
		name := c.Param("function")
		outcome, err := deps.Dispatch.Dispatch(c.Request.Context(), name)
		if err != nil {
			respondDispatchError(c, logger, name, err)
			return
		}

		body := gin.H{
			"output":  outcome.Result.Output,
			"success": outcome.Result.Success,
			"score":   outcome.Result.Score,
		}
		if outcome.OutputPath != "" {
			body["filepath"] = outcome.OutputPath
		}
		c.JSON(http.StatusOK, body)
	})

	router.POST("/api/snap_raspberry", func(c *gin.Context) {
		ip := c.PostForm("raspip")
		if ip == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Auth Token or Raspberry Pi Ip not supplied"})
			return
		}

		url := fmt.Sprintf("http://%s:5000/api/snap", ip)
		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, url, nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid device address"})
			return
		}
		resp, err := deps.SnapClient.Do(req)
		if err != nil {
			logger.Warn("device snap forward failed", zap.String("device", ip), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"message": "device unreachable"})
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"message": "device response unreadable"})
			return
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(resp.StatusCode, contentType, body)
	})

	router.GET("/api/stats", func(c *gin.Context) {
		summary, err := deps.Dispatch.Stats(c.Request.Context())
		if err != nil {
			logger.Error("failed to aggregate stats", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "could not read upload log"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func ledgerRows(c *gin.Context, deps Deps) (string, error) {
	records, err := deps.Uploads.All(c.Request.Context())
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, rec := range records {
		row := []string{rec.Event, rec.Username, rec.Filename, rec.URL, rec.CreatedAt.UTC().Format(time.RFC3339)}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func respondUploadError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Auth Required"})
	case errors.Is(err, auth.ErrMalformedToken):
		c.JSON(http.StatusForbidden, gin.H{"message": "Malformed JWT."})
	case errors.Is(err, usecase.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
	case errors.Is(err, storage.ErrUnsafePath):
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid username"})
	default:
		logger.Error("upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to store image"})
	}
}

func respondDeleteError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		c.JSON(http.StatusForbidden, gin.H{"message": "Token Not Supplied"})
	case errors.Is(err, auth.ErrMalformedToken):
		c.JSON(http.StatusForbidden, gin.H{"message": "Malformed JWT."})
	case errors.Is(err, usecase.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
	case errors.Is(err, storage.ErrUnsafePath):
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid path"})
	default:
		logger.Error("delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Could not delete"})
	}
}

func respondDispatchError(c *gin.Context, logger *zap.Logger, name string, err error) {
	switch {
	case errors.Is(err, analyzer.ErrUnknownAnalyzer):
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown ml function"})
	case errors.Is(err, usecase.ErrNoUploads):
		c.JSON(http.StatusNotFound, gin.H{"message": "no uploads yet"})
	case errors.Is(err, ledger.ErrCorruptRecord), errors.Is(err, ledger.ErrUnreadable):
		logger.Error("dispatch target resolution failed", zap.String("function", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not resolve latest upload"})
	default:
		logger.Error("analyzer invocation failed", zap.String("function", name), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"message": "analyzer unavailable"})
	}
}
