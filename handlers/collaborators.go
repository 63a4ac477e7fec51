package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/analyzers"
)

// BankStatementAnalyzer scores an uploaded bank statement.
type BankStatementAnalyzer interface {
	Analyze(ctx context.Context, filename string, data []byte) (*analyzers.BankReport, error)
}

// SensorFileAnalyzer extracts soil metrics and rainfall from a sensor upload.
type SensorFileAnalyzer interface {
	Analyze(ctx context.Context, filename string, data []byte) (*analyzers.SensorReport, error)
}

// CropImageAnalyzer grades a crop photo.
type CropImageAnalyzer interface {
	Analyze(ctx context.Context, img analyzers.CropImage) (*analyzers.CropAnalysis, error)
}

// ForecastProvider fetches the live weather for a location.
type ForecastProvider interface {
	ForecastFor(ctx context.Context, lat, lon *float64, address string) (*analyzers.Forecast, error)
}

// ChatResponder answers support chat messages. It never fails.
type ChatResponder interface {
	Reply(ctx context.Context, message string, history []analyzers.ChatMessage) string
}

// Analyzers bundles the analysis collaborators used by the activity and
// milestone handlers.
type Analyzers struct {
	Bank    BankStatementAnalyzer
	Sensor  SensorFileAnalyzer
	Crop    CropImageAnalyzer
	Weather ForecastProvider
}

const defaultMaxUploadBytes = 16 << 20

// readUpload reads a multipart file field into memory. On failure it writes
// the error response and returns ok=false.
func readUpload(c *gin.Context, field string, limit int64) (filename string, data []byte, ok bool) {
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	file, header, err := c.Request.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File is too large", "code": "FileTooLarge"})
			return "", nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No " + field + " uploaded"})
		return "", nil, false
	}
	defer file.Close()

	if header.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File is too large", "code": "FileTooLarge"})
		return "", nil, false
	}
	data, err = io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return "", nil, false
	}
	if int64(len(data)) > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File is too large", "code": "FileTooLarge"})
		return "", nil, false
	}
	return header.Filename, data, true
}

// analysisFailed maps an analyzer error: bad input is the client's fault,
// anything else is an upstream failure worth retrying.
func analysisFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, analyzers.ErrUnsupportedFormat), errors.Is(err, analyzers.ErrEmptyUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "UnsupportedUpload"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Analysis failed, please try again later.", "code": "AnalysisFailed"})
	}
}
