package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/krishimitra/krishimitra-api/analyzers"
	"github.com/krishimitra/krishimitra-api/config"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/quests"
	"github.com/krishimitra/krishimitra-api/scoring"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityHandler serves the six score-earning activities.
type ActivityHandler struct {
	DB        *gorm.DB
	Cfg       *config.Config
	Awarder   *scoring.Awarder
	Quests    *quests.Bank
	Analyzers Analyzers
	log       *slog.Logger
}

func NewActivityHandler(db *gorm.DB, cfg *config.Config, awarder *scoring.Awarder, bank *quests.Bank, an Analyzers, logger *slog.Logger) *ActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityHandler{
		DB:        db,
		Cfg:       cfg,
		Awarder:   awarder,
		Quests:    bank,
		Analyzers: an,
		log:       logger.With("component", "activities"),
	}
}

// scoringFailed maps award module errors to responses.
func scoringFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scoring.ErrProfileIncomplete):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "ProfileIncomplete"})
	case errors.Is(err, scoring.ErrNoRainfall):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "NoRainfall"})
	case errors.Is(err, scoring.ErrNoQuizScore):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "NoQuizScore"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update trust score"})
	}
}

// GetProfile returns the last saved profile form.
func (h *ActivityHandler) GetProfile(c *gin.Context) {
	form, ok := h.Awarder.SavedProfile(c.Request.Context(), middleware.UserID(c))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No saved profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": form})
}

func (h *ActivityHandler) SubmitProfile(c *gin.Context) {
	var form scoring.ProfileForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Awarder.AwardProfile(c.Request.Context(), middleware.UserID(c), form)
	if err != nil {
		scoringFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// UploadBankStatement analyzes the statement in the "file" field.
func (h *ActivityHandler) UploadBankStatement(c *gin.Context) {
	name, data, ok := readUpload(c, "file", h.Cfg.MaxUploadBytes)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	report, err := h.Analyzers.Bank.Analyze(ctx, name, data)
	if err != nil {
		h.log.Warn("bank statement analysis failed", "user_id", userID, "filename", name, "error", err)
		analysisFailed(c, err)
		return
	}

	out, err := h.Awarder.AwardBank(ctx, userID, scoring.BankResult{
		Active:     report.Active,
		TrustDelta: report.TrustDelta,
	})
	if err != nil {
		scoringFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": report, "outcome": out})
}

// UploadSensorReadings analyzes the sensor export in the "file" field,
// persists the report and caches it for the weather check.
func (h *ActivityHandler) UploadSensorReadings(c *gin.Context) {
	name, data, ok := readUpload(c, "file", h.Cfg.MaxUploadBytes)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	report, err := h.Analyzers.Sensor.Analyze(ctx, name, data)
	if err != nil {
		h.log.Warn("sensor analysis failed", "user_id", userID, "filename", name, "error", err)
		analysisFailed(c, err)
		return
	}
	report.ReportID = uuid.NewString()
	h.saveSensorReport(c, userID, name, report)

	raw, err := json.Marshal(report)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode sensor report"})
		return
	}
	out, err := h.Awarder.AwardSensor(ctx, userID, scoring.SensorReading{
		TrustScore: report.TrustScore,
		Metrics: scoring.Metrics{
			PH:       report.Metrics.PH,
			Moisture: report.Metrics.Moisture,
			Nitrogen: report.Metrics.Nitrogen,
		},
		Report: raw,
	})
	if err != nil {
		scoringFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": report, "outcome": out})
}

// saveSensorReport stores the report row. A failed write only loses history.
func (h *ActivityHandler) saveSensorReport(c *gin.Context, userID, filename string, report *analyzers.SensorReport) {
	metrics, _ := json.Marshal(report.Metrics)
	row := models.SensorReport{
		ID:               report.ReportID,
		UserID:           userID,
		OriginalFilename: filename,
		Metrics:          datatypes.JSON(metrics),
		Lat:              report.Lat,
		Lon:              report.Lon,
		RainfallTotal:    report.RainfallTotal,
	}
	if report.TrustScore != nil {
		row.TrustScore = *report.TrustScore
	}
	if report.Address != nil {
		row.AddressText = *report.Address
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		h.log.Warn("failed to save sensor report", "user_id", userID, "report_id", row.ID, "error", err)
	}
}

// LatestSensorReport returns the cached report of the last upload.
func (h *ActivityHandler) LatestSensorReport(c *gin.Context) {
	raw, ok := h.Awarder.LastSensorReport(c.Request.Context(), middleware.UserID(c))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No sensor report uploaded yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": raw})
}

// AnalyzeCrop grades the photo in the "image" field.
func (h *ActivityHandler) AnalyzeCrop(c *gin.Context) {
	name, data, ok := readUpload(c, "image", h.Cfg.MaxUploadBytes)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	analysis, err := h.Analyzers.Crop.Analyze(ctx, analyzers.CropImage{
		Filename: name,
		Data:     data,
		Prompt:   c.PostForm("prompt"),
		Crop:     c.PostForm("crop"),
	})
	if err != nil {
		h.log.Warn("crop analysis failed", "user_id", userID, "filename", name, "error", err)
		analysisFailed(c, err)
		return
	}

	out, err := h.Awarder.AwardCrop(ctx, userID, analysis.QualityScore)
	if err != nil {
		scoringFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis, "outcome": out})
}

// GetQuiz returns the quest questions without their answers.
func (h *ActivityHandler) GetQuiz(c *gin.Context) {
	q, err := h.Quests.Get(c.Query("quest"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	lang := c.DefaultQuery("lang", "en")
	c.JSON(http.StatusOK, gin.H{
		"id":        q.ID,
		"title":     q.Title,
		"points":    q.Points,
		"lang":      lang,
		"questions": q.For(lang),
	})
}

type QuizSubmission struct {
	QuestID string `json:"questId"`
	Lang    string `json:"lang"`
	Answers []int  `json:"answers"`
	Score   *int   `json:"score"`
	Total   *int   `json:"total"`
}

// SubmitQuiz grades the answers, or accepts a client-graded score and
// total, and awards proportional credit.
func (h *ActivityHandler) SubmitQuiz(c *gin.Context) {
	var req QuizSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := h.Quests.Get(req.QuestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var correct, total int
	switch {
	case len(req.Answers) > 0:
		correct, total, err = q.Grade(req.Lang, req.Answers)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	case req.Score != nil && req.Total != nil:
		correct, total = *req.Score, *req.Total
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "answers or score and total are required"})
		return
	}

	out, err := h.Awarder.AwardQuiz(c.Request.Context(), middleware.UserID(c), correct, total, q.Points)
	if err != nil {
		scoringFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correct": correct, "total": total, "outcome": out})
}

// CheckWeather scores the rainfall of the last sensor upload.
func (h *ActivityHandler) CheckWeather(c *gin.Context) {
	res, err := h.Awarder.AwardWeather(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		scoringFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Forecast proxies the live forecast for lat/lon or an address.
func (h *ActivityHandler) Forecast(c *gin.Context) {
	lat, err := optionalFloat(c.Query("lat"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat must be a number"})
		return
	}
	lon, err := optionalFloat(c.Query("lon"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lon must be a number"})
		return
	}

	fc, err := h.Analyzers.Weather.ForecastFor(c.Request.Context(), lat, lon, c.Query("address"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, fc)
	case errors.Is(err, analyzers.ErrLocationRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, analyzers.ErrAddressNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Warn("forecast failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Weather service unavailable, please try again later.", "code": "UpstreamFailed"})
	}
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
