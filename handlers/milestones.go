package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/analyzers"
	"github.com/krishimitra/krishimitra-api/config"
	"github.com/krishimitra/krishimitra-api/gating"
	"github.com/krishimitra/krishimitra-api/middleware"
)

// MilestoneHandler serves Pay-as-you-Grow: the loan periods, the three
// disbursement stages and their verification.
type MilestoneHandler struct {
	Cfg        *config.Config
	Milestones *gating.MilestoneTracker
	Crop       CropImageAnalyzer
	log        *slog.Logger
}

func NewMilestoneHandler(cfg *config.Config, m *gating.MilestoneTracker, crop CropImageAnalyzer, logger *slog.Logger) *MilestoneHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MilestoneHandler{
		Cfg:        cfg,
		Milestones: m,
		Crop:       crop,
		log:        logger.With("component", "milestones"),
	}
}

func milestoneFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gating.ErrInvalidDate), errors.Is(err, gating.ErrInvalidMoisture), errors.Is(err, gating.ErrInvalidStage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, gating.ErrMoistureTooLow):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "MoistureTooLow"})
	case errors.Is(err, gating.ErrTimeLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "TimeLocked"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update milestones"})
	}
}

func (h *MilestoneHandler) GetMilestones(c *gin.Context) {
	c.JSON(http.StatusOK, h.Milestones.Overview(c.Request.Context(), middleware.UserID(c)))
}

type LoanStartRequest struct {
	LoanStart string `json:"loanStart" binding:"required"`
}

func (h *MilestoneHandler) SetLoanStart(c *gin.Context) {
	var req LoanStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ov, err := h.Milestones.SetLoanStart(c.Request.Context(), middleware.UserID(c), req.LoanStart)
	if err != nil {
		milestoneFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

type MoistureRequest struct {
	Moisture *float64 `json:"moisture" binding:"required"`
}

// SubmitMoisture records a stage 2 soil-moisture reading.
func (h *MilestoneHandler) SubmitMoisture(c *gin.Context) {
	var req MoistureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ov, err := h.Milestones.SubmitMoisture(c.Request.Context(), middleware.UserID(c), *req.Moisture)
	if err != nil {
		milestoneFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// VerifyStage checks the photo in the "image" field against the stage
// given in the "stage" form field.
func (h *MilestoneHandler) VerifyStage(c *gin.Context) {
	name, data, ok := readUpload(c, "image", h.Cfg.MaxUploadBytes)
	if !ok {
		return
	}
	stage, err := strconv.Atoi(c.PostForm("stage"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gating.ErrInvalidStage.Error()})
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	analysis, err := h.Crop.Analyze(ctx, analyzers.CropImage{
		Filename: name,
		Data:     data,
		Prompt:   analyzers.StagePrompt(stage),
		Crop:     c.PostForm("crop"),
	})
	if err != nil {
		h.log.Warn("stage analysis failed", "user_id", userID, "stage", stage, "error", err)
		analysisFailed(c, err)
		return
	}

	v, err := h.Milestones.VerifyStage(ctx, userID, stage, gating.StageEvidence{
		Confidence:   analysis.Confidence,
		Issues:       analysis.Issues,
		Observations: analysis.Observations,
	})
	if err != nil {
		milestoneFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": v, "analysis": analysis})
}
