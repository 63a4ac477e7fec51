package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/analyzers"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/notify"
	"gorm.io/gorm"
)

// SupportHandler serves the help chat and feedback form. Neither requires
// sign-in.
type SupportHandler struct {
	DB        *gorm.DB
	Assistant ChatResponder
}

func NewSupportHandler(db *gorm.DB, assistant ChatResponder) *SupportHandler {
	return &SupportHandler{DB: db, Assistant: assistant}
}

type ChatRequest struct {
	Message string                  `json:"message"`
	History []analyzers.ChatMessage `json:"history"`
}

func (h *SupportHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": h.Assistant.Reply(c.Request.Context(), msg, req.History)})
}

type FeedbackRequest struct {
	Type    string  `json:"type"`
	Content *string `json:"content"`
	Rating  *int    `json:"rating"`
	UserID  *string `json:"userId"`
	Email   *string `json:"email"`
}

// SubmitFeedback stores a feedback, complaint or rating entry. Unknown
// types are filed as feedback and ratings are clamped to 1-5.
func (h *SupportHandler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fb := models.Feedback{
		Type:    normalizeFeedbackType(req.Type),
		Content: trimmedOrNil(req.Content),
		UserID:  trimmedOrNil(req.UserID),
		Email:   trimmedOrNil(req.Email),
	}
	if req.Rating != nil {
		r := *req.Rating
		if r < 1 {
			r = 1
		}
		if r > 5 {
			r = 5
		}
		fb.Rating = &r
	}
	if fb.Content == nil && fb.Rating == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or rating is required"})
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Create(&fb).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save feedback"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": fb.ID})
}

func normalizeFeedbackType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case "complaint", "rating":
		return t
	default:
		return "feedback"
	}
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// NotificationHandler streams score notifications over a websocket.
type NotificationHandler struct {
	Hub *notify.Hub
}

func NewNotificationHandler(hub *notify.Hub) *NotificationHandler {
	return &NotificationHandler{Hub: hub}
}

func (h *NotificationHandler) Stream(c *gin.Context) {
	h.Hub.ServeWS(c.Writer, c.Request, middleware.UserID(c))
}
