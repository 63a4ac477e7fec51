package handlers

import (
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/krishimitra/krishimitra-api/config"
	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/profile"
	"github.com/krishimitra/krishimitra-api/scoring"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minSeedScore = 60
	maxSeedScore = 100
)

type AuthHandler struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Ledger *ledger.Ledger
	Keeper *profile.Keeper
	log    *slog.Logger

	// seedScore picks the starting score of a new account.
	seedScore func() int
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, l *ledger.Ledger, keeper *profile.Keeper, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		DB:     db,
		Cfg:    cfg,
		Ledger: l,
		Keeper: keeper,
		log:    logger.With("component", "auth"),
		seedScore: func() int {
			return minSeedScore + rand.Intn(maxSeedScore-minSeedScore+1)
		},
	}
}

type RegisterRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	Phone      string `json:"phone"`
	TrustScore *int   `json:"trustScore"`
}

type LoginRequest struct {
	Email          string `json:"email" binding:"required"`
	Password       string `json:"password" binding:"required"`
	PreviousUserID string `json:"previousUserId"`
}

// RefreshToken request body
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Register creates the account, seeds its trust score and signs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var count int64
	if err := h.DB.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check email"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered", "code": "EmailTaken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	score := h.seedScore()
	if req.TrustScore != nil {
		score = *req.TrustScore
	}
	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
		TrustScore:   scoring.ClampScore(score),
	}
	if err := h.DB.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	h.recordLogin(c, user.ID)
	h.Keeper.Load(c.Request.Context(), user.ID, user.TrustScore)

	h.respondWithSession(c, http.StatusCreated, user, user.TrustScore)
}

// Login signs the user in and starts a new scoring session. When the
// device was last used by a different account, that account's ledger and
// score start over from zero.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var user models.User
	err := h.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password.", "code": "InvalidCredentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password.", "code": "InvalidCredentials"})
		return
	}

	h.Keeper.Load(c.Request.Context(), user.ID, user.TrustScore)
	score := scoring.ClampScore(user.TrustScore)
	if req.PreviousUserID != "" && req.PreviousUserID != user.ID {
		h.Ledger.ClearAll(ctx, user.ID)
		if score, err = h.Keeper.SetScore(ctx, user.ID, 0); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset trust score"})
			return
		}
		h.log.Info("account switched on device", "user_id", user.ID, "previous_user_id", req.PreviousUserID)
	}

	h.recordLogin(c, user.ID)
	h.Ledger.ResetSession(ctx, user.ID)

	h.respondWithSession(c, http.StatusOK, user, score)
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Validate refresh token using the refresh secret
	claims, err := middleware.ParseToken(req.RefreshToken, h.Cfg.JWTRefreshSecret)
	if err != nil {
		code := "InvalidToken"
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = "ExpiredToken"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token", "code": code})
		return
	}

	// Fetch user from DB to ensure they still exist
	var user models.User
	if err := h.DB.Where("id = ?", claims.UserID).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found", "code": "InvalidToken"})
		return
	}

	accessToken, refreshToken, err := h.issueTokens(user.ID, claims.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// Logout drops the in-memory session score. Queued score writes still sync.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.UserID(c)
	h.Keeper.Forget(userID)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the user record with the live score.
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	var user models.User
	if err := h.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	score, err := h.Keeper.Score(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trust score"})
		return
	}
	user.TrustScore = score

	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"syncPending": h.Keeper.Pending(ctx, userID),
	})
}

func (h *AuthHandler) respondWithSession(c *gin.Context, status int, user models.User, score int) {
	accessToken, refreshToken, err := h.issueTokens(user.ID, uuid.NewString())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}
	user.TrustScore = score
	c.JSON(status, gin.H{
		"user":          user,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

func (h *AuthHandler) issueTokens(userID, sessionID string) (string, string, error) {
	accessToken, err := middleware.GenerateToken(userID, sessionID, h.Cfg.JWTSecret, h.Cfg.AccessTokenTTL)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := middleware.GenerateToken(userID, sessionID, h.Cfg.JWTRefreshSecret, h.Cfg.RefreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// recordLogin appends to the login history. Failures are logged only.
func (h *AuthHandler) recordLogin(c *gin.Context, userID string) {
	now := time.Now().UTC()
	entry := models.LoginHistory{
		UserID:    userID,
		Date:      now.Format("2006-01-02"),
		Time:      now.Format("15:04:05"),
		Timestamp: now,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&entry).Error; err != nil {
		h.log.Warn("failed to record login", "user_id", userID, "error", err)
	}
}
