package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/gating"
)

// FeatureChecker decides whether a user may open a feature.
type FeatureChecker interface {
	Check(ctx context.Context, userID string, f gating.Feature) error
}

// RequireFeature rejects requests for locked features with 403. It must run
// after JwtAuthMiddleware.
func RequireFeature(checker FeatureChecker, feature gating.Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in context"})
			c.Abort()
			return
		}

		err := checker.Check(c.Request.Context(), userID, feature)
		switch {
		case err == nil:
			c.Next()
			return
		case errors.Is(err, gating.ErrNotStarted):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "NotStarted", "feature": feature})
		case errors.Is(err, gating.ErrNotEligible):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "NotEligible", "feature": feature})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check feature access"})
		}
		c.Abort()
	}
}
