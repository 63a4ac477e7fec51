package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/gating"
	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/profile"
	"github.com/krishimitra/krishimitra-api/scoring"
)

type DashboardHandler struct {
	Ledger  *ledger.Ledger
	Policy  *gating.Policy
	Awarder *scoring.Awarder
	Keeper  *profile.Keeper
	Store   profile.Store
}

func NewDashboardHandler(l *ledger.Ledger, policy *gating.Policy, awarder *scoring.Awarder, keeper *profile.Keeper, store profile.Store) *DashboardHandler {
	return &DashboardHandler{
		Ledger:  l,
		Policy:  policy,
		Awarder: awarder,
		Keeper:  keeper,
		Store:   store,
	}
}

// DashboardState mirrors the server-side gating state for clients.
type DashboardState struct {
	Score         int                      `json:"score"`
	Started       bool                     `json:"started"`
	Evaluated     bool                     `json:"evaluated"`
	Eligible      bool                     `json:"eligible"`
	Activities    map[ledger.Activity]bool `json:"activities"`
	Contributions map[ledger.Activity]int  `json:"contributions"`
	Locks         map[gating.Feature]bool  `json:"locks"`
	SyncPending   bool                     `json:"syncPending"`
}

// GetDashboard returns the score, the session progress of every activity
// and the lock state of every feature.
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	h.respondState(c, middleware.UserID(c))
}

// Start opens the activity pages for the user.
func (h *DashboardHandler) Start(c *gin.Context) {
	userID := middleware.UserID(c)
	h.Policy.Start(c.Request.Context(), userID)
	h.respondState(c, userID)
}

// Evaluate recomputes the score from this session's completed activities.
func (h *DashboardHandler) Evaluate(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()

	if !h.Policy.HasStarted(ctx, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": gating.ErrNotStarted.Error(), "code": "NotStarted"})
		return
	}
	ev, err := h.Awarder.Evaluate(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate trust score"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// ListTransactions returns the score history, newest first.
func (h *DashboardHandler) ListTransactions(c *gin.Context) {
	txs, err := h.Store.ListTransactions(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (h *DashboardHandler) respondState(c *gin.Context, userID string) {
	ctx := c.Request.Context()

	score, err := h.Keeper.Score(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load trust score"})
		return
	}
	locks, err := h.Policy.Locks(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load feature locks"})
		return
	}

	state := DashboardState{
		Score:         score,
		Started:       h.Policy.HasStarted(ctx, userID),
		Evaluated:     h.Policy.Evaluated(ctx, userID),
		Activities:    make(map[ledger.Activity]bool, len(ledger.Activities)),
		Contributions: scoring.Contributions(ctx, h.Ledger, userID),
		Locks:         locks,
		SyncPending:   h.Keeper.Pending(ctx, userID),
	}
	state.Eligible = state.Evaluated && score >= gating.EligibleScore
	for _, a := range ledger.Activities {
		state.Activities[a] = h.Ledger.Done(ctx, userID, a)
	}
	c.JSON(http.StatusOK, state)
}
