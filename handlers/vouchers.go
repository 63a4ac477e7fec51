package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/krishimitra/krishimitra-api/config"
	"github.com/krishimitra/krishimitra-api/gating"
	"github.com/krishimitra/krishimitra-api/middleware"
	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/utils"
	"gorm.io/gorm"
)

type VoucherHandler struct {
	DB            *gorm.DB
	Cfg           *config.Config
	Vouchers      *gating.VoucherBook
	stellarClient utils.DisbursementClient
	log           *slog.Logger
}

func NewVoucherHandler(db *gorm.DB, cfg *config.Config, book *gating.VoucherBook, logger *slog.Logger) *VoucherHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoucherHandler{
		DB:            db,
		Cfg:           cfg,
		Vouchers:      book,
		stellarClient: utils.NewStellarClient(cfg.HorizonURL, cfg.NetworkPassphrase),
		log:           logger.With("component", "vouchers"),
	}
}

func voucherFailed(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gating.ErrVoucherNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, gating.ErrVoucherNotCovered):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "StageLocked"})
	case errors.Is(err, gating.ErrInvalidPIN):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "InvalidPIN"})
	case errors.Is(err, gating.ErrVoucherRedeemed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "AlreadyRedeemed"})
	case errors.Is(err, gating.ErrVoucherDisbursed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "AlreadyDisbursed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load vouchers"})
	}
}

// ListVouchers returns the vouchers of every active stage.
func (h *VoucherHandler) ListVouchers(c *gin.Context) {
	vouchers, err := h.Vouchers.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		voucherFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"qualifiedAmount": gating.QualifiedAmount,
		"vouchers":        vouchers,
	})
}

type RedeemRequest struct {
	PIN string `json:"pin" binding:"required"`
}

func (h *VoucherHandler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.Vouchers.Redeem(c.Request.Context(), middleware.UserID(c), c.Param("id"), strings.TrimSpace(req.PIN))
	if err != nil {
		voucherFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type DisbursementRequest struct {
	Destination string `json:"destination"`
}

// Disbursement builds the payment envelope for an active voucher and marks
// the voucher paid out, so each voucher yields one envelope. The destination
// defaults to the user's saved Stellar address.
func (h *VoucherHandler) Disbursement(c *gin.Context) {
	var req DisbursementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Cfg.DisbursementAccount == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Disbursement is not configured"})
		return
	}
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		var user models.User
		if err := h.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err == nil {
			destination = user.StellarAddress
		}
	}
	if !utils.ValidAddress(destination) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid Stellar destination account is required"})
		return
	}

	v, err := h.Vouchers.Get(ctx, userID, c.Param("id"))
	if err != nil {
		voucherFailed(c, err)
		return
	}
	switch v.Status {
	case models.VoucherRedeemed:
		voucherFailed(c, gating.ErrVoucherRedeemed)
		return
	case models.VoucherDisbursed:
		voucherFailed(c, gating.ErrVoucherDisbursed)
		return
	}

	if err := h.stellarClient.ValidateAccount(destination); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid destination account: " + err.Error()})
		return
	}
	xdr, err := h.stellarClient.BuildDisbursementTx(
		h.Cfg.DisbursementAccount,
		destination,
		h.Cfg.DisbursementAsset,
		h.Cfg.DisbursementIssuer,
		utils.FormatAmount(v.Amount),
		v.Code,
	)
	if err != nil {
		h.log.Error("failed to build disbursement", "user_id", userID, "voucher_id", v.VoucherID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to build disbursement transaction"})
		return
	}

	signed := false
	if h.Cfg.DisbursementSecret != "" {
		xdr, err = utils.SignTx(xdr, h.Cfg.DisbursementSecret, h.Cfg.NetworkPassphrase)
		if err != nil {
			h.log.Error("failed to sign disbursement", "user_id", userID, "voucher_id", v.VoucherID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to sign disbursement transaction"})
			return
		}
		signed = true
	}

	v, err = h.Vouchers.MarkDisbursed(ctx, v, destination)
	if err != nil {
		voucherFailed(c, err)
		return
	}
	h.log.Info("voucher disbursed", "user_id", userID, "voucher_id", v.VoucherID, "destination", destination, "signed", signed)

	c.JSON(http.StatusOK, gin.H{
		"voucher":            v,
		"destination":        destination,
		"envelope_xdr":       xdr,
		"signed":             signed,
		"network_passphrase": h.Cfg.NetworkPassphrase,
	})
}
