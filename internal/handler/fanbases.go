package handler

import (
	"net/http"

	"coursepay/internal/service"
	"coursepay/pkg/response"

	"github.com/gin-gonic/gin"
)

// Charge bills the caller's saved payment method.
// POST /api/fanbases/charge
func (h *Handler) Charge(c *gin.Context) {
	var req service.ChargeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.fanbases.Charge(c.Request.Context(), userIDFrom(c), &req)
	if err != nil {
		h.writeError(c, response.ProviderFanbases, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Confirm grants a payment after the checkout redirect. The user comes
// from the bearer token when one is sent, otherwise from the body.
// POST /api/fanbases/confirm
func (h *Handler) Confirm(c *gin.Context) {
	var req service.ConfirmInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.fanbases.Confirm(c.Request.Context(), userIDFrom(c), &req)
	if err != nil {
		h.writeError(c, response.ProviderFanbases, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateCheckout opens a hosted Fanbases checkout.
// POST /api/fanbases/checkout
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req service.CheckoutInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.InternalReference == "" {
		response.ParamError(c, "internal_reference is required")
		return
	}

	res, err := h.fanbases.CreateCheckout(c.Request.Context(), userIDFrom(c), &req)
	if err != nil {
		h.writeError(c, response.ProviderFanbases, err)
		return
	}
	response.Success(c, gin.H{
		"checkout_url":        res.CheckoutURL,
		"checkout_session_id": res.CheckoutSessionID,
		"expires_at":          res.ExpiresAt,
	})
}
