package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/memberships"
	"github.com/medsociety/portal/internal/registrations"
	"github.com/medsociety/portal/pkg/response"
)

const supportMessage = "Payment successful, registration failed. Please contact support with your payment reference."

// Handler handles payment endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownTracking):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotPayable):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrInitiationFailed):
		response.BadGateway(c, "could not start payment, please try again")
	case errors.Is(err, ErrVerificationFailed):
		response.BadGateway(c, "could not verify payment status, please try again")
	case errors.Is(err, registrations.ErrFinalizationFailed), errors.Is(err, memberships.ErrFinalizationFailed):
		response.Internal(c, supportMessage)
	default:
		h.logger.Error("payment request failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

// InitiateRegistration handles POST /registrations/:id/payment.
func (h *Handler) InitiateRegistration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	intent, err := h.svc.InitiateRegistrationPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, intent)
}

// InitiateMembership handles POST /memberships/:id/payment.
func (h *Handler) InitiateMembership(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid application id")
		return
	}
	intent, err := h.svc.InitiateMembershipPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, intent)
}

// ConfirmRequest is the body for PATCH /registrations/:id/payment. A status reported by the
// client is not trusted; only the tracking id is used to ask the gateway.
type ConfirmRequest struct {
	OrderTrackingID string `json:"order_tracking_id"`
}

// ConfirmRegistration handles PATCH /registrations/:id/payment, the payment update sent by
// the client after the hosted page. The registration is finalized only with the status the
// gateway reports for a tracking id issued for it.
func (h *Handler) ConfirmRegistration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	var req ConfirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	res, err := h.svc.ConfirmRegistrationPayment(c.Request.Context(), id, req.OrderTrackingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, res)
}

// Status handles GET /payments/:trackingId/status, the manual "check payment status" action.
func (h *Handler) Status(c *gin.Context) {
	res, err := h.svc.CheckNow(c.Request.Context(), c.Param("trackingId"), c.Query("merchant_reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, res)
}

// StopWatching handles DELETE /payments/:trackingId/watch.
func (h *Handler) StopWatching(c *gin.Context) {
	response.OK(c, gin.H{"stopped": h.svc.StopWatching(c.Request.Context(), c.Param("trackingId"))})
}

// Callback handles GET /payments/callback, where the hosted page returns the payer.
// Pesapal sends OrderTrackingId and OrderMerchantReference; Omise only our merchant_reference.
func (h *Handler) Callback(c *gin.Context) {
	trackingID := c.Query("OrderTrackingId")
	ref := c.Query("OrderMerchantReference")
	if ref == "" {
		ref = c.Query("merchant_reference")
	}
	if ref == "" {
		response.BadRequest(c, "missing merchant reference")
		return
	}
	res, err := h.svc.CheckNow(c.Request.Context(), trackingID, ref)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, res)
}

type notification struct {
	OrderTrackingID        string `json:"OrderTrackingId" form:"OrderTrackingId"`
	OrderMerchantReference string `json:"OrderMerchantReference" form:"OrderMerchantReference"`
	OrderNotificationType  string `json:"OrderNotificationType" form:"OrderNotificationType"`
	// Omise event shape.
	Key  string `json:"key" form:"-"`
	Data struct {
		ID       string                 `json:"id"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"data" form:"-"`
}

// Webhook handles gateway notifications on /webhooks/payments. The notification is only
// a hint: the status is always re-read from the gateway before anything is finalized.
func (h *Handler) Webhook(c *gin.Context) {
	var n notification
	if c.Request.Method == http.MethodGet {
		_ = c.ShouldBindQuery(&n)
	} else if err := c.ShouldBindJSON(&n); err != nil {
		response.BadRequest(c, "invalid notification")
		return
	}
	trackingID, ref := n.OrderTrackingID, n.OrderMerchantReference
	if trackingID == "" && n.Data.ID != "" {
		trackingID = n.Data.ID
		ref, _ = n.Data.Metadata["merchant_reference"].(string)
	}
	if trackingID == "" || ref == "" {
		response.BadRequest(c, "missing payment reference")
		return
	}

	status := http.StatusOK
	if _, err := h.svc.CheckNow(c.Request.Context(), trackingID, ref); err != nil {
		h.logger.Warn("payment notification not processed", zap.Error(err),
			zap.String("order_tracking_id", trackingID), zap.String("merchant_reference", ref))
		status = http.StatusInternalServerError
		if errors.Is(err, ErrUnknownTracking) {
			status = http.StatusNotFound
		}
	}
	// Pesapal expects its IPN acknowledgement shape.
	c.JSON(status, gin.H{
		"orderNotificationType":  n.OrderNotificationType,
		"orderTrackingId":        trackingID,
		"orderMerchantReference": ref,
		"status":                 status,
	})
}
