package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"schoolfund/internal/models"
	"schoolfund/internal/notify"
	"schoolfund/internal/payfast"
	"schoolfund/internal/store"
	ws "schoolfund/internal/websocket"
)

type DonationHandler struct {
	Store      store.Donations
	Builder    *payfast.Builder
	Passphrase string
	// Validator is nil unless source validation is enabled in config. The
	// signature check always runs regardless.
	Validator  *payfast.SourceValidator
	Dispatcher notify.Dispatcher
	Hub        *ws.Hub
}

func NewDonationHandler(donations store.Donations, builder *payfast.Builder, passphrase string, validator *payfast.SourceValidator, dispatcher notify.Dispatcher, hub *ws.Hub) *DonationHandler {
	return &DonationHandler{
		Store:      donations,
		Builder:    builder,
		Passphrase: passphrase,
		Validator:  validator,
		Dispatcher: dispatcher,
		Hub:        hub,
	}
}

type CreateDonationRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	DonorName   string `json:"donor_name"`
	DonorEmail  string `json:"donor_email" binding:"omitempty,email"`
	DonorPhone  string `json:"donor_phone"`
	Company     string `json:"company"`
	Message     string `json:"message"`
}

// newReference generates the correlation key shared with the gateway.
func newReference() string {
	return "YE-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}

// CreateDonation records a pending donation and hands back the signed field
// set for the gateway redirect. The record stays pending until the gateway's
// server-to-server notification arrives; the browser's return page never
// confirms payment on its own.
func (h *DonationHandler) CreateDonation(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	donorName := req.DonorName
	if donorName == "" {
		donorName = "Anonymous"
	}

	pending, err := h.Store.CreatePending(c.Request.Context(), &models.Donation{
		Reference:   newReference(),
		AmountCents: req.AmountCents,
		DonorName:   donorName,
		DonorEmail:  req.DonorEmail,
		DonorPhone:  req.DonorPhone,
		Company:     req.Company,
		Message:     req.Message,
	})
	if err != nil {
		log.Println("Failed to create pending donation:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}

	fields, err := h.Builder.BuildPaymentRequest(intentFor(pending))
	if err != nil {
		var verr *payfast.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		log.Println("Failed to build payment request:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment gateway error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference":    pending.Reference,
		"process_url":  h.Builder.ProcessURL(),
		"fields":       fieldsJSON(fields),
		"redirect_url": "/api/donate/" + pending.Reference + "/redirect",
	})
}

// RedirectToGateway serves the auto-submitting form page that navigates the
// donor's browser to the hosted payment page. Only pending donations may be
// (re)submitted.
func (h *DonationHandler) RedirectToGateway(c *gin.Context) {
	ref := c.Param("reference")

	donation, err := h.Store.FindByReference(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Donation not found"})
			return
		}
		log.Println("Failed to load donation for redirect:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}
	if donation.Status != models.StatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "Donation is no longer pending", "status": donation.Status})
		return
	}

	fields, err := h.Builder.BuildPaymentRequest(intentFor(donation))
	if err != nil {
		log.Println("Failed to rebuild payment request:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment gateway error."})
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.Builder.RedirectHTML(fields)))
}

// HandlePaymentNotification is the gateway's ITN webhook. Order matters:
// authenticate first, then look up, then the idempotent transition, and only
// acknowledge once the record reflects the notification. A transient store
// failure is answered with a non-2xx so the gateway redelivers.
func (h *DonationHandler) HandlePaymentNotification(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable notification body"})
		return
	}

	notification, err := payfast.ParseNotification(string(rawBody))
	if err != nil {
		log.Println("Failed to parse gateway notification:", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification format"})
		return
	}

	// Signature mismatch means the message itself is untrusted. Distinct
	// from a FAILED payment status, which is a legitimate outcome.
	if !notification.Verify(h.Passphrase) {
		log.Println("AUDIT: rejected notification with invalid signature for reference:", notification.Reference)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	if h.Validator != nil {
		if !h.Validator.ValidOrigin(c.ClientIP()) {
			log.Println("AUDIT: rejected notification from unrecognized source:", c.ClientIP())
			c.JSON(http.StatusForbidden, gin.H{"error": "Unrecognized source"})
			return
		}
		if err := h.Validator.Confirm(c.Request.Context(), notification); err != nil {
			log.Println("AUDIT: gateway did not confirm notification:", err)
			c.JSON(http.StatusForbidden, gin.H{"error": "Unconfirmed notification"})
			return
		}
	}

	if notification.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Notification missing m_payment_id"})
		return
	}

	newStatus, known := notification.Status()
	if !known {
		// Unknown status values are acknowledged so the gateway stops
		// retrying, but nothing transitions.
		log.Println("Received unrecognized payment_status:", notification.PaymentStatus)
		c.JSON(http.StatusOK, gin.H{"status": "ok (ignored)"})
		return
	}

	donation, changed, err := h.Store.TransitionStatus(
		c.Request.Context(), notification.Reference, newStatus, notification.GatewayTxID, notification.RawBody,
	)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Never create a record from a notification; it must match
			// a previously created pending intent.
			log.Println("AUDIT: notification for unknown reference:", notification.Reference)
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown reference"})
			return
		}
		log.Println("Failed to reconcile notification:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if !changed {
		log.Printf("Duplicate or stale notification for %s (status stays %s)", donation.Reference, donation.Status)
		c.JSON(http.StatusOK, gin.H{"status": "ok (duplicate)"})
		return
	}

	// Best-effort side effects. Neither failure withholds the ack nor
	// rolls back the transition.
	if donation.Status == models.StatusCompleted {
		h.Dispatcher.NotifyDonor(donation)
		if h.Hub != nil {
			select {
			case h.Hub.BroadcastAlert <- ws.AlertFor(donation):
			default:
			}
		}
	}

	log.Printf("Donation %s reconciled to %s (gateway txn %s)", donation.Reference, donation.Status, notification.GatewayTxID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetDonation is the advisory status lookup behind the browser's
// success/cancel pages. Read-only.
func (h *DonationHandler) GetDonation(c *gin.Context) {
	donation, err := h.Store.FindByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Donation not found"})
			return
		}
		log.Println("Failed to get donation:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reference": donation.Reference,
		"amount":    payfast.FormatAmount(donation.AmountCents),
		"status":    donation.Status,
	})
}

// ListDonations returns the newest donations for the staff dashboard.
func (h *DonationHandler) ListDonations(c *gin.Context) {
	donations, err := h.Store.ListNewest(c.Request.Context(), 100)
	if err != nil {
		log.Println("Failed to list donations:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not fetch donations"})
		return
	}
	c.JSON(http.StatusOK, donations)
}

func intentFor(d *models.Donation) payfast.DonationIntent {
	return payfast.DonationIntent{
		Reference:   d.Reference,
		AmountCents: d.AmountCents,
		DonorName:   d.DonorName,
		DonorEmail:  d.DonorEmail,
		DonorPhone:  d.DonorPhone,
		Company:     d.Company,
		Message:     d.Message,
		DonationID:  d.ID,
	}
}

func fieldsJSON(fields payfast.FieldSet) []gin.H {
	out := make([]gin.H, 0, len(fields))
	for _, f := range fields {
		out = append(out, gin.H{"name": f.Name, "value": f.Value})
	}
	return out
}
