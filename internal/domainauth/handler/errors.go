package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/domainauth/service"
)

// writeError maps service errors onto HTTP responses. Unknown errors are
// logged and reported as 500 without detail.
func (h *DomainHandler) writeError(c *gin.Context, op string, err error) {
	var pending *service.PendingConflictError
	switch {
	case errors.As(err, &pending):
		c.JSON(http.StatusConflict, gin.H{"error": pending.Error(), "code": "email_already_pending"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
	case errors.Is(err, service.ErrFreeMailbox):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Use a business email (no public providers)", "code": "free_mailbox"})
	case errors.Is(err, service.ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown providerId", "code": "unknown_provider"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
	case errors.Is(err, service.ErrOTPExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code expired. Resend a new one.", "code": "otp_expired"})
	case errors.Is(err, service.ErrOTPMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid code.", "code": "otp_invalid"})
	case errors.Is(err, service.ErrOTPLocked):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many incorrect codes. Resend a new one.", "code": "otp_locked"})
	case errors.Is(err, service.ErrDelivery):
		h.logger.Warn(op, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send verification email. Please try again."})
	case errors.Is(err, service.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": "Domain was updated by another request. Please retry.", "code": "concurrent_update"})
	case errors.Is(err, service.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "No verification is pending for this domain.", "code": "not_pending"})
	case errors.Is(err, service.ErrMailboxUnverified):
		c.JSON(http.StatusConflict, gin.H{"error": "Verify the mailbox before authenticating the domain.", "code": "mailbox_unverified"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
