package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/senderauth/internal/domainauth/service"
	"github.com/jmerrifield20/senderauth/internal/identity"
	"github.com/jmerrifield20/senderauth/internal/provider"
)

// DomainHandler serves the domain authentication API for the account
// injected by identity.RequireAccount.
type DomainHandler struct {
	svc        *service.Service
	otpLimiter gin.HandlerFunc
	logger     *zap.Logger
}

// NewDomainHandler creates a DomainHandler.
func NewDomainHandler(svc *service.Service, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{svc: svc, logger: logger}
}

// SetOTPLimiter installs an extra limiter on the routes that send or check
// codes.
func (h *DomainHandler) SetOTPLimiter(mw gin.HandlerFunc) {
	h.otpLimiter = mw
}

// Register mounts the routes on rg. The group must already authenticate the
// account.
func (h *DomainHandler) Register(rg *gin.RouterGroup) {
	limited := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		if h.otpLimiter == nil {
			return []gin.HandlerFunc{hf}
		}
		return []gin.HandlerFunc{h.otpLimiter, hf}
	}

	rg.GET("/email/providers", h.ListProviders)

	d := rg.Group("/email/domains")
	{
		d.GET("", h.List)
		d.POST("", limited(h.Submit)...)
		d.GET("/domain-emails", h.ListMailboxes)
		d.GET("/:id", h.Get)
		d.POST("/:id/otp/resend", limited(h.Resend)...)
		d.POST("/:id/otp/verify", limited(h.Verify)...)
		d.POST("/:id/start-auth", h.StartAuth)
		d.POST("/:id/recheck-dns", h.Recheck)
		d.POST("/:id/provider", h.SetProvider)
		d.POST("/:id/disconnect", h.Disconnect)
	}
}

// List handles GET /email/domains.
func (h *DomainHandler) List(c *gin.Context) {
	rows, err := h.svc.List(c.Request.Context(), identity.AccountID(c))
	if err != nil {
		h.writeError(c, "list domains", err)
		return
	}
	c.JSON(http.StatusOK, toViews(rows))
}

// Get handles GET /email/domains/:id.
func (h *DomainHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), identity.AccountID(c), id)
	if err != nil {
		h.writeError(c, "get domain", err)
		return
	}
	c.JSON(http.StatusOK, toView(d))
}

// Submit handles POST /email/domains.
//
// Request body: {"email": "ops@example.com"}
func (h *DomainHandler) Submit(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email", "code": "invalid_input"})
		return
	}

	res, err := h.svc.SubmitMailbox(c.Request.Context(), identity.AccountID(c), req.Email, requester(c))
	if err != nil {
		h.writeError(c, "submit mailbox", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, toView(res.Domain))
}

// ListMailboxes handles GET /email/domains/domain-emails.
func (h *DomainHandler) ListMailboxes(c *gin.Context) {
	rows, err := h.svc.ListMailboxes(c.Request.Context(), identity.AccountID(c))
	if err != nil {
		h.logger.Error("list mailboxes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load domain emails"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Resend handles POST /email/domains/:id/otp/resend.
func (h *DomainHandler) Resend(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.svc.ResendOTP(c.Request.Context(), identity.AccountID(c), id, requester(c)); err != nil {
		h.writeError(c, "resend code", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Verify handles POST /email/domains/:id/otp/verify.
//
// Request body: {"code": "123456"}
func (h *DomainHandler) Verify(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid code.", "code": "otp_invalid"})
		return
	}
	d, err := h.svc.VerifyOTP(c.Request.Context(), identity.AccountID(c), id, req.Code)
	if err != nil {
		h.writeError(c, "verify code", err)
		return
	}
	c.JSON(http.StatusOK, toView(d))
}

// StartAuth handles POST /email/domains/:id/start-auth.
func (h *DomainHandler) StartAuth(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.svc.StartAuth(c.Request.Context(), identity.AccountID(c), id)
	if err != nil {
		h.writeError(c, "start authentication", err)
		return
	}
	c.JSON(http.StatusOK, toAuthView(res))
}

// Recheck handles POST /email/domains/:id/recheck-dns.
func (h *DomainHandler) Recheck(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.svc.Recheck(c.Request.Context(), identity.AccountID(c), id)
	if err != nil {
		h.writeError(c, "recheck dns", err)
		return
	}
	c.JSON(http.StatusOK, toAuthView(res))
}

// SetProvider handles POST /email/domains/:id/provider.
//
// Request body: {"providerId": "cloudflare"}
func (h *DomainHandler) SetProvider(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		ProviderID string `json:"providerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown providerId", "code": "unknown_provider"})
		return
	}
	d, err := h.svc.SetProvider(c.Request.Context(), identity.AccountID(c), id, req.ProviderID)
	if err != nil {
		h.writeError(c, "set provider", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "provider": d.Provider})
}

// Disconnect handles POST /email/domains/:id/disconnect.
func (h *DomainHandler) Disconnect(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	d, err := h.svc.Disconnect(c.Request.Context(), identity.AccountID(c), id)
	if err != nil {
		h.writeError(c, "disconnect", err)
		return
	}
	c.JSON(http.StatusOK, toView(d))
}

// ListProviders handles GET /email/providers.
func (h *DomainHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, provider.All())
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return uuid.Nil, false
	}
	return id, true
}

// requester names the account in verification mail.
func requester(c *gin.Context) string {
	if claims := identity.ClaimsFromCtx(c); claims != nil && claims.Email != "" {
		return claims.Email
	}
	return ""
}
