package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/pkg/response"
)

// AdminHandler serves the operator API. Every route sits behind
// middleware.AdminRequired and the audit log.
type AdminHandler struct {
	keyService     *services.KeyService
	creditService  *services.CreditService
	authService    *services.AuthService
	chatLogService *services.ChatLogService
}

func NewAdminHandler(keys *services.KeyService, credits *services.CreditService, auth *services.AuthService, chatLogs *services.ChatLogService) *AdminHandler {
	return &AdminHandler{
		keyService:     keys,
		creditService:  credits,
		authService:    auth,
		chatLogService: chatLogs,
	}
}

type CreateKeyRequest struct {
	Label            string `json:"label" binding:"max=100"`
	Plan             string `json:"plan"`
	MonthlyCreditCap *int   `json:"monthlyCreditCap" binding:"omitempty,min=0"`
	CreditsRemaining *int   `json:"creditsRemaining" binding:"omitempty,min=0"`
}

type GrantCreditsRequest struct {
	APIKeyID string `json:"apiKeyId" binding:"required"`
	Delta    *int   `json:"delta" binding:"required"`
	Reason   string `json:"reason" binding:"max=100"`
}

type DomainLinkRequest struct {
	APIKeyID string `json:"apiKeyId" binding:"required"`
	Domain   string `json:"domain" binding:"required"`
}

type KeyModelRequest struct {
	KeyID string `json:"keyId" binding:"required"`
	Model string `json:"model" binding:"required"`
}

type KeyStatusRequest struct {
	KeyID  string `json:"keyId" binding:"required"`
	Status string `json:"status" binding:"required"`
}

// CreateKey provisions a standalone key. The raw token is only in this
// response.
// POST /api/admin/keys/create
func (h *AdminHandler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid payload")
		return
	}

	issued, err := h.keyService.CreateKey(c.Request.Context(), services.CreateKeyInput{
		Label:            req.Label,
		Plan:             req.Plan,
		MonthlyCreditCap: req.MonthlyCreditCap,
		Credits:          req.CreditsRemaining,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{
		"id":               issued.Key.ID,
		"key":              issued.RawKey,
		"plan":             issued.Key.Plan,
		"creditsRemaining": issued.Key.CreditsRemaining,
	})
}

// SetModel assigns the model a key is billed against
// POST /api/admin/keys/model
func (h *AdminHandler) SetModel(c *gin.Context) {
	var req KeyModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid payload")
		return
	}

	key, err := h.keyService.SetModel(c.Request.Context(), req.KeyID, req.Model)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"id": key.ID, "model": key.Model})
}

// SetStatus enables or disables a key
// POST /api/admin/keys/status
func (h *AdminHandler) SetStatus(c *gin.Context) {
	var req KeyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid payload")
		return
	}

	key, err := h.keyService.SetStatus(c.Request.Context(), req.KeyID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"id": key.ID, "status": key.Status})
}

// Ledger returns the latest ledger entries of a key with its balance.
// GET /api/admin/keys/:id/ledger
func (h *AdminHandler) Ledger(c *gin.Context) {
	ctx := c.Request.Context()
	keyID := c.Param("id")

	balance, err := h.creditService.Balance(ctx, keyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.creditService.Entries(ctx, keyID, 100)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"id":               keyID,
		"creditsRemaining": balance,
		"entries":          entries,
	})
}

// GrantCredits applies a signed adjustment to a key's balance.
// POST /api/admin/credits/grant
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	var req GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid payload")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = models.ReasonManualAdjustment
	}

	key, err := h.creditService.Grant(c.Request.Context(), req.APIKeyID, *req.Delta, reason,
		map[string]interface{}{"source": "admin_api"})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"id": key.ID, "creditsRemaining": key.CreditsRemaining})
}

// LinkDomain activates a binding, subject to the plan's domain limit.
// POST /api/admin/domains/link
func (h *AdminHandler) LinkDomain(c *gin.Context) {
	var req DomainLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid payload")
		return
	}

	binding, err := h.keyService.LinkDomain(c.Request.Context(), req.APIKeyID, req.Domain)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, bindingView(binding))
}

// UnlinkDomain revokes a binding.
// POST /api/admin/domains/unlink
func (h *AdminHandler) UnlinkDomain(c *gin.Context) {
	var req DomainLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid payload")
		return
	}

	binding, err := h.keyService.UnlinkDomain(c.Request.Context(), req.APIKeyID, req.Domain)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, bindingView(binding))
}

func bindingView(d *models.AllowedDomain) gin.H {
	return gin.H{"id": d.ID, "apiKeyId": d.APIKeyID, "domain": d.Domain, "status": d.Status}
}

// History returns the latest chat logs
// GET /api/admin/history
func (h *AdminHandler) History(c *gin.Context) {
	logs, err := h.chatLogService.History(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"logs": logs})
}

// Users lists accounts with their keys and bindings
// GET /api/admin/users
func (h *AdminHandler) Users(c *gin.Context) {
	users, err := h.authService.ListUsers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"users": users})
}
