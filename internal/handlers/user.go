package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/middleware"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/pkg/response"
)

// UserHandler serves the signed-in owner's keys and domains.
type UserHandler struct {
	keyService *services.KeyService
}

func NewUserHandler(keyService *services.KeyService) *UserHandler {
	return &UserHandler{keyService: keyService}
}

// ownerKey is an owner's view of a key. Key holds the retained plaintext
// when the deployment keeps one.
type ownerKey struct {
	*models.APIKey
	Key string `json:"key,omitempty"`
}

func newOwnerKey(k *models.APIKey) ownerKey {
	view := ownerKey{APIKey: k}
	if k.KeyToken != nil {
		view.Key = *k.KeyToken
	}
	return view
}

type AddDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// ListKeys returns the owner's keys with their bindings
// GET /api/user/keys
func (h *UserHandler) ListKeys(c *gin.Context) {
	keys, err := h.keyService.ListOwnerKeys(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]ownerKey, len(keys))
	for i := range keys {
		views[i] = newOwnerKey(&keys[i])
	}
	response.Success(c, gin.H{"keys": views})
}

// RotateKey replaces the token of the owner's first key
// POST /api/user/keys
func (h *UserHandler) RotateKey(c *gin.Context) {
	issued, err := h.keyService.RotateOwnerKey(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"key": newOwnerKey(issued.Key), "raw_key": issued.RawKey})
}

// AddDomain binds a site to the owner's key
// POST /api/user/domains
func (h *UserHandler) AddDomain(c *gin.Context) {
	var req AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, services.ErrInvalidDomain.Message)
		return
	}

	binding, err := h.keyService.AddOwnerDomain(c.Request.Context(), middleware.GetUserID(c), req.Domain)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, binding)
}

// RemoveDomain revokes one of the owner's bindings
// DELETE /api/user/domains/:id
func (h *UserHandler) RemoveDomain(c *gin.Context) {
	if err := h.keyService.RemoveOwnerDomain(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"id": c.Param("id"), "status": models.DomainStatusRevoked})
}
