package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/middleware"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/pkg/logger"
	"github.com/monkbot/gateway/pkg/response"
)

// maxPluginBody caps the completion payload read from WordPress sites.
const maxPluginBody = 2 << 20

// PluginHandler serves the routes called by the WordPress plugin. They
// answer with the bare {"message"} shape instead of the envelope.
type PluginHandler struct {
	auth       *services.PluginAuthService
	completion *services.CompletionService
}

func NewPluginHandler(auth *services.PluginAuthService, completion *services.CompletionService) *PluginHandler {
	return &PluginHandler{auth: auth, completion: completion}
}

func (h *PluginHandler) authorize(c *gin.Context) (*services.AuthorizedKey, error) {
	return h.auth.Authorize(c.Request.Context(),
		c.GetHeader("Authorization"),
		c.GetHeader(middleware.DomainHeader),
	)
}

// Validate lets a site check its key and domain before spending a turn.
// POST /api/v1/plugin/validate
func (h *PluginHandler) Validate(c *gin.Context) {
	auth, err := h.authorize(c)
	if err != nil {
		logUnexpected(c, "[Plugin] validate failed", err)
		appErr := response.AsAppError(err)
		c.JSON(appErr.HTTPStatus, gin.H{"allowed": false, "message": appErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed":           true,
		"message":           "OK",
		"plan":              auth.Key.Plan,
		"credits_remaining": auth.Key.CreditsRemaining,
	})
}

// ChatCompletions proxies one metered completion and returns the upstream
// body as is.
// POST /api/v1/plugin/chat-completions
func (h *PluginHandler) ChatCompletions(c *gin.Context) {
	auth, err := h.authorize(c)
	if err != nil {
		logUnexpected(c, "[Plugin] authorization failed", err)
		response.MessageError(c, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPluginBody))
	if err != nil {
		response.MessageError(c, services.ErrInvalidPayload)
		return
	}

	out, err := h.completion.Complete(c.Request.Context(), auth, body)
	if err != nil {
		logUnexpected(c, "[Plugin] completion failed", err)
		response.MessageError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", out)
}

// logUnexpected logs errors that are not one of the expected denials;
// those are answered as a generic 500.
func logUnexpected(c *gin.Context, msg string, err error) {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return
	}
	l := logger.FromContext(c)
	l.Error().Err(err).Msg(msg)
}
