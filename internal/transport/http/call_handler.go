package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/platform/logging"
)

// CallHandler issues live-call credentials and upgrades browser calls.
type CallHandler struct {
	credentials call.CredentialSource
	upgrade     http.HandlerFunc
	logger      *logging.Logger
}

// NewCallHandler wires the credential source; upgrade may be nil when
// browser calls are disabled.
func NewCallHandler(credentials call.CredentialSource, upgrade http.HandlerFunc, logger *logging.Logger) *CallHandler {
	return &CallHandler{credentials: credentials, upgrade: upgrade, logger: logger}
}

func (h *CallHandler) RegisterRoutes(router *Router) {
	router.API.POST("/call/credential", h.Credential)
	if h.upgrade != nil {
		router.Engine.GET("/ws/call", gin.WrapF(h.upgrade))
	}
}

type CredentialResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	URL       string    `json:"url,omitempty"`
}

func (h *CallHandler) Credential(c *gin.Context) {
	if h.credentials == nil {
		RespondError(c, http.StatusServiceUnavailable, "live calls are not configured")
		return
	}
	cred, err := h.credentials.Credential(c.Request.Context())
	if err != nil {
		h.logger.ErrorTag("HTTP", "issuing call credential failed: %v", err)
		RespondError(c, http.StatusBadGateway, "could not start a call, try again")
		return
	}
	RespondSuccess(c, http.StatusOK, CredentialResponse{
		Token:     cred.Token,
		ExpiresAt: cred.ExpiresAt,
		URL:       cred.URL,
	}, "")
}
