package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	started     time.Time
	providers   func() []string
	activeCalls func() int
}

// NewHealthHandler takes optional probes for the configured provider chain
// and the number of live browser calls.
func NewHealthHandler(providers func() []string, activeCalls func() int) *HealthHandler {
	return &HealthHandler{started: time.Now(), providers: providers, activeCalls: activeCalls}
}

func (h *HealthHandler) RegisterRoutes(router *Router) {
	router.API.GET("/health", h.Health)
}

type HealthResponse struct {
	Status      string   `json:"status"`
	Uptime      string   `json:"uptime"`
	Providers   []string `json:"providers"`
	ActiveCalls int      `json:"activeCalls"`
}

func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Providers: []string{},
	}
	if h.providers != nil {
		resp.Providers = h.providers()
	}
	if h.activeCalls != nil {
		resp.ActiveCalls = h.activeCalls()
	}
	RespondSuccess(c, http.StatusOK, resp, "")
}
