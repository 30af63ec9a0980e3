package httptransport

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voice-server-go/internal/domain/ledger"
	"voice-server-go/internal/domain/ledger/repository"
	"voice-server-go/internal/platform/logging"
)

type LedgerHandler struct {
	repo    repository.LedgerRepository
	settler *ledger.Settler
	price   float64
	now     func() time.Time
	logger  *logging.Logger
}

// NewLedgerHandler uses price as the default token market price when a
// request does not name one.
func NewLedgerHandler(repo repository.LedgerRepository, settler *ledger.Settler, price float64, logger *logging.Logger) *LedgerHandler {
	return &LedgerHandler{repo: repo, settler: settler, price: price, now: time.Now, logger: logger}
}

func (h *LedgerHandler) RegisterRoutes(router *Router) {
	group := router.API.Group("/ledger")
	group.GET("/reward", h.Reward)
	group.GET("/contributions/:id", h.Contribution)
	group.GET("/settlements", h.Settlements)
	group.POST("/settle", h.Settle)
}

type RewardResponse struct {
	ledger.RewardCalculation
	NextSettlementInDays int `json:"nextSettlementInDays"`
}

// Reward evaluates the batch formula for ?minutes= at ?price=.
func (h *LedgerHandler) Reward(c *gin.Context) {
	minutes, err := strconv.ParseFloat(c.Query("minutes"), 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "minutes must be a number")
		return
	}
	price, ok := h.priceParam(c, c.Query("price"))
	if !ok {
		return
	}
	calc, err := ledger.CalculateReward(minutes, price)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	days, err := h.settler.DaysUntilNext(c.Request.Context(), h.now())
	if err != nil {
		h.logger.ErrorTag("LEDGER", "reading last settlement failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	RespondSuccess(c, http.StatusOK, RewardResponse{RewardCalculation: calc, NextSettlementInDays: days}, "")
}

type ContributionResponse struct {
	ContributionID      string  `json:"contributionId"`
	TotalMinutes        float64 `json:"totalMinutes"`
	Events              int64   `json:"events"`
	ProportionalCashUSD float64 `json:"proportionalCashUsd"`
}

func (h *LedgerHandler) Contribution(c *gin.Context) {
	total, err := h.repo.ContributionUsage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.ErrorTag("LEDGER", "reading usage failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	RespondSuccess(c, http.StatusOK, ContributionResponse{
		ContributionID:      c.Param("id"),
		TotalMinutes:        total.TotalSeconds / 60,
		Events:              total.Events,
		ProportionalCashUSD: total.ProportionalCashUSD,
	}, "")
}

func (h *LedgerHandler) Settlements(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	settlements, err := h.repo.ListSettlements(c.Request.Context(), limit)
	if err != nil {
		h.logger.ErrorTag("LEDGER", "listing settlements failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	out := make([]ledger.SettlementReport, 0, len(settlements))
	for _, s := range settlements {
		out = append(out, ledger.SettlementReport{
			ID:            s.ID,
			SettledAt:     s.SettledAt,
			VoicesSettled: s.VoicesSettled,
			TotalTokens:   s.TotalTokens,
			TotalCashUSD:  s.TotalCashUSD,
			Lines:         s.Lines,
		})
	}
	RespondSuccess(c, http.StatusOK, out, "")
}

type SettleRequest struct {
	MarketPriceUSD float64 `json:"marketPriceUsd"`
	Force          bool    `json:"force"`
}

func (h *LedgerHandler) Settle(c *gin.Context) {
	var req SettleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid settle request")
			return
		}
	}
	price := req.MarketPriceUSD
	if price == 0 {
		price = h.price
	}

	report, err := h.settler.Settle(c.Request.Context(), h.now(), price, req.Force)
	switch {
	case errors.Is(err, ledger.ErrSettlementNotDue):
		RespondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidPrice):
		RespondError(c, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.ErrorTag("LEDGER", "settlement failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "settlement failed")
	default:
		RespondSuccess(c, http.StatusOK, report, "")
	}
}

func (h *LedgerHandler) priceParam(c *gin.Context, raw string) (float64, bool) {
	if raw == "" {
		return h.price, true
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "price must be a number")
		return 0, false
	}
	return price, true
}
