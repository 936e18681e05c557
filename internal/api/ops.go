package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"subscription-api/internal/response"
	"subscription-api/internal/sweeper"
)

// CheckExpirations runs one sweep pass on demand.
// POST /subscriptions/cron/check-expirations
func (h *Handler) CheckExpirations(c *gin.Context) {
	res, err := h.Sweeper.RunOnce(c.Request.Context())
	if errors.Is(err, sweeper.ErrSweepInProgress) {
		response.ErrorJSON(c, http.StatusConflict, "A sweep is already running")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Expiry sweep failed")
		response.JSON(c, http.StatusInternalServerError, response.Response{
			Success: false,
			Message: "Sweep failed",
			Data:    res,
		})
		return
	}
	response.SuccessJSON(c, res)
}
