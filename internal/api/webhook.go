package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"subscription-api/internal/response"
)

// maxWebhookBody bounds provider payloads.
const maxWebhookBody = 1 << 20

// ProviderWebhook receives a payment provider callback.
// POST /subscriptions/webhooks/:provider
func (h *Handler) ProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")

	// Signature checks need the exact bytes, so the body is read raw.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.ErrorJSON(c, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		log.Warn().Err(err).Str("provider", provider).Msg("Failed to read webhook body")
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to read body")
		return
	}

	res := h.Dispatcher.Dispatch(c.Request.Context(), provider, body, c.Request.Header)
	resp := response.Response{
		Success: res.StatusCode < http.StatusBadRequest,
		Message: res.Message,
	}
	if res.Outcome != nil {
		resp.Data = res.Outcome
	}
	response.JSON(c, res.StatusCode, resp)
}
