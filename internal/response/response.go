package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success wraps data in a success envelope.
func Success(message string, data interface{}) Response {
	if message == "" {
		message = "success"
	}
	return Response{
		Success: true,
		Message: message,
		Data:    data,
	}
}

// Error builds a failure envelope.
func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// JSON sends an envelope with the given status.
func JSON(c *gin.Context, statusCode int, resp Response) {
	c.JSON(statusCode, resp)
}

// SuccessJSON sends 200 with data.
func SuccessJSON(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, Success("", data))
}

// CreatedJSON sends 201 with data.
func CreatedJSON(c *gin.Context, message string, data interface{}) {
	JSON(c, http.StatusCreated, Success(message, data))
}

// ErrorJSON sends a failure envelope.
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	JSON(c, statusCode, Error(message))
}
