package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the body of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func Error(c *gin.Context, status int, errName, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:   errName,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "ValidationError", message)
}

// ServerError never exposes the underlying cause.
func ServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "UnexpectedError", "Unexpected error occurred")
}
