package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse is the JSON envelope every API route answers with. Audio
// downloads are the exception and send raw bytes.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

func RespondSuccess(c *gin.Context, status int, data interface{}, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	c.JSON(status, APIResponse{Success: true, Data: data, Message: message, Code: status})
}

// RespondError aborts the handler chain. message is shown to clients, so
// it never carries provider or storage details.
func RespondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Data: gin.H{}, Message: message, Code: status})
}
