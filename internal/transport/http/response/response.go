package response

import "github.com/gin-gonic/gin"

const (
	MsgUploaded     = "File uploaded successfully"
	MsgSaved        = "CSV updated successfully"
	MsgSessionEnded = "Session ended, file deleted."
	MsgNoSession    = "No file uploaded for this session"
	MsgMissingField = "The required field is missing."
	MsgInvalidBody  = "invalid request payload"
)

type ErrorBody struct {
	Error string `json:"error"`
}

type MessageBody struct {
	Message string `json:"message"`
}

// OK writes data as the bare response body.
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

func Message(c *gin.Context, message string) {
	c.JSON(200, MessageBody{Message: message})
}

func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, ErrorBody{Error: message})
}
