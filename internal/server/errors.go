package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/packet-parser/internal/common"
)

// writeError maps err onto its HTTP status and a public message.
func writeError(c *gin.Context, err error) {
	status := common.HTTPStatus(err)
	body := gin.H{"error": common.PublicMessage(err), "request_id": GetRequestID(c)}
	var ae *common.AppError
	if errors.As(err, &ae) {
		body["code"] = ae.Code
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
