package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// Keys under which middleware stores values on the gin context
const (
	ContextRequestID = "request_id"
	ContextUserID    = "user_id"
	ContextUsername  = "username"
	ContextRole      = "role"
)

// Tags every request with an ID. A well-formed incoming X-Request-ID is kept
// so IDs can be followed across services; anything else is replaced.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(ContextRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
