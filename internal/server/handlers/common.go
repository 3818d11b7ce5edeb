package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/server/sse"
)

// respondError writes an APIError in the OpenAI envelope with its status
func respondError(c *gin.Context, err *apierr.APIError) {
	c.JSON(err.Code, err.Envelope())
}

// newSSEWriter prepares the response for event streaming
func newSSEWriter(c *gin.Context) (*sse.Writer, error) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		return nil, err
	}
	writer.SetHeaders()
	c.Writer.WriteHeader(200)
	return writer, nil
}
