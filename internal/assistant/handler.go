package assistant

import (
	"encoding/base64"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zenro-academy/liveclass/pkg/response"
)

// AnalyzeRequest is the body for POST /proctoring/analyze.
type AnalyzeRequest struct {
	// Image is a base64 JPEG, optionally as a data URL.
	Image string `json:"image" binding:"required"`
}

// Handler serves the proctoring endpoint.
type Handler struct {
	assistant *Assistant
}

// NewHandler creates a proctoring handler.
func NewHandler(a *Assistant) *Handler {
	return &Handler{assistant: a}
}

// Analyze handles POST /proctoring/analyze.
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	encoded := req.Image
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(img) == 0 {
		response.BadRequest(c, "image must be base64 encoded")
		return
	}
	response.OK(c, h.assistant.Analyze(c.Request.Context(), img))
}
