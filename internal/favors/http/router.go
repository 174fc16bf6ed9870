package http

import "github.com/gin-gonic/gin"

// RegisterPublic registers routes that need no caller identity.
func (h *Handler) RegisterPublic(rg *gin.RouterGroup) {
	rg.GET("/requests/nearby", h.DiscoverNearby)
}

// Register registers the caller-scoped routes. writeMW wraps only the
// state-changing endpoints (rate limiting).
func (h *Handler) Register(rg *gin.RouterGroup, writeMW ...gin.HandlerFunc) {
	write := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, writeMW...), hf)
	}

	req := rg.Group("/requests")
	req.POST("", write(h.CreateRequest)...)
	req.GET("/my-open", h.ListMineOpen)
	req.GET("/my-completed", h.ListMineCompleted)
	req.GET("/i-solved", h.ListSolvedByMe)
	req.GET("/:id", h.GetRequest)
	req.PATCH("/:id/help", write(h.Claim)...)
	req.PATCH("/:id/complete", write(h.Confirm)...)
	req.GET("/:id/events", h.StreamRequestEvents)
}
