package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/idan55/makeamitsva-backend/internal/auth"
	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
)

// CreateRequest creates an OPEN request at the given location for the caller.
func (h *Handler) CreateRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, domain.Invalid("body", "invalid request body"))
		return
	}
	if body.Longitude == nil || body.Latitude == nil {
		h.writeError(c, domain.Invalid("location", "longitude and latitude are required"))
		return
	}

	req, err := h.requests.CreateRequest(c.Request.Context(), domain.CreateRequestInput{
		Title:       body.Title,
		Description: body.Description,
		Urgency:     body.Urgency,
		Location:    domain.Point{Lng: *body.Longitude, Lat: *body.Latitude},
		CreatorID:   auth.UserID(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Request created successfully",
		"request": req,
	})
}

// DiscoverNearby lists open requests around ?longitude&latitude within ?distanceInMeters.
func (h *Handler) DiscoverNearby(c *gin.Context) {
	lng, err := queryFloat(c, "longitude")
	if err != nil {
		h.writeError(c, err)
		return
	}
	lat, err := queryFloat(c, "latitude")
	if err != nil {
		h.writeError(c, err)
		return
	}
	radius, err := queryFloat(c, "distanceInMeters")
	if err != nil {
		h.writeError(c, err)
		return
	}

	hits, err := h.requests.DiscoverNearby(c.Request.Context(), domain.NearbyQuery{
		Center:       domain.Point{Lng: lng, Lat: lat},
		RadiusMeters: radius,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Requests fetched successfully",
		"requests": hits,
	})
}

func (h *Handler) GetRequest(c *gin.Context) {
	view, err := h.requests.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": view})
}

func (h *Handler) ListMineOpen(c *gin.Context) {
	views, err := h.requests.ListMineOpen(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "My open requests fetched successfully",
		"requests": views,
	})
}

func (h *Handler) ListMineCompleted(c *gin.Context) {
	views, err := h.requests.ListMineCompleted(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "My completed requests fetched successfully",
		"requests": views,
	})
}

func (h *Handler) ListSolvedByMe(c *gin.Context) {
	views, err := h.requests.ListSolvedByMe(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Requests fetched successfully",
		"requests": views,
	})
}

// Claim marks the caller as the helper of the request.
func (h *Handler) Claim(c *gin.Context) {
	view, err := h.requests.Claim(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "You are now marked as the helper for this request",
		"request": view,
	})
}

// Confirm records the creator's confirmation; the request closes once both sides confirmed.
func (h *Handler) Confirm(c *gin.Context) {
	view, err := h.requests.Confirm(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	msg := "Confirmation recorded"
	if view.State == domain.StateClosed {
		msg = "Request marked as completed"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"request": view,
	})
}

func queryFloat(c *gin.Context, name string) (float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, domain.Invalid(name, "is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, domain.Invalid(name, "must be a number")
	}
	return v, nil
}
