package http

import (
	"time"

	"github.com/idan55/makeamitsva-backend/internal/favors/service"
	"github.com/sirupsen/logrus"
)

// Handler serves the help-request endpoints.
type Handler struct {
	requests  *service.RequestService
	log       *logrus.Entry
	keepAlive time.Duration
}

func New(requests *service.RequestService, log *logrus.Entry) *Handler {
	return &Handler{
		requests:  requests,
		log:       log,
		keepAlive: 15 * time.Second,
	}
}

type createRequestBody struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Urgency     string   `json:"urgency"`
	Longitude   *float64 `json:"longitude"`
	Latitude    *float64 `json:"latitude"`
}
