package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/idan55/makeamitsva-backend/internal/favors/domain"
)

func encodeRequest(req *domain.Request) map[string]interface{} {
	fields := map[string]interface{}{
		"id":               req.ID,
		"title":            req.Title,
		"description":      req.Description,
		"urgency":          string(req.Urgency),
		"lng":              strconv.FormatFloat(req.Location.Lng, 'f', -1, 64),
		"lat":              strconv.FormatFloat(req.Location.Lat, 'f', -1, 64),
		"created_by":       req.CreatedBy,
		"completed_by":     req.CompletedBy,
		"helper_confirmed": boolField(req.HelperConfirmed),
		"seeker_confirmed": boolField(req.SeekerConfirmed),
		"is_completed":     boolField(req.IsCompleted),
		"created_at":       req.CreatedAt.UnixMilli(),
		"updated_at":       req.UpdatedAt.UnixMilli(),
		"expires_at":       req.ExpiresAt.UnixMilli(),
	}
	if req.CompletedAt != nil {
		fields["completed_at"] = req.CompletedAt.UnixMilli()
	}
	return fields
}

func decodeRequest(f map[string]string) (*domain.Request, error) {
	lng, err := strconv.ParseFloat(f["lng"], 64)
	if err != nil {
		return nil, decodeErr(f["id"], "lng", err)
	}
	lat, err := strconv.ParseFloat(f["lat"], 64)
	if err != nil {
		return nil, decodeErr(f["id"], "lat", err)
	}
	createdAt, err := msField(f["created_at"])
	if err != nil {
		return nil, decodeErr(f["id"], "created_at", err)
	}
	expiresAt, err := msField(f["expires_at"])
	if err != nil {
		return nil, decodeErr(f["id"], "expires_at", err)
	}
	updatedAt, err := msField(f["updated_at"])
	if err != nil {
		updatedAt = createdAt
	}

	req := &domain.Request{
		ID:              f["id"],
		Title:           f["title"],
		Description:     f["description"],
		Urgency:         domain.Urgency(f["urgency"]),
		Location:        domain.Point{Lng: lng, Lat: lat},
		CreatedBy:       f["created_by"],
		CompletedBy:     f["completed_by"],
		HelperConfirmed: f["helper_confirmed"] == "1",
		SeekerConfirmed: f["seeker_confirmed"] == "1",
		IsCompleted:     f["is_completed"] == "1",
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		ExpiresAt:       expiresAt,
	}
	if v := f["completed_at"]; v != "" {
		if completedAt, err := msField(v); err == nil {
			req.CompletedAt = &completedAt
		}
	}
	if req.Urgency == "" {
		req.Urgency = domain.UrgencyNormal
	}
	return req, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func msField(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func decodeErr(id, field string, err error) error {
	return domain.Dependency(fmt.Sprintf("decode request %s field %s", id, field), err)
}
