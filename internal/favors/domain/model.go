package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	MaxTitleLen       = 10
	MaxDescriptionLen = 200
	DefaultTTL        = 24 * time.Hour

	// Redis GEO accepts latitudes in this band only.
	MaxLatitude  = 85.05112878
	MaxLongitude = 180.0
)

// State is derived from the persisted flags.
type State string

const (
	StateOpen    State = "OPEN"
	StateClaimed State = "CLAIMED"
	StateClosed  State = "CLOSED"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

func ParseUrgency(s string) (Urgency, bool) {
	switch Urgency(s) {
	case "":
		return UrgencyNormal, true
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return Urgency(s), true
	}
	return "", false
}

// Point is a WGS84 position. JSON form is GeoJSON: {"type":"Point","coordinates":[lng,lat]}.
type Point struct {
	Lng float64
	Lat float64
}

type geoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: [2]float64{p.Lng, p.Lat}})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var g geoJSONPoint
	if err := json.Unmarshal(b, &g); err != nil {
		return err
	}
	if g.Type != "" && g.Type != "Point" {
		return fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	p.Lng, p.Lat = g.Coordinates[0], g.Coordinates[1]
	return nil
}

func (p Point) Validate() error {
	if !finite(p.Lng) {
		return Invalid("longitude", "must be a number")
	}
	if !finite(p.Lat) {
		return Invalid("latitude", "must be a number")
	}
	if p.Lng < -MaxLongitude || p.Lng > MaxLongitude {
		return Invalid("longitude", "must be between -180 and 180")
	}
	if p.Lat < -MaxLatitude || p.Lat > MaxLatitude {
		return Invalid("latitude", "must be between -85.05112878 and 85.05112878")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Request is a help request. CreatedBy and CompletedBy are weak user references.
type Request struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Urgency         Urgency    `json:"urgency"`
	Location        Point      `json:"location"`
	CreatedBy       string     `json:"createdBy"`
	CompletedBy     string     `json:"completedBy,omitempty"`
	HelperConfirmed bool       `json:"helperConfirmed"`
	SeekerConfirmed bool       `json:"seekerConfirmed"`
	IsCompleted     bool       `json:"isCompleted"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ExpiresAt       time.Time  `json:"expiresAt"`
}

func (r *Request) State() State {
	switch {
	case r.IsCompleted:
		return StateClosed
	case r.CompletedBy != "":
		return StateClaimed
	default:
		return StateOpen
	}
}

// Expired reports whether the request is past its expiry at now.
func (r *Request) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// UserSummary is the expanded identity joined onto requests.
type UserSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
	Stars        int    `json:"stars"`
	Deleted      bool   `json:"deleted,omitempty"`
}

// PlaceholderUser stands in for a user that no longer exists.
func PlaceholderUser(id string) UserSummary {
	return UserSummary{ID: id, Name: "deleted user", Deleted: true}
}

// RequestView is a request with creator and helper expanded.
type RequestView struct {
	*Request
	State   State        `json:"state"`
	Creator UserSummary  `json:"creator"`
	Helper  *UserSummary `json:"helper,omitempty"`
}

// NearbyRequest is a discovery hit, Distance in meters.
type NearbyRequest struct {
	*Request
	Distance float64     `json:"distance"`
	Creator  UserSummary `json:"creator"`
}

// CreateRequestInput is the untrusted input to CreateRequest.
type CreateRequestInput struct {
	Title       string
	Description string
	Urgency     string
	Location    Point
	CreatorID   string
}

// NearbyQuery is a discovery query; RadiusMeters is bounded by the caller.
type NearbyQuery struct {
	Center       Point
	RadiusMeters float64
}

// ClaimOutcome and ConfirmOutcome describe what an atomic transition did.
type ClaimOutcome string

const (
	ClaimApplied   ClaimOutcome = "claimed"
	ClaimUnchanged ClaimOutcome = "unchanged"
)

type ConfirmOutcome string

const (
	ConfirmClosed    ConfirmOutcome = "closed"
	ConfirmRecorded  ConfirmOutcome = "confirmed"
	ConfirmUnchanged ConfirmOutcome = "unchanged"
)
