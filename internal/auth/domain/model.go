package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserBanned   = errors.New("user is banned")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the identity record. Stars and CouponEarned are written only by
// the reward ledger.
type User struct {
	ID           string    `json:"id"`
	FirebaseUID  string    `json:"firebase_uid"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name"`
	ProfileImage string    `json:"profile_image,omitempty"`
	Role         string    `json:"role"`
	Stars        int       `json:"stars"`
	CouponEarned bool      `json:"coupon_earned"`
	IsBanned     bool      `json:"is_banned"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UpsertUser is what the identity provider tells us about the caller.
type UpsertUser struct {
	FirebaseUID  string
	Email        string
	Name         string
	ProfileImage string
}
